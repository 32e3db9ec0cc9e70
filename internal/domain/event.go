package domain

import "time"

// EventKind names the stream an event record belongs to.
type EventKind string

const (
	EventTransaction     EventKind = "transaction"
	EventCameraDetection EventKind = "camera_detection"
	EventLogin           EventKind = "login"
	EventLogout          EventKind = "logout"
)

// EventRecord is a single timestamped observation in an event stream.
// Two streams (e.g. transactions and camera detections) are correlated
// pairwise; ownership of each stream belongs to its producing collaborator.
type EventRecord struct {
	EventID     string    `json:"eventId"`
	SubjectRef  string    `json:"subjectRef"`
	Kind        EventKind `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	LocationRef string    `json:"locationRef,omitempty"`
	Confidence  float64   `json:"confidence"`
}

// MatchClass classifies the outcome of correlating an anchor event against
// a candidate stream.
type MatchClass string

const (
	// ClassMatched means exactly one credible counterpart was found in window.
	ClassMatched MatchClass = "MATCHED"

	// ClassGhost means no counterpart existed in the window at all, e.g.
	// a transaction with zero camera activity at the register.
	ClassGhost MatchClass = "GHOST"

	// ClassLowConfidence means the best counterpart fell below the
	// configured confidence floor.
	ClassLowConfidence MatchClass = "LOW_CONFIDENCE"

	// ClassMultiCandidate means several independent counterparts crowded the
	// stricter sub-window ("extra person present" style detections).
	ClassMultiCandidate MatchClass = "MULTI_CANDIDATE"
)

// CorrelationResult is the outcome of matching one anchor event against a
// candidate stream. Created per anchor; immutable; consumed to build
// Signals and evidence.
type CorrelationResult struct {
	Anchor         EventRecord   `json:"anchor"`
	Matched        *EventRecord  `json:"matched,omitempty"`
	TimeDelta      time.Duration `json:"timeDelta"`
	Classification MatchClass    `json:"classification"`

	// CandidatesInWindow is the number of candidates that survived the
	// window filter, kept for evidence.
	CandidatesInWindow int `json:"candidatesInWindow"`
}
