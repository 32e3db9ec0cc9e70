package domain

import "time"

// ThrottleState is the per-subject alert cooldown record, the sole piece of
// cross-call mutable state in the core. It must be updated atomically with
// the alert decision (check-and-set); two concurrent analyses for the same
// subject must never both decide "not throttled".
type ThrottleState struct {
	SubjectID      string    `json:"subjectId"`
	TenantID       string    `json:"tenantId,omitempty"`
	LastAlertAt    time.Time `json:"lastAlertAt"`
	AlertsInWindow int       `json:"alertsInWindow"`
}

// CoolingDown reports whether the subject is inside its cooldown window.
func (s ThrottleState) CoolingDown(now time.Time, window time.Duration) bool {
	return !s.LastAlertAt.IsZero() && now.Sub(s.LastAlertAt) < window
}

// AlertDecision is the throttle gate's verdict for one analysis run.
type AlertDecision struct {
	Allow     bool      `json:"allow"`
	Throttled bool      `json:"throttled"`
	RiskLevel RiskLevel `json:"riskLevel"`
	NextFree  time.Time `json:"nextFree,omitempty"` // when the cooldown ends, if throttled

	// AlertsInWindow counts alert-worthy evaluations for the subject inside
	// the current window, including suppressed ones. Zero when the gate has
	// no counter attached.
	AlertsInWindow int `json:"alertsInWindow,omitempty"`
}

// Alert is the persisted record of a fired (or suppressed) alert. Delivery
// transport is a downstream concern; the bus alert topic is the hand-off.
type Alert struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId,omitempty"`
	SubjectID   string    `json:"subjectId"`
	RiskLevel   RiskLevel `json:"riskLevel"`
	Score       float64   `json:"score"`
	Throttled   bool      `json:"throttled"`
	PackageID   string    `json:"packageId,omitempty"`
	TriggeredAt time.Time `json:"triggeredAt"`
}
