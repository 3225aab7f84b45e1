package models

import "time"

// TaskState is the four-stage lifecycle every Task moves through exactly
// once (§3). RESPONSE_RECEIVED is terminal.
type TaskState string

const (
	TaskRequestSent      TaskState = "REQUEST_SENT"
	TaskRequestReceived  TaskState = "REQUEST_RECEIVED"
	TaskResponseSent     TaskState = "RESPONSE_SENT"
	TaskResponseReceived TaskState = "RESPONSE_RECEIVED"
)

// next reports the state a task transitions to from s, or ("", false) if s
// is terminal or unrecognized.
func (s TaskState) next() (TaskState, bool) {
	switch s {
	case TaskRequestSent:
		return TaskRequestReceived, true
	case TaskRequestReceived:
		return TaskResponseSent, true
	case TaskResponseSent:
		return TaskResponseReceived, true
	default:
		return "", false
	}
}

// CanAdvanceTo reports whether transitioning from s to next is a legal move
// in the task state machine.
func (s TaskState) CanAdvanceTo(next TaskState) bool {
	want, ok := s.next()
	return ok && want == next
}

// Task is one unit of per-domain work belonging to exactly one scan. Tasks
// are never mutated after RESPONSE_RECEIVED except for deletion or
// duplicate pruning (§3).
type Task struct {
	TaskID string    `json:"task_id" bson:"task_id"`
	ScanID string    `json:"scan_id" bson:"scan_id"`
	Domain string    `json:"domain" bson:"domain"`
	State  TaskState `json:"task_state" bson:"task_state"`

	RequestSent      time.Time  `json:"task_timestamp_request_sent" bson:"task_timestamp_request_sent"`
	RequestReceived  *time.Time `json:"task_timestamp_request_received,omitempty" bson:"task_timestamp_request_received,omitempty"`
	ResponseSent     *time.Time `json:"task_timestamp_response_sent,omitempty" bson:"task_timestamp_response_sent,omitempty"`
	ResponseReceived *time.Time `json:"task_timestamp_response_received,omitempty" bson:"task_timestamp_response_received,omitempty"`

	ScanConfig     ScanConfig     `json:"scan_config" bson:"scan_config"`
	AnalyzerConfig AnalyzerConfig `json:"analyzer_config" bson:"analyzer_config"`

	// AnalyzerName is the queue this task was published to.
	AnalyzerName string `json:"analyzer_name" bson:"analyzer_name"`

	// Rank attaches the domain's position in its source top-sites list, if
	// one was known at reply time (§4.9 Reply handling step 2).
	Rank *int `json:"rank,omitempty" bson:"rank,omitempty"`
}

// AnalyzerConfig is the analyzer-specific block copied onto a task in
// addition to the scan-wide ScanConfig: forced login-page candidates for
// ground-truth/rescan scan types, and the idp scope restriction.
type AnalyzerConfig struct {
	ForcedCandidates []string `json:"forced_candidates,omitempty" bson:"forced_candidates,omitempty"`
	IdPScope         []string `json:"idp_scope,omitempty" bson:"idp_scope,omitempty"`
}

// IsStuck reports whether a non-terminal task has been in flight longer
// than budget, making it eligible for rescan (§3).
func (t Task) IsStuck(now time.Time, budget time.Duration) bool {
	if t.State == TaskResponseReceived {
		return false
	}
	return now.Sub(t.RequestSent) > budget
}
