package taskrunner

// Status is the lifecycle of a TaskExecution.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// TaskExecution is the durable per-session run record.
type TaskExecution struct {
	TaskID      string  `json:"taskId"`
	SessionID   string  `json:"sessionId"`
	Prompt      string  `json:"prompt"`
	Status      Status  `json:"status"`
	StartedAt   int64   `json:"startedAt"`
	CompletedAt *int64  `json:"completedAt,omitempty"`
	Error       *string `json:"error,omitempty"`
	Viewed      bool    `json:"viewed"`
	EventCount  int     `json:"eventCount"`
}

// HasUnread reports whether the execution reached a terminal status the
// user has not looked at yet.
func (t TaskExecution) HasUnread() bool {
	return (t.Status == StatusCompleted || t.Status == StatusError) && !t.Viewed
}

// StatusSummary is the shape returned by GetAllStatus.
type StatusSummary struct {
	TaskID    string  `json:"taskId"`
	Status    Status  `json:"status"`
	HasUnread bool    `json:"hasUnread"`
	Error     *string `json:"error,omitempty"`
}
