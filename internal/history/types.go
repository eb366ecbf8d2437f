package history

import "time"

// QueryRecord is one persisted query.
type QueryRecord struct {
	ID            int64         `json:"id"`
	ExecutionID   string        `json:"execution_id,omitempty"`
	Input         string        `json:"input"`
	Cancelled     bool          `json:"cancelled"`
	Runtime       time.Duration `json:"runtime"`
	Timestamp     time.Time     `json:"timestamp"`
	ActivatedItem string        `json:"activated_item,omitempty"`
}

// DayCount is the number of activations on one local calendar day.
type DayCount struct {
	Day   time.Time `json:"day"`
	Count int       `json:"count"`
}

// HandlerRuntime aggregates the recorded runtimes of one handler.
type HandlerRuntime struct {
	Handler    string        `json:"handler"`
	Executions int           `json:"executions"`
	Average    time.Duration `json:"average"`
}
