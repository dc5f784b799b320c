package sender

import "time"

type Status string

const (
	StatusSending  Status = "sending"
	StatusDeleting Status = "deleting"
	StatusWaiting  Status = "waiting"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// MessageSentinel stands in for the file name when a group's text message fails.
const MessageSentinel = "(mensagem)"

type ItemError struct {
	File  string `json:"file"`
	Group string `json:"group"`
	Error string `json:"error"`
}

// Progress is one run's state. Observers only ever see copies.
type Progress struct {
	RunID        string      `json:"run_id"`
	Total        int         `json:"total"`
	Sent         int         `json:"sent"`
	CurrentFile  string      `json:"current_file"`
	CurrentGroup string      `json:"current_group"`
	Status       Status      `json:"status"`
	Errors       []ItemError `json:"errors"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at,omitempty"`
}

func (p *Progress) Snapshot() Progress {
	cp := *p
	cp.Errors = append([]ItemError{}, p.Errors...)
	return cp
}
