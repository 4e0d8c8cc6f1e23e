package scan

import "time"

// Operator identifies the authenticated staff member attributed in the
// audit trail of every movement.
type Operator struct {
	ID   string `json:"operator_id"`
	Name string `json:"operator_name"`
}

// Request is the outbound payload for one submission attempt. Built fresh
// per submission and never mutated afterwards.
type Request struct {
	Code         string       `json:"qr_token"`
	OperatorID   string       `json:"operator_id"`
	OperatorName string       `json:"operator_name"`
	Location     string       `json:"location"`
	Device       string       `json:"device"`
	Mode         MovementMode `json:"movement_mode"`
}

// Student is the identity the authority resolves from a code.
type Student struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Grade    string `json:"grade"`
	Class    string `json:"class"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// Stamp is the server-assigned date and time of a granted movement.
type Stamp struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// Result is the outcome of one submission. Exactly one variant is populated:
// a success carries the student payload, a failure carries Error.
type Result struct {
	Success           bool         `json:"success"`
	Movement          MovementMode `json:"movement_type,omitempty"`
	Student           *Student     `json:"student,omitempty"`
	Timestamp         *Stamp       `json:"timestamp,omitempty"`
	ParentsNotified   int          `json:"parents_notified,omitempty"`
	NotificationsSent []string     `json:"notifications_sent,omitempty"`
	Error             string       `json:"error,omitempty"`
	At                time.Time    `json:"at"`
}

// Event is the queue envelope published after every completed submission,
// consumed by the relay that journals movements.
type Event struct {
	ID           string       `json:"id"`
	Code         string       `json:"code"`
	OperatorID   string       `json:"operator_id"`
	OperatorName string       `json:"operator_name"`
	Location     string       `json:"location"`
	Device       string       `json:"device"`
	Mode         MovementMode `json:"mode"`
	Result       Result       `json:"result"`
}
