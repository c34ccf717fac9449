package models

import "time"

// JobStatus is the delivery state of a notification job.
type JobStatus string

// Job status constants
const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Channel is an outbound notification medium.
type Channel string

// Channel constants
const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// NotificationKind identifies which template produced a job.
type NotificationKind string

// Notification kinds
const (
	KindConfirmation   NotificationKind = "confirmation"
	KindAlmostYourTurn NotificationKind = "almost_your_turn"
	KindYourTurn       NotificationKind = "your_turn"
	KindBatch          NotificationKind = "batch"
)

// DefaultMaxAttempts is used when a job request does not set one.
const DefaultMaxAttempts = 3

// Message is a single outbound notification as handed to a gateway.
type Message struct {
	Channel Channel  `json:"channel"`
	To      []string `json:"to"`
	From    string   `json:"from,omitempty"`
	Subject string   `json:"subject,omitempty"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// NotificationJob is one scheduled unit of outbound notification work.
type NotificationJob struct {
	ID          string           `json:"id"`
	Seq         int64            `json:"seq"`
	Kind        NotificationKind `json:"kind"`
	TicketID    string           `json:"ticket_id,omitempty"`
	Message                      // embedded so the job serializes flat
	Status      JobStatus        `json:"status"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	Priority    int              `json:"priority"`
	CreatedAt   time.Time        `json:"created_at"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// JobRequest describes a job to enqueue.
type JobRequest struct {
	Kind        NotificationKind
	TicketID    string
	Message     Message
	Priority    int
	MaxAttempts int
}

// Stats holds notification job counts
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// BatchMessage is one entry of a batch enqueue request.
type BatchMessage struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// BatchRequest represents a batch notification submission
type BatchRequest struct {
	Emails   []BatchMessage `json:"emails"`
	Priority int            `json:"priority,omitempty"`
}

// TestNotificationRequest asks for one rendered template to be sent to the
// given contact, outside of any queue event.
type TestNotificationRequest struct {
	Type         string `json:"type"`
	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
	Name         string `json:"name"`
	TicketNumber int64  `json:"ticket_number,omitempty"`
	Position     int    `json:"position,omitempty"`
}
