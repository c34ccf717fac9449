package models

import "time"

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

// Ticket status constants
const (
	StatusWaiting     TicketStatus = "waiting"
	StatusBeingServed TicketStatus = "being_served"
	StatusCompleted   TicketStatus = "completed"
	StatusAbandoned   TicketStatus = "abandoned"
)

// Transition is an allowed edge of the ticket state machine.
type Transition struct {
	From TicketStatus
	To   TicketStatus
}

// ValidTransitions lists every allowed ticket transition. Completed and
// abandoned are terminal.
var ValidTransitions = []Transition{
	{From: StatusWaiting, To: StatusBeingServed},
	{From: StatusBeingServed, To: StatusCompleted},
	{From: StatusWaiting, To: StatusAbandoned},
}

// CanTransition reports whether a ticket may move from one status to another.
func CanTransition(from, to TicketStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Ticket represents one enrollment in the queue
type Ticket struct {
	ID           string       `json:"id"`
	TicketNumber int64        `json:"ticket_number"`
	Name         string       `json:"name"`
	Phone        string       `json:"phone"`
	Email        string       `json:"email"`
	Status       TicketStatus `json:"status"`
	Position     int          `json:"position"`
	CreatedAt    time.Time    `json:"created_at"`
	CalledAt     *time.Time   `json:"called_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// QueueSettings is the singleton row holding queue-wide state.
type QueueSettings struct {
	CurrentTicketID  string    `json:"current_ticket_id,omitempty"`
	LastTicketNumber int64     `json:"last_ticket_number"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewTicket carries validated enrollment data into the store.
type NewTicket struct {
	ID        string
	Name      string
	Phone     string
	Email     string
	CreatedAt time.Time
}

// EnrollRequest represents an enrollment request
type EnrollRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// AbandonRequest represents an abandonment request
type AbandonRequest struct {
	ClientID string `json:"client_id"`
}

// QueueSnapshot is the waiting list together with the ticket being served.
type QueueSnapshot struct {
	Clients       []Ticket `json:"clients"`
	CurrentTicket *Ticket  `json:"current_ticket"`
}
