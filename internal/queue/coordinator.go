// Package queue owns the ticket lifecycle of a single-server walk-in queue:
// enrollment, calling the next ticket, completing and abandoning service.
//
// Waiting order is arrival order (ticket number). The position stored on a
// ticket is the rank it had at enrollment and is never rewritten; the live
// rank is always derived from the current waiting list.
package queue

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"walkin-queue/internal/errs"
	"walkin-queue/internal/models"
)

// TicketStore is the record-access contract the coordinator depends on.
// Every mutating method is a single atomic unit in the backing store.
type TicketStore interface {
	// Enroll reads and increments the ticket counter, counts waiting
	// tickets for the initial position and inserts the ticket.
	Enroll(ctx context.Context, t models.NewTicket) (*models.Ticket, error)
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	// ListByStatus returns tickets in arrival order.
	ListByStatus(ctx context.Context, status models.TicketStatus) ([]models.Ticket, error)
	// ClaimNext completes the ticket being served, if any, then moves the
	// earliest waiting ticket to being_served and records it as current.
	// Returns nil when nobody is waiting.
	ClaimNext(ctx context.Context, now time.Time) (*models.Ticket, error)
	// CompleteCurrent returns nil when no ticket is being served.
	CompleteCurrent(ctx context.Context, now time.Time) (*models.Ticket, error)
	// Abandon fails with a NotFoundError unless the ticket is waiting.
	Abandon(ctx context.Context, id string) (*models.Ticket, error)
	Settings(ctx context.Context) (*models.QueueSettings, error)
}

// Notifier receives lifecycle events that should reach visitors. It never
// reports failures back: delivery is best effort.
type Notifier interface {
	Confirmation(ctx context.Context, t models.Ticket, position int)
	YourTurn(ctx context.Context, t models.Ticket)
	// Proximity receives the waiting list with live ranks in Position.
	Proximity(ctx context.Context, waiting []models.Ticket)
}

// Coordinator mutates tickets and queue settings.
type Coordinator struct {
	store    TicketStore
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
	onChange func()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator over store. notifier may be nil.
func New(store TicketStore, notifier Notifier, log *slog.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		store:    store,
		notifier: notifier,
		log:      log.With("component", "queue"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers fn to run after every state change.
func (c *Coordinator) OnChange(fn func()) {
	c.onChange = fn
}

// Enroll validates contact data and appends a new ticket to the queue.
func (c *Coordinator) Enroll(ctx context.Context, name, phone, email string) (*models.Ticket, error) {
	name, phone, email = strings.TrimSpace(name), strings.TrimSpace(phone), strings.TrimSpace(email)
	if err := validateEnrollment(name, phone, email); err != nil {
		return nil, err
	}

	ticket, err := c.store.Enroll(ctx, models.NewTicket{
		ID:        uuid.NewString(),
		Name:      name,
		Phone:     phone,
		Email:     email,
		CreatedAt: c.now().UTC(),
	})
	if err != nil {
		c.log.Error("enroll failed", "error", err)
		return nil, errs.Store("enroll", err)
	}

	c.log.Info("ticket enrolled", "ticket_id", ticket.ID, "number", ticket.TicketNumber, "position", ticket.Position)
	if c.notifier != nil {
		c.notifier.Confirmation(ctx, *ticket, ticket.Position+1)
	}
	c.changed()
	return ticket, nil
}

// CallNext moves the earliest waiting ticket to being_served. It returns
// nil, nil when the queue is empty.
func (c *Coordinator) CallNext(ctx context.Context) (*models.Ticket, error) {
	ticket, err := c.store.ClaimNext(ctx, c.now().UTC())
	if err != nil {
		c.log.Error("call next failed", "error", err)
		return nil, errs.Store("call next", err)
	}
	if ticket == nil {
		return nil, nil
	}

	c.log.Info("ticket called", "ticket_id", ticket.ID, "number", ticket.TicketNumber)
	if c.notifier != nil {
		c.notifier.YourTurn(ctx, *ticket)
	}
	c.notifyUpcoming(ctx)
	c.changed()
	return ticket, nil
}

// CompleteCurrentService finishes the ticket being served. It returns
// nil, nil when there is nothing to complete.
func (c *Coordinator) CompleteCurrentService(ctx context.Context) (*models.Ticket, error) {
	ticket, err := c.store.CompleteCurrent(ctx, c.now().UTC())
	if err != nil {
		c.log.Error("complete failed", "error", err)
		return nil, errs.Store("complete", err)
	}
	if ticket == nil {
		return nil, nil
	}

	c.log.Info("service completed", "ticket_id", ticket.ID, "number", ticket.TicketNumber)
	c.notifyUpcoming(ctx)
	c.changed()
	return ticket, nil
}

// Abandon removes a waiting ticket from the queue.
func (c *Coordinator) Abandon(ctx context.Context, ticketID string) error {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return &errs.ValidationError{Errors: []error{errRequired("client_id")}}
	}

	current, err := c.store.GetTicket(ctx, ticketID)
	if err != nil {
		return errs.Store("abandon", err)
	}
	if !models.CanTransition(current.Status, models.StatusAbandoned) {
		return errs.NotFound("waiting ticket", ticketID)
	}

	// The store re-checks the status so a concurrent call cannot win twice.
	if _, err := c.store.Abandon(ctx, ticketID); err != nil {
		return errs.Store("abandon", err)
	}

	c.log.Info("ticket abandoned", "ticket_id", ticketID, "number", current.TicketNumber)
	c.notifyUpcoming(ctx)
	c.changed()
	return nil
}

// ListWaiting returns waiting tickets in rank order with Position set to
// the live rank.
func (c *Coordinator) ListWaiting(ctx context.Context) ([]models.Ticket, error) {
	tickets, err := c.store.ListByStatus(ctx, models.StatusWaiting)
	if err != nil {
		return nil, errs.Store("list waiting", err)
	}
	return rank(tickets), nil
}

// GetCurrent returns the ticket being served, or nil.
func (c *Coordinator) GetCurrent(ctx context.Context) (*models.Ticket, error) {
	settings, err := c.store.Settings(ctx)
	if err != nil {
		return nil, errs.Store("settings", err)
	}
	if settings.CurrentTicketID == "" {
		return nil, nil
	}
	ticket, err := c.store.GetTicket(ctx, settings.CurrentTicketID)
	if err != nil {
		return nil, errs.Store("current ticket", err)
	}
	return ticket, nil
}

// Snapshot returns the waiting list and the current ticket together.
func (c *Coordinator) Snapshot(ctx context.Context) (*models.QueueSnapshot, error) {
	waiting, err := c.ListWaiting(ctx)
	if err != nil {
		return nil, err
	}
	current, err := c.GetCurrent(ctx)
	if err != nil {
		return nil, err
	}
	return &models.QueueSnapshot{Clients: waiting, CurrentTicket: current}, nil
}

// notifyUpcoming re-evaluates proximity notifications. The ticket
// transition has already been committed, so failures here are only logged.
func (c *Coordinator) notifyUpcoming(ctx context.Context) {
	if c.notifier == nil {
		return
	}
	waiting, err := c.ListWaiting(ctx)
	if err != nil {
		c.log.Warn("proximity check skipped", "error", err)
		return
	}
	c.notifier.Proximity(ctx, waiting)
}

func (c *Coordinator) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

func rank(tickets []models.Ticket) []models.Ticket {
	for i := range tickets {
		tickets[i].Position = i
	}
	return tickets
}

func validateEnrollment(name, phone, email string) error {
	v := &errs.ValidationError{}
	if name == "" {
		v.Add(errRequired("name"))
	}
	if phone == "" {
		v.Add(errRequired("phone"))
	}
	if email == "" {
		v.Add(errRequired("email"))
	} else if _, err := mail.ParseAddress(email); err != nil {
		v.Addf("email %q is invalid", email)
	}
	return v.OrNil()
}

type requiredError string

func (f requiredError) Error() string { return string(f) + " is required" }

func errRequired(field string) error { return requiredError(field) }
