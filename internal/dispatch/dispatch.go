// Package dispatch decides which visitors to notify and turns each
// notification into one job per contact channel.
//
// Proximity notifications are recomputed from scratch after every queue
// change and nothing records who was already told, so a visitor who stays
// in the window is notified again: delivery is at-least-once.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"walkin-queue/internal/errs"
	"walkin-queue/internal/models"
)

// ProximityWindow is how many waiting ranks receive "almost your turn".
const ProximityWindow = 3

// Target is a waiting ticket inside the proximity window.
type Target struct {
	Ticket      models.Ticket
	PeopleAhead int
}

// ProximityTargets picks the tickets at ranks 0..ProximityWindow-1 of a
// waiting list already in rank order.
func ProximityTargets(waiting []models.Ticket) []Target {
	n := len(waiting)
	if n > ProximityWindow {
		n = ProximityWindow
	}
	targets := make([]Target, 0, n)
	for rank := 0; rank < n; rank++ {
		targets = append(targets, Target{Ticket: waiting[rank], PeopleAhead: rank})
	}
	return targets
}

// Enqueuer accepts jobs for asynchronous delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, req models.JobRequest) (string, error)
}

// Dispatcher turns queue events into notification jobs.
type Dispatcher struct {
	jobs      Enqueuer
	templates Templates
	log       *slog.Logger
}

// New creates a dispatcher
func New(jobs Enqueuer, templates Templates, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{jobs: jobs, templates: templates, log: log.With("component", "dispatch")}
}

func (d *Dispatcher) Confirmation(ctx context.Context, t models.Ticket, position int) {
	d.Notify(ctx, t, d.templates.Confirmation(t.Name, t.TicketNumber, position))
}

func (d *Dispatcher) YourTurn(ctx context.Context, t models.Ticket) {
	d.Notify(ctx, t, d.templates.YourTurn(t.Name))
}

func (d *Dispatcher) Proximity(ctx context.Context, waiting []models.Ticket) {
	for _, target := range ProximityTargets(waiting) {
		d.Notify(ctx, target.Ticket, d.templates.AlmostYourTurn(target.Ticket.Name, target.PeopleAhead))
		d.log.Info("visitor close to being called",
			"ticket_id", target.Ticket.ID, "number", target.Ticket.TicketNumber, "people_ahead", target.PeopleAhead)
	}
}

// Notify enqueues n once per channel the ticket has contact data for. The
// channels are handled concurrently and a failure on one is logged without
// affecting the other.
func (d *Dispatcher) Notify(ctx context.Context, t models.Ticket, n Notification) {
	var g errgroup.Group
	for _, req := range Requests(t, n) {
		req := req
		g.Go(func() error {
			if _, err := d.jobs.Enqueue(ctx, req); err != nil {
				d.log.Error("notification not scheduled",
					"ticket_id", t.ID, "kind", req.Kind, "channel", req.Message.Channel, "error", err)
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Defaults for test sends that leave the ticket fields out.
const (
	testTicketNumber = 123
	testPosition     = 1
	testPeopleAhead  = 3
)

// testKinds maps accepted template names to notification kinds. The
// camel-case names are kept for older admin clients.
var testKinds = map[string]models.NotificationKind{
	"confirmation":                    models.KindConfirmation,
	string(models.KindAlmostYourTurn): models.KindAlmostYourTurn,
	"almostYourTurn":                  models.KindAlmostYourTurn,
	string(models.KindYourTurn):       models.KindYourTurn,
	"notification":                    models.KindYourTurn,
}

// SendTest renders the requested template for an ad-hoc contact and
// enqueues it on every channel the contact has. It returns the job ids.
func (d *Dispatcher) SendTest(ctx context.Context, req models.TestNotificationRequest) ([]string, error) {
	const op = "dispatch.SendTest"

	v := &errs.ValidationError{}
	kind, ok := testKinds[req.Type]
	if !ok {
		v.Addf("unknown notification type %q", req.Type)
	}
	if req.Email == "" {
		v.Addf("email is required")
	}
	if req.Name == "" {
		v.Addf("name is required")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	number := req.TicketNumber
	if number == 0 {
		number = testTicketNumber
	}
	var n Notification
	switch kind {
	case models.KindConfirmation:
		position := req.Position
		if position == 0 {
			position = testPosition
		}
		n = d.templates.Confirmation(req.Name, number, position)
	case models.KindAlmostYourTurn:
		ahead := req.Position
		if ahead == 0 {
			ahead = testPeopleAhead
		}
		n = d.templates.AlmostYourTurn(req.Name, ahead)
	default:
		n = d.templates.YourTurn(req.Name)
	}

	t := models.Ticket{Name: req.Name, Email: req.Email, Phone: req.Phone, TicketNumber: number}
	ids := []string{}
	for _, jr := range Requests(t, n) {
		id, err := d.jobs.Enqueue(ctx, jr)
		if err != nil {
			return ids, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	d.log.Info("test notification queued", "kind", kind, "jobs", len(ids))
	return ids, nil
}

// Requests expands n into job requests for the ticket's channels.
func Requests(t models.Ticket, n Notification) []models.JobRequest {
	reqs := []models.JobRequest{}
	if t.Email != "" {
		reqs = append(reqs, models.JobRequest{
			Kind:     n.Kind,
			TicketID: t.ID,
			Priority: n.Priority,
			Message: models.Message{
				Channel: models.ChannelEmail,
				To:      []string{t.Email},
				Subject: n.Subject,
				HTML:    n.HTML,
				Text:    n.Text,
			},
		})
	}
	if t.Phone != "" && n.SMS != "" {
		reqs = append(reqs, models.JobRequest{
			Kind:     n.Kind,
			TicketID: t.ID,
			Priority: n.Priority,
			Message: models.Message{
				Channel: models.ChannelSMS,
				To:      []string{t.Phone},
				Text:    n.SMS,
			},
		})
	}
	return reqs
}

// BatchRequests converts a batch submission into job requests. A missing
// priority defaults to 1.
func BatchRequests(batch models.BatchRequest) []models.JobRequest {
	priority := batch.Priority
	if priority == 0 {
		priority = 1
	}
	reqs := make([]models.JobRequest, 0, len(batch.Emails))
	for _, m := range batch.Emails {
		reqs = append(reqs, models.JobRequest{
			Kind:     models.KindBatch,
			Priority: priority,
			Message: models.Message{
				Channel: models.ChannelEmail,
				To:      m.To,
				Subject: m.Subject,
				HTML:    m.HTML,
				Text:    m.Text,
			},
		})
	}
	return reqs
}
