// Package memstore is a volatile TicketStore used in tests and when the
// service runs without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"walkin-queue/internal/errs"
	"walkin-queue/internal/models"
)

// Store keeps tickets and settings in memory. One mutex serializes every
// operation, which makes each method atomic.
type Store struct {
	mu       sync.Mutex
	tickets  map[string]*models.Ticket
	settings models.QueueSettings
}

// New creates an empty store
func New() *Store {
	return &Store{tickets: make(map[string]*models.Ticket)}
}

func (s *Store) Enroll(_ context.Context, nt models.NewTicket) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tickets[nt.ID]; exists {
		return nil, errs.Store("enroll", errDuplicateID(nt.ID))
	}

	ticket := &models.Ticket{
		ID:           nt.ID,
		TicketNumber: s.settings.LastTicketNumber + 1,
		Name:         nt.Name,
		Phone:        nt.Phone,
		Email:        nt.Email,
		Status:       models.StatusWaiting,
		Position:     s.countLocked(models.StatusWaiting),
		CreatedAt:    nt.CreatedAt,
	}
	s.tickets[ticket.ID] = ticket
	s.settings.LastTicketNumber = ticket.TicketNumber
	s.settings.UpdatedAt = nt.CreatedAt

	out := *ticket
	return &out, nil
}

func (s *Store) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return nil, errs.NotFound("ticket", id)
	}
	out := *t
	return &out, nil
}

func (s *Store) ListByStatus(_ context.Context, status models.TicketStatus) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(status), nil
}

func (s *Store) ClaimNext(_ context.Context, now time.Time) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	waiting := s.listLocked(models.StatusWaiting)
	if len(waiting) == 0 {
		return nil, nil
	}

	s.completeLocked(now)

	next := s.tickets[waiting[0].ID]
	calledAt := now
	next.Status = models.StatusBeingServed
	next.CalledAt = &calledAt
	s.settings.CurrentTicketID = next.ID
	s.settings.UpdatedAt = now

	out := *next
	return &out, nil
}

func (s *Store) CompleteCurrent(_ context.Context, now time.Time) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completeLocked(now), nil
}

func (s *Store) Abandon(_ context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok || t.Status != models.StatusWaiting {
		return nil, errs.NotFound("waiting ticket", id)
	}
	t.Status = models.StatusAbandoned

	out := *t
	return &out, nil
}

func (s *Store) Settings(_ context.Context) (*models.QueueSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.settings
	return &out, nil
}

func (s *Store) completeLocked(now time.Time) *models.Ticket {
	if s.settings.CurrentTicketID == "" {
		return nil
	}
	t, ok := s.tickets[s.settings.CurrentTicketID]
	s.settings.CurrentTicketID = ""
	s.settings.UpdatedAt = now
	if !ok || t.Status != models.StatusBeingServed {
		return nil
	}

	completedAt := now
	t.Status = models.StatusCompleted
	t.CompletedAt = &completedAt

	out := *t
	return &out
}

func (s *Store) listLocked(status models.TicketStatus) []models.Ticket {
	tickets := []models.Ticket{}
	for _, t := range s.tickets {
		if t.Status == status {
			tickets = append(tickets, *t)
		}
	}
	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].TicketNumber < tickets[j].TicketNumber
	})
	return tickets
}

func (s *Store) countLocked(status models.TicketStatus) int {
	n := 0
	for _, t := range s.tickets {
		if t.Status == status {
			n++
		}
	}
	return n
}

type errDuplicateID string

func (e errDuplicateID) Error() string { return "duplicate ticket id " + string(e) }
