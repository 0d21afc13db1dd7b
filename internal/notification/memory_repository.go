package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/apperr"
)

// MemoryRepository is a Repository backed by a map, for tests and local runs.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Notification
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[uuid.UUID]*Notification)}
}

func (r *MemoryRepository) Create(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[n.ID]; exists {
		return fmt.Errorf("notification %s already exists", n.ID)
	}
	cp := *n
	r.items[n.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("notification")
	}
	cp := *n
	return &cp, nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit int) ([]Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Notification
	for _, n := range r.items {
		if n.PatientID == patientID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) MarkChannelSent(_ context.Context, id uuid.UUID, ch Channel, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.items[id]
	if !ok {
		return apperr.NotFound("notification")
	}
	mid := messageID
	switch ch {
	case ChannelSMS:
		if !n.SMSSent {
			n.SMSSent = true
			n.SMSMessageID = &mid
		}
	case ChannelEmail:
		if !n.EmailSent {
			n.EmailSent = true
			n.EmailMessageID = &mid
		}
	default:
		return fmt.Errorf("unknown channel %q", ch)
	}
	return nil
}

func (r *MemoryRepository) MarkRead(_ context.Context, id, patientID uuid.UUID) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.items[id]
	if !ok || n.PatientID != patientID {
		return nil, apperr.NotFound("notification")
	}
	n.Read = true
	cp := *n
	return &cp, nil
}

func (r *MemoryRepository) UnreadCount(_ context.Context, patientID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, n := range r.items {
		if n.PatientID == patientID && !n.Read {
			count++
		}
	}
	return count, nil
}

// MemoryContacts is a ContactDirectory backed by a map.
type MemoryContacts struct {
	mu       sync.RWMutex
	contacts map[uuid.UUID]Contact
}

func NewMemoryContacts() *MemoryContacts {
	return &MemoryContacts{contacts: make(map[uuid.UUID]Contact)}
}

func (c *MemoryContacts) Put(patientID uuid.UUID, contact Contact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contacts[patientID] = contact
}

func (c *MemoryContacts) Contact(_ context.Context, patientID uuid.UUID) (Contact, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	contact, ok := c.contacts[patientID]
	if !ok {
		return Contact{}, apperr.NotFound("patient")
	}
	return contact, nil
}
