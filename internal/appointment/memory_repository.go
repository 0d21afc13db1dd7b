package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/apperr"
)

// MemoryRepository is a Repository over typed records guarded by one mutex.
// The write lock makes check-and-insert atomic.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Appointment
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items: make(map[uuid.UUID]*Appointment),
		now:   time.Now,
	}
}

// holder returns the appointment occupying (date, slot), ignoring exclude.
func (r *MemoryRepository) holder(date time.Time, slot string, exclude uuid.UUID) *Appointment {
	for _, a := range r.items {
		if a.ID != exclude && a.Status.HoldsSlot() && a.Date.Equal(date) && a.TimeSlot == slot {
			return a
		}
	}
	return nil
}

func (r *MemoryRepository) Create(_ context.Context, in CreateInput) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	date := normalizeDate(in.Date)
	if r.holder(date, in.TimeSlot, uuid.Nil) != nil {
		return nil, apperr.ErrSlotConflict
	}

	now := r.now().UTC()
	a := &Appointment{
		ID:        uuid.New(),
		PatientID: in.PatientID,
		Service:   in.Service,
		Date:      date,
		TimeSlot:  in.TimeSlot,
		Status:    StatusPending,
		Notes:     in.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.items[a.ID] = a

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) Reschedule(_ context.Context, id uuid.UUID, date time.Time, slot string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("appointment")
	}
	if a.Status != StatusPending {
		return nil, apperr.Transition("appointment", string(a.Status), "reschedule")
	}

	date = normalizeDate(date)
	if r.holder(date, slot, id) != nil {
		return nil, apperr.ErrSlotConflict
	}

	a.Date = date
	a.TimeSlot = slot
	a.UpdatedAt = r.now().UTC()

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) Transition(_ context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok || a.Status != from {
		return nil, apperr.Transition("appointment", string(from), "move to "+string(to))
	}

	a.Status = to
	if reason != nil {
		s := *reason
		a.StatusReason = &s
	}
	a.UpdatedAt = r.now().UTC()

	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("appointment")
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, filter ListFilter, today time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	today = normalizeDate(today)

	var out []Appointment
	for _, a := range r.items {
		if a.PatientID != patientID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.Upcoming != nil {
			upcoming := a.Status.HoldsSlot() && !a.Date.Before(today)
			if upcoming != *filter.Upcoming {
				continue
			}
		}
		out = append(out, *a)
	}

	ascending := filter.Upcoming != nil && *filter.Upcoming
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date) == ascending
		}
		return (out[i].TimeSlot < out[j].TimeSlot) == ascending
	})

	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) TakenSlots(_ context.Context, date time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	date = normalizeDate(date)

	var taken []string
	for _, a := range r.items {
		if a.Status.HoldsSlot() && a.Date.Equal(date) {
			taken = append(taken, a.TimeSlot)
		}
	}
	sort.Strings(taken)
	return taken, nil
}

func (r *MemoryRepository) FindStalePending(_ context.Context, before time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	before = normalizeDate(before)

	var out []Appointment
	for _, a := range r.items {
		if a.Status == StatusPending && a.Date.Before(before) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
