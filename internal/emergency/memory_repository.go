package emergency

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointments/internal/apperr"
)

type MemoryRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Record
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items: make(map[uuid.UUID]*Record),
		now:   time.Now,
	}
}

func (r *MemoryRepository) Create(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := r.now().UTC()
	if rec.ReportedAt.IsZero() {
		rec.ReportedAt = now
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	cp := *rec
	r.items[rec.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("emergency record")
	}
	cp := *rec
	return &cp, nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit int) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Record
	for _, rec := range r.items {
		if rec.PatientID == patientID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportedAt.After(out[j].ReportedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListActive(_ context.Context, limit int) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Record
	for _, rec := range r.items {
		if !rec.Status.Terminal() {
			out = append(out, *rec)
		}
	}
	sortFeed(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) Transition(_ context.Context, id uuid.UUID, from Status, c Change) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("emergency record")
	}
	if rec.Status != from {
		return nil, apperr.Transition("emergency record", string(rec.Status), "move to "+string(c.To))
	}

	rec.Status = c.To
	if c.Priority != nil {
		rec.Priority = *c.Priority
	}
	if c.HandledBy != nil {
		rec.HandledBy = c.HandledBy
	}
	if c.Resolution != nil {
		rec.Resolution = c.Resolution
	}
	if c.FollowUp != nil {
		rec.FollowUp = c.FollowUp
	}
	if c.ResolvedAt != nil {
		rec.ResolvedAt = c.ResolvedAt
	}
	rec.UpdatedAt = r.now().UTC()

	cp := *rec
	return &cp, nil
}

// sortFeed orders by priority rank, then oldest report first.
func sortFeed(out []Record) {
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.rank(), out[j].Priority.rank(); ri != rj {
			return ri < rj
		}
		return out[i].ReportedAt.Before(out[j].ReportedAt)
	})
}
