package appointment

import (
	"context"
	"fmt"
	"time"
)

// Catalog yields the ordered bookable slot labels for a day.
type Catalog interface {
	Slots(date time.Time) []string
}

// FixedCatalog offers the same slots every day.
type FixedCatalog []string

// DefaultCatalog is six morning and six afternoon half-hour slots.
var DefaultCatalog = FixedCatalog{
	"09:00", "09:30", "10:00", "10:30", "11:00", "11:30",
	"14:00", "14:30", "15:00", "15:30", "16:00", "16:30",
}

func (c FixedCatalog) Slots(time.Time) []string {
	out := make([]string, len(c))
	copy(out, c)
	return out
}

func inCatalog(c Catalog, date time.Time, slot string) bool {
	for _, s := range c.Slots(date) {
		if s == slot {
			return true
		}
	}
	return false
}

// Resolver computes free slots from the catalog and the store.
type Resolver struct {
	catalog Catalog
	repo    Repository
}

func NewResolver(catalog Catalog, repo Repository) *Resolver {
	return &Resolver{catalog: catalog, repo: repo}
}

// FreeSlots returns the catalog for date minus slots held by pending or
// approved appointments, in catalog order. It applies no date policy.
func (r *Resolver) FreeSlots(ctx context.Context, date time.Time) ([]string, error) {
	date = normalizeDate(date)

	taken, err := r.repo.TakenSlots(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load taken slots: %w", err)
	}

	held := make(map[string]struct{}, len(taken))
	for _, s := range taken {
		held[s] = struct{}{}
	}

	all := r.catalog.Slots(date)
	free := make([]string, 0, len(all))
	for _, s := range all {
		if _, ok := held[s]; !ok {
			free = append(free, s)
		}
	}
	return free, nil
}
