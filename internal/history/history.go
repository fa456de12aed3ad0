// Package history holds the archive completed trips are moved into. The
// live store only ever deletes a trip as part of archiving it here.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/CvmiloM/TeLlevoAPP/internal/models"
)

// ArchivedTrip is a completed trip together with its final roster.
type ArchivedTrip struct {
	Trip        models.Trip
	Roster      []models.RosterEntry
	CompletedAt time.Time
}

// Archive persists completed trips. ArchiveTrip must be idempotent: an
// interrupted completion re-runs it with the same trip ID.
type Archive interface {
	ArchiveTrip(ctx context.Context, t *models.Trip, roster []models.RosterEntry, completedAt time.Time) error
	TripsByDriver(ctx context.Context, driverID string) ([]ArchivedTrip, error)
}

// MemoryArchive keeps archived trips in memory for tests and local runs.
type MemoryArchive struct {
	mu    sync.RWMutex
	trips map[string]ArchivedTrip
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{trips: make(map[string]ArchivedTrip)}
}

func (m *MemoryArchive) ArchiveTrip(ctx context.Context, t *models.Trip, roster []models.RosterEntry, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; ok {
		return nil
	}
	m.trips[t.ID] = ArchivedTrip{Trip: *t, Roster: roster, CompletedAt: completedAt}
	return nil
}

func (m *MemoryArchive) TripsByDriver(ctx context.Context, driverID string) ([]ArchivedTrip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ArchivedTrip
	for _, at := range m.trips {
		if at.Trip.DriverID == driverID {
			out = append(out, at)
		}
	}
	return out, nil
}
