// Package offline keeps a local last-known-good copy of each user's active
// trip and reconciles it against the live store. When a live subscription
// cannot be established within a bounded attempt, the cached copy is served
// read-only; once live data arrives it overwrites the cache, including
// overwriting to absent.
package offline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/CvmiloM/TeLlevoAPP/internal/models"
	"github.com/CvmiloM/TeLlevoAPP/internal/observability"
	"github.com/CvmiloM/TeLlevoAPP/internal/store"
)

// CachedTrip is the offline slot: the reference plus the trip snapshot
// needed to draw the route without connectivity.
type CachedTrip struct {
	Ref     models.ActiveTripRef `json:"ref"`
	Trip    *models.Trip         `json:"trip,omitempty"`
	SavedAt time.Time            `json:"saved_at"`
}

// Cache is the on-device persistent slot, one per user.
type Cache interface {
	Get(userID string) (CachedTrip, bool)
	Put(userID string, ct CachedTrip)
	Clear(userID string)
}

// MemoryCache is the in-process Cache used by tests and the server-side
// session layer.
type MemoryCache struct {
	mu    sync.RWMutex
	slots map[string]CachedTrip
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{slots: make(map[string]CachedTrip)}
}

func (m *MemoryCache) Get(userID string) (CachedTrip, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ct, ok := m.slots[userID]
	return ct, ok
}

func (m *MemoryCache) Put(userID string, ct CachedTrip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[userID] = ct
}

func (m *MemoryCache) Clear(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, userID)
}

// View is one rendering of a user's active trip. Stale means it came from
// the cache and mutating operations must not be offered against it. A nil
// Ref with no error is the unassigned state, not a failure.
type View struct {
	Ref   *models.ActiveTripRef
	Trip  *models.Trip
	Stale bool
}

// Reconciler arbitrates between the live subscription and the cache.
type Reconciler struct {
	Store   store.Store
	Cache   Cache
	Attempt time.Duration // bound on establishing the live subscription
	Logger  *slog.Logger

	Now func() time.Time
}

func NewReconciler(st store.Store, cache Cache, attempt time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{Store: st, Cache: cache, Attempt: attempt, Logger: logger, Now: time.Now}
}

// Feed is an open active-trip view stream. Close releases the underlying
// subscription; it must be called when the owning session ends.
type Feed struct {
	Updates <-chan View
	Stale   bool
	Close   func()
}

// Subscribe opens the live feed for userID, falling back to the cached copy
// when the live subscription cannot deliver its first snapshot within the
// attempt bound. The fallback feed carries exactly one stale view and is
// then closed.
func (r *Reconciler) Subscribe(ctx context.Context, userID string) (*Feed, error) {
	path := store.ActiveTripPath(userID)
	snaps, cancel, err := r.Store.SubscribeValue(ctx, path)
	if err == nil {
		select {
		case first, ok := <-snaps:
			if ok {
				return r.liveFeed(ctx, userID, first, snaps, cancel), nil
			}
		case <-time.After(r.attempt()):
			cancel()
		case <-ctx.Done():
			cancel()
			return nil, ctx.Err()
		}
	} else {
		r.logger().Warn("live subscription unavailable", "user_id", userID, "error", err)
	}
	return r.cachedFeed(userID)
}

func (r *Reconciler) liveFeed(ctx context.Context, userID string, first store.Snapshot, snaps <-chan store.Snapshot, cancel func()) *Feed {
	out := make(chan View, 1)
	out <- r.reconcile(ctx, userID, first)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				select {
				case out <- r.reconcile(ctx, userID, snap):
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return &Feed{
		Updates: out,
		Close: func() {
			once.Do(func() {
				cancel()
				close(done)
			})
		},
	}
}

// reconcile converts a live snapshot into a View and mirrors it into the
// cache. Server-side absence overwrites the cache to absent: the unassigned
// state is authoritative, not an error.
func (r *Reconciler) reconcile(ctx context.Context, userID string, snap store.Snapshot) View {
	if !snap.Exists {
		r.Cache.Clear(userID)
		return View{}
	}
	var ref models.ActiveTripRef
	if err := json.Unmarshal(snap.Value, &ref); err != nil {
		r.logger().Warn("quarantined malformed active-trip record", "user_id", userID, "error", err)
		return View{}
	}
	if err := ref.Validate(); err != nil {
		r.logger().Warn("quarantined invalid active-trip record", "user_id", userID, "error", err)
		return View{}
	}
	view := View{Ref: &ref}
	if raw, err := r.Store.Read(ctx, store.TripPath(ref.TripID)); err == nil {
		var t models.Trip
		if json.Unmarshal(raw, &t) == nil && t.Validate() == nil {
			t.ID = ref.TripID
			view.Trip = &t
		}
	}
	r.Cache.Put(userID, CachedTrip{Ref: ref, Trip: view.Trip, SavedAt: r.Now()})
	return view
}

func (r *Reconciler) cachedFeed(userID string) (*Feed, error) {
	observability.OfflineFallbacks.Inc()
	out := make(chan View, 1)
	if ct, ok := r.Cache.Get(userID); ok {
		ref := ct.Ref
		out <- View{Ref: &ref, Trip: ct.Trip, Stale: true}
	} else {
		out <- View{Stale: true}
	}
	close(out)
	return &Feed{Updates: out, Stale: true, Close: func() {}}, nil
}

func (r *Reconciler) attempt() time.Duration {
	if r.Attempt <= 0 {
		return 3 * time.Second
	}
	return r.Attempt
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
