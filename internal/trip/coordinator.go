// Package trip owns the trip lifecycle state machine and the seat
// bookkeeping. All mutations go through the store's conditional-update
// primitive; the coordinator holds no in-process lock across users.
package trip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CvmiloM/TeLlevoAPP/internal/history"
	"github.com/CvmiloM/TeLlevoAPP/internal/models"
	"github.com/CvmiloM/TeLlevoAPP/internal/notify"
	"github.com/CvmiloM/TeLlevoAPP/internal/observability"
	"github.com/CvmiloM/TeLlevoAPP/internal/route"
	"github.com/CvmiloM/TeLlevoAPP/internal/store"
)

type Coordinator struct {
	Store    store.Store
	Notifier notify.Notifier
	Routes   route.Resolver // optional; a trip without a route is still valid
	Archive  history.Archive
	Logger   *slog.Logger
	Retries  int // bounded conditional-update retries before surfacing Conflict

	Now func() time.Time
}

func NewCoordinator(st store.Store, n notify.Notifier, r route.Resolver, a history.Archive, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		Store:    st,
		Notifier: n,
		Routes:   r,
		Archive:  a,
		Logger:   logger,
		Retries:  3,
		Now:      time.Now,
	}
}

type CreateTripRequest struct {
	DriverID    string
	Destination string
	Description string
	Seats       int
	Cost        float64
	Origin      models.Coord
	DestCoord   models.Coord
}

// CreateTrip validates the request, enforces the one-active-trip-per-driver
// guard, resolves the route once (best effort), and writes the trip plus the
// driver's active-trip reference.
func (c *Coordinator) CreateTrip(ctx context.Context, req CreateTripRequest) (*models.Trip, error) {
	const op = "create_trip"
	if strings.TrimSpace(req.DriverID) == "" {
		return nil, guardErr(op, "driver id is required")
	}
	if strings.TrimSpace(req.Destination) == "" {
		return nil, guardErr(op, "destination is required")
	}
	if req.Seats <= 0 {
		return nil, guardErr(op, "seat count must be positive")
	}
	if err := req.Origin.Validate(); err != nil {
		return nil, guardErr(op, "invalid origin: "+err.Error())
	}
	if err := req.DestCoord.Validate(); err != nil {
		return nil, guardErr(op, "invalid destination: "+err.Error())
	}

	ref, err := c.activeRef(ctx, req.DriverID)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		observability.GuardRejections.WithLabelValues(op).Inc()
		return nil, guardErr(op, "driver already has an active trip")
	}

	t := &models.Trip{
		Version:        models.SchemaVersion,
		DriverID:       req.DriverID,
		Destination:    req.Destination,
		Description:    req.Description,
		TotalSeats:     req.Seats,
		AvailableSeats: req.Seats,
		Cost:           req.Cost,
		Origin:         req.Origin,
		DestCoord:      req.DestCoord,
		Status:         models.StatusActive,
		CreatedAt:      c.Now(),
	}

	// Route resolution is display-only; a resolver outage degrades to an
	// empty polyline instead of blocking creation.
	if c.Routes != nil {
		if line, err := c.Routes.Resolve(ctx, req.Origin, req.DestCoord); err != nil {
			observability.RouteLookupFailures.Inc()
			c.logger().Warn("route resolution failed, creating trip without route",
				"driver_id", req.DriverID, "error", err)
		} else {
			t.Route = line
		}
	}

	id, err := c.Store.AppendChild(ctx, "trips", store.Marshal(t))
	if err != nil {
		return nil, err
	}
	t.ID = id

	dref := models.ActiveTripRef{Version: models.SchemaVersion, TripID: id, Role: models.RoleDriver, SetAt: c.Now()}
	if err := c.claimActiveRef(ctx, op, req.DriverID, dref); err != nil {
		// No orphaned trip without a driver reference.
		if rerr := c.Store.Remove(ctx, store.TripPath(id)); rerr != nil {
			c.logger().Error("failed to undo trip creation", "trip_id", id, "error", rerr)
		}
		return nil, err
	}

	observability.TripsCreated.Inc()
	return t, nil
}

// AcceptTrip races the seat counter down by one. The passenger's active-trip
// reference is claimed first as a write-iff-absent conditional update, so the
// same passenger racing acceptances on two trips holds at most one; the seat
// decrement is then an atomic conditional update so concurrent acceptances
// cannot overshoot zero. A failure after the claim releases it.
func (c *Coordinator) AcceptTrip(ctx context.Context, tripID, passengerID string, loc *models.Coord) (*models.RosterEntry, error) {
	const op = "accept_trip"
	if strings.TrimSpace(passengerID) == "" {
		return nil, guardErr(op, "passenger id is required")
	}
	if loc != nil {
		if err := loc.Validate(); err != nil {
			return nil, guardErr(op, "invalid location: "+err.Error())
		}
	}

	roster, err := c.roster(ctx, tripID)
	if err != nil {
		return nil, err
	}
	for _, r := range roster {
		if r.Entry.PassengerID == passengerID {
			observability.GuardRejections.WithLabelValues(op).Inc()
			return nil, guardErr(op, "passenger already joined this trip")
		}
	}

	pref := models.ActiveTripRef{Version: models.SchemaVersion, TripID: tripID, Role: models.RolePassenger, SetAt: c.Now()}
	if err := c.claimActiveRef(ctx, op, passengerID, pref); err != nil {
		if KindOf(err) == KindGuardViolation {
			observability.GuardRejections.WithLabelValues(op).Inc()
		}
		return nil, err
	}

	var snap models.Trip
	err = c.casTrip(ctx, op, tripID, func(t *models.Trip) error {
		if t.Status != models.StatusActive {
			return guardErr(op, "trip is not accepting passengers")
		}
		if t.AvailableSeats <= 0 {
			return guardErr(op, "no seats available")
		}
		t.AvailableSeats--
		snap = *t
		return nil
	})
	if err != nil {
		c.releaseActiveRef(ctx, passengerID)
		if KindOf(err) == KindGuardViolation {
			observability.GuardRejections.WithLabelValues(op).Inc()
		}
		return nil, err
	}

	entry := models.RosterEntry{
		Version:     models.SchemaVersion,
		PassengerID: passengerID,
		JoinedAt:    c.Now(),
		Location:    loc,
	}
	if _, err := c.Store.AppendChild(ctx, store.PassengersPath(tripID), store.Marshal(entry)); err != nil {
		// The seat was taken but the roster entry never landed; put the
		// counter back by counting what is actually there.
		if rerr := c.recomputeSeats(ctx, tripID); rerr != nil {
			c.logger().Error("seat recompute after roster failure", "trip_id", tripID, "error", rerr)
		}
		c.releaseActiveRef(ctx, passengerID)
		return nil, err
	}

	c.send(ctx, models.Notification{
		Version:   models.SchemaVersion,
		UserID:    snap.DriverID,
		TripID:    tripID,
		Kind:      models.KindAccepted,
		Message:   notify.AcceptedMessage(passengerID),
		CreatedAt: c.Now(),
	})
	observability.SeatsAccepted.Inc()
	return &entry, nil
}

// CancelAcceptance removes the passenger's roster entry and recomputes the
// seat counter from the remaining roster, which stays correct even if the
// counter previously drifted.
func (c *Coordinator) CancelAcceptance(ctx context.Context, tripID, passengerID string) error {
	const op = "cancel_acceptance"

	roster, err := c.roster(ctx, tripID)
	if err != nil {
		return err
	}
	var key string
	for _, r := range roster {
		if r.Entry.PassengerID == passengerID {
			key = r.Key
			break
		}
	}
	if key == "" {
		return notFoundErr(op, "no roster entry for passenger")
	}

	if err := c.Store.Remove(ctx, store.PassengerPath(tripID, key)); err != nil {
		return err
	}
	if err := c.recomputeSeats(ctx, tripID); err != nil {
		return err
	}
	if err := c.Store.Remove(ctx, store.ActiveTripPath(passengerID)); err != nil {
		return err
	}

	if t, err := c.readTrip(ctx, tripID); err == nil {
		c.send(ctx, models.Notification{
			Version:   models.SchemaVersion,
			UserID:    t.DriverID,
			TripID:    tripID,
			Kind:      models.KindPassengerCancelled,
			Message:   notify.PassengerCancelledMessage(passengerID),
			CreatedAt: c.Now(),
		})
	}
	return nil
}

// StartTrip moves an active trip to in_progress; no further passengers may
// join afterwards. Every roster passenger is notified.
func (c *Coordinator) StartTrip(ctx context.Context, tripID, driverID string) error {
	const op = "start_trip"

	var snap models.Trip
	err := c.casTrip(ctx, op, tripID, func(t *models.Trip) error {
		if t.DriverID != driverID {
			return guardErr(op, "driver does not own this trip")
		}
		if t.Status != models.StatusActive {
			return guardErr(op, "trip is not active")
		}
		t.Status = models.StatusInProgress
		snap = *t
		return nil
	})
	if err != nil {
		if KindOf(err) == KindGuardViolation {
			observability.GuardRejections.WithLabelValues(op).Inc()
		}
		return err
	}

	roster, err := c.roster(ctx, tripID)
	if err != nil {
		c.logger().Error("roster read after start", "trip_id", tripID, "error", err)
		return nil // transition already committed
	}
	for _, r := range roster {
		c.send(ctx, models.Notification{
			Version:   models.SchemaVersion,
			UserID:    r.Entry.PassengerID,
			TripID:    tripID,
			Kind:      models.KindTripStarted,
			Message:   notify.TripStartedMessage(snap.DriverID),
			CreatedAt: c.Now(),
		})
	}
	return nil
}

// CancelTrip tears the whole trip down: every roster entry and every
// displaced passenger's active-trip reference is removed before the status
// flips to cancelled. The teardown is idempotent; a re-run on an
// already-cancelled trip is a no-op and sends no duplicate notifications.
func (c *Coordinator) CancelTrip(ctx context.Context, tripID, driverID string) error {
	const op = "cancel_trip"

	t, err := c.readTrip(ctx, tripID)
	if err != nil {
		return err
	}
	if t.DriverID != driverID {
		observability.GuardRejections.WithLabelValues(op).Inc()
		return guardErr(op, "driver does not own this trip")
	}
	if t.Status == models.StatusCancelled {
		return nil
	}
	if t.Status == models.StatusCompleted {
		observability.GuardRejections.WithLabelValues(op).Inc()
		return guardErr(op, "trip already completed")
	}

	roster, err := c.roster(ctx, tripID)
	if err != nil {
		return err
	}

	// Fixed order per passenger: roster entry first, then the reference.
	// An interrupted run resumes from whatever is left; nothing here is
	// unsafe to repeat.
	var displaced []string
	for _, r := range roster {
		if err := c.Store.Remove(ctx, store.PassengerPath(tripID, r.Key)); err != nil {
			return err
		}
		if err := c.Store.Remove(ctx, store.ActiveTripPath(r.Entry.PassengerID)); err != nil {
			return err
		}
		displaced = append(displaced, r.Entry.PassengerID)
	}
	if err := c.Store.Remove(ctx, store.ActiveTripPath(driverID)); err != nil {
		return err
	}

	err = c.casTrip(ctx, op, tripID, func(t *models.Trip) error {
		t.Status = models.StatusCancelled
		t.AvailableSeats = t.TotalSeats // roster is empty now
		return nil
	})
	if err != nil {
		return err
	}

	// Notifications only for passengers displaced in this run; a retry
	// finds an empty roster and sends nothing.
	for _, pid := range displaced {
		c.send(ctx, models.Notification{
			Version:   models.SchemaVersion,
			UserID:    pid,
			TripID:    tripID,
			Kind:      models.KindDriverCancelled,
			Message:   notify.DriverCancelledMessage(driverID),
			CreatedAt: c.Now(),
		})
	}
	observability.TripsCancelled.Inc()
	return nil
}

// EndTrip archives an in-progress trip plus its roster to history, then
// removes the live records and clears every participant's active-trip slot.
// The archive write is idempotent so an interrupted completion can re-run.
func (c *Coordinator) EndTrip(ctx context.Context, tripID, driverID string) error {
	const op = "end_trip"

	t, err := c.readTrip(ctx, tripID)
	if err != nil {
		return err
	}
	if t.DriverID != driverID {
		observability.GuardRejections.WithLabelValues(op).Inc()
		return guardErr(op, "driver does not own this trip")
	}
	if t.Status != models.StatusInProgress {
		observability.GuardRejections.WithLabelValues(op).Inc()
		return guardErr(op, "trip is not in progress")
	}

	roster, err := c.roster(ctx, tripID)
	if err != nil {
		return err
	}
	entries := make([]models.RosterEntry, len(roster))
	for i, r := range roster {
		entries[i] = r.Entry
	}

	archived := *t
	archived.Status = models.StatusCompleted
	if err := c.Archive.ArchiveTrip(ctx, &archived, entries, c.Now()); err != nil {
		return err
	}

	for _, r := range roster {
		if err := c.Store.Remove(ctx, store.PassengerPath(tripID, r.Key)); err != nil {
			return err
		}
		if err := c.Store.Remove(ctx, store.ActiveTripPath(r.Entry.PassengerID)); err != nil {
			return err
		}
	}
	if err := c.Store.Remove(ctx, store.ActiveTripPath(driverID)); err != nil {
		return err
	}
	if err := c.Store.Remove(ctx, store.TripPath(tripID)); err != nil {
		return err
	}

	observability.TripsCompleted.Inc()
	return nil
}

// UpdatePassengerLocation refreshes the only mutable field of a roster
// entry.
func (c *Coordinator) UpdatePassengerLocation(ctx context.Context, tripID, passengerID string, loc models.Coord) error {
	const op = "update_passenger_location"
	if err := loc.Validate(); err != nil {
		return guardErr(op, err.Error())
	}
	roster, err := c.roster(ctx, tripID)
	if err != nil {
		return err
	}
	for _, r := range roster {
		if r.Entry.PassengerID == passengerID {
			return c.Store.Update(ctx, store.PassengerPath(tripID, r.Key),
				map[string]json.RawMessage{"location": store.Marshal(loc)})
		}
	}
	return notFoundErr(op, "no roster entry for passenger")
}

func (c *Coordinator) GetTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	return c.readTrip(ctx, tripID)
}

// ListOpenTrips returns trips a passenger may still join: active with at
// least one free seat. Malformed records are skipped, not surfaced.
func (c *Coordinator) ListOpenTrips(ctx context.Context) ([]models.Trip, error) {
	items, err := c.Store.List(ctx, "trips")
	if err != nil {
		return nil, err
	}
	out := make([]models.Trip, 0, len(items))
	for _, it := range items {
		var t models.Trip
		if err := json.Unmarshal(it.Value, &t); err != nil {
			c.logger().Warn("quarantined malformed trip record", "trip_id", it.Key, "error", err)
			continue
		}
		if err := t.Validate(); err != nil {
			c.logger().Warn("quarantined invalid trip record", "trip_id", it.Key, "error", err)
			continue
		}
		if t.Status != models.StatusActive || t.AvailableSeats <= 0 {
			continue
		}
		t.ID = it.Key
		out = append(out, t)
	}
	return out, nil
}

func (c *Coordinator) Roster(ctx context.Context, tripID string) ([]models.RosterEntry, error) {
	roster, err := c.roster(ctx, tripID)
	if err != nil {
		return nil, err
	}
	entries := make([]models.RosterEntry, len(roster))
	for i, r := range roster {
		entries[i] = r.Entry
	}
	return entries, nil
}

func (c *Coordinator) ActiveTrip(ctx context.Context, userID string) (*models.ActiveTripRef, error) {
	return c.activeRef(ctx, userID)
}

func (c *Coordinator) History(ctx context.Context, driverID string) ([]history.ArchivedTrip, error) {
	return c.Archive.TripsByDriver(ctx, driverID)
}

// internals

type rosterItem struct {
	Key   string
	Entry models.RosterEntry
}

func (c *Coordinator) roster(ctx context.Context, tripID string) ([]rosterItem, error) {
	items, err := c.Store.List(ctx, store.PassengersPath(tripID))
	if err != nil {
		return nil, err
	}
	out := make([]rosterItem, 0, len(items))
	for _, it := range items {
		var e models.RosterEntry
		if err := json.Unmarshal(it.Value, &e); err != nil {
			c.logger().Warn("quarantined malformed roster record", "trip_id", tripID, "key", it.Key, "error", err)
			continue
		}
		if err := e.Validate(); err != nil {
			c.logger().Warn("quarantined invalid roster record", "trip_id", tripID, "key", it.Key, "error", err)
			continue
		}
		out = append(out, rosterItem{Key: it.Key, Entry: e})
	}
	return out, nil
}

func (c *Coordinator) readTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	raw, err := c.Store.Read(ctx, store.TripPath(tripID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundErr("read_trip", "trip not found")
	}
	if err != nil {
		return nil, err
	}
	var t models.Trip
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("quarantined trip record %s: %w", tripID, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("quarantined trip record %s: %w", tripID, err)
	}
	t.ID = tripID
	return &t, nil
}

func (c *Coordinator) activeRef(ctx context.Context, userID string) (*models.ActiveTripRef, error) {
	raw, err := c.Store.Read(ctx, store.ActiveTripPath(userID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ref models.ActiveTripRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		c.logger().Warn("quarantined malformed active-trip record", "user_id", userID, "error", err)
		return nil, nil
	}
	if err := ref.Validate(); err != nil {
		c.logger().Warn("quarantined invalid active-trip record", "user_id", userID, "error", err)
		return nil, nil
	}
	return &ref, nil
}

// claimActiveRef writes the user's active-trip reference iff none exists,
// so two racing operations for the same user admit at most one. A malformed
// stored record is quarantined and treated as absent, matching activeRef.
func (c *Coordinator) claimActiveRef(ctx context.Context, op, userID string, ref models.ActiveTripRef) error {
	var err error
	for i := 0; i < c.retries(); i++ {
		err = c.Store.ConditionalUpdate(ctx, store.ActiveTripPath(userID), func(current json.RawMessage, exists bool) (json.RawMessage, error) {
			if exists {
				var cur models.ActiveTripRef
				if json.Unmarshal(current, &cur) == nil && cur.Validate() == nil {
					return nil, guardErr(op, "user already holds an active trip")
				}
				c.logger().Warn("quarantined invalid active-trip record", "user_id", userID)
			}
			return json.Marshal(&ref)
		})
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return conflictErr(op, err)
}

// releaseActiveRef undoes a claim after a later step failed; the failure to
// release is logged, a stale claim is cleaned up by the next teardown.
func (c *Coordinator) releaseActiveRef(ctx context.Context, userID string) {
	if err := c.Store.Remove(ctx, store.ActiveTripPath(userID)); err != nil {
		c.logger().Error("failed to release active-trip claim", "user_id", userID, "error", err)
	}
}

// casTrip runs fn against the decoded trip under the store's conditional
// update, retrying a bounded number of times on conflict before surfacing a
// Conflict error.
func (c *Coordinator) casTrip(ctx context.Context, op, tripID string, fn func(t *models.Trip) error) error {
	var err error
	for i := 0; i < c.retries(); i++ {
		err = c.Store.ConditionalUpdate(ctx, store.TripPath(tripID), func(current json.RawMessage, exists bool) (json.RawMessage, error) {
			if !exists {
				return nil, notFoundErr(op, "trip not found")
			}
			var t models.Trip
			if uerr := json.Unmarshal(current, &t); uerr != nil {
				return nil, fmt.Errorf("quarantined trip record %s: %w", tripID, uerr)
			}
			if verr := t.Validate(); verr != nil {
				return nil, fmt.Errorf("quarantined trip record %s: %w", tripID, verr)
			}
			t.ID = tripID
			if ferr := fn(&t); ferr != nil {
				return nil, ferr
			}
			return json.Marshal(&t)
		})
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		observability.SeatConflicts.Inc()
	}
	return conflictErr(op, err)
}

// recomputeSeats counts the roster instead of incrementing, per the
// counting rule: correct even after drift or concurrent roster mutation.
func (c *Coordinator) recomputeSeats(ctx context.Context, tripID string) error {
	roster, err := c.roster(ctx, tripID)
	if err != nil {
		return err
	}
	n := len(roster)
	return c.casTrip(ctx, "recompute_seats", tripID, func(t *models.Trip) error {
		avail := t.TotalSeats - n
		if avail < 0 {
			avail = 0
		}
		t.AvailableSeats = avail
		return nil
	})
}

// send hands a notification to the delivery channel. The triggering
// transition has already committed, so a failure is logged and counted but
// never propagated.
func (c *Coordinator) send(ctx context.Context, n models.Notification) {
	if c.Notifier == nil {
		return
	}
	if err := c.Notifier.Notify(ctx, n); err != nil {
		observability.NotificationsFailed.Inc()
		c.logger().Error("notification delivery failed", "user_id", n.UserID, "kind", string(n.Kind), "error", err)
		return
	}
	observability.NotificationsSent.WithLabelValues(string(n.Kind)).Inc()
}

func (c *Coordinator) retries() int {
	if c.Retries <= 0 {
		return 3
	}
	return c.Retries
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
