package trip

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/CvmiloM/TeLlevoAPP/internal/history"
	"github.com/CvmiloM/TeLlevoAPP/internal/models"
	"github.com/CvmiloM/TeLlevoAPP/internal/observability"
	"github.com/CvmiloM/TeLlevoAPP/internal/store"
)

// recordingNotifier captures every event handed to the side channel.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	fail bool
}

func (r *recordingNotifier) Notify(ctx context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("delivery down")
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) byKind(kind models.NotificationKind) []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Notification
	for _, n := range r.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type fixedRoute struct{ line []models.Coord }

func (f fixedRoute) Resolve(ctx context.Context, o, d models.Coord) ([]models.Coord, error) {
	return f.line, nil
}

type failingRoute struct{}

func (failingRoute) Resolve(ctx context.Context, o, d models.Coord) ([]models.Coord, error) {
	return nil, errors.New("osrm unreachable")
}

func newTestCoordinator(t *testing.T) (*Coordinator, *store.MemoryStore, *recordingNotifier, *history.MemoryArchive) {
	t.Helper()
	st := store.NewMemoryStore()
	rn := &recordingNotifier{}
	ar := history.NewMemoryArchive()
	c := NewCoordinator(st, rn, fixedRoute{line: []models.Coord{{Lat: -33.45, Lng: -70.66}, {Lat: -33.50, Lng: -70.61}}}, ar, nil)
	return c, st, rn, ar
}

func createReq(driverID string, seats int) CreateTripRequest {
	return CreateTripRequest{
		DriverID:    driverID,
		Destination: "Campus San Joaquin",
		Description: "salgo a las 18:30",
		Seats:       seats,
		Cost:        1500,
		Origin:      models.Coord{Lat: -33.45, Lng: -70.66},
		DestCoord:   models.Coord{Lat: -33.50, Lng: -70.61},
	}
}

func mustCreate(t *testing.T, c *Coordinator, driverID string, seats int) *models.Trip {
	t.Helper()
	trip, err := c.CreateTrip(context.Background(), createReq(driverID, seats))
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	return trip
}

func seatInvariant(t *testing.T, c *Coordinator, tripID string) {
	t.Helper()
	ctx := context.Background()
	trip, err := c.GetTrip(ctx, tripID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	roster, err := c.Roster(ctx, tripID)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if trip.AvailableSeats != trip.TotalSeats-len(roster) {
		t.Fatalf("seat invariant broken: available=%d total=%d roster=%d",
			trip.AvailableSeats, trip.TotalSeats, len(roster))
	}
}

func TestCreateTripSetsUpStateAndReference(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	trip := mustCreate(t, c, "driver-1", 3)
	if trip.ID == "" {
		t.Fatal("expected store-assigned trip id")
	}
	if trip.Status != models.StatusActive {
		t.Fatalf("expected active, got %s", trip.Status)
	}
	if trip.AvailableSeats != 3 || trip.TotalSeats != 3 {
		t.Fatalf("seat counts wrong: %+v", trip)
	}
	if len(trip.Route) == 0 {
		t.Fatal("expected resolved route")
	}

	ref, err := c.ActiveTrip(ctx, "driver-1")
	if err != nil {
		t.Fatal(err)
	}
	if ref == nil || ref.TripID != trip.ID || ref.Role != models.RoleDriver {
		t.Fatalf("driver reference wrong: %+v", ref)
	}
}

func TestCreateTripRejectsSecondActiveTrip(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	mustCreate(t, c, "driver-1", 3)
	_, err := c.CreateTrip(context.Background(), createReq("driver-1", 2))
	if KindOf(err) != KindGuardViolation {
		t.Fatalf("expected guard violation, got %v", err)
	}
}

func TestCreateTripSurvivesRouteResolverOutage(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	c.Routes = failingRoute{}
	trip := mustCreate(t, c, "driver-1", 2)
	if len(trip.Route) != 0 {
		t.Fatalf("expected empty route, got %d points", len(trip.Route))
	}
	if trip.Status != models.StatusActive {
		t.Fatalf("trip creation blocked by resolver outage: %s", trip.Status)
	}
}

func TestAcceptTripDecrementsAndNotifies(t *testing.T) {
	c, _, rn, _ := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 3)

	loc := &models.Coord{Lat: -33.46, Lng: -70.65}
	entry, err := c.AcceptTrip(ctx, trip.ID, "ana@example.com", loc)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if entry.PassengerID != "ana@example.com" || entry.Location == nil {
		t.Fatalf("bad entry: %+v", entry)
	}
	seatInvariant(t, c, trip.ID)

	ref, _ := c.ActiveTrip(ctx, "ana@example.com")
	if ref == nil || ref.TripID != trip.ID || ref.Role != models.RolePassenger {
		t.Fatalf("passenger reference wrong: %+v", ref)
	}

	accepted := rn.byKind(models.KindAccepted)
	if len(accepted) != 1 || accepted[0].UserID != "driver-1" {
		t.Fatalf("expected one accepted notification to the driver, got %+v", accepted)
	}
}

func TestAcceptTripSequenceExhaustsSeats(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 3)

	for i, p := range []string{"p1", "p2", "p3"} {
		if _, err := c.AcceptTrip(ctx, trip.ID, p, nil); err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
	}
	got, _ := c.GetTrip(ctx, trip.ID)
	if got.AvailableSeats != 0 {
		t.Fatalf("expected 0 seats, got %d", got.AvailableSeats)
	}
	seatInvariant(t, c, trip.ID)

	_, err := c.AcceptTrip(ctx, trip.ID, "p4", nil)
	if KindOf(err) != KindGuardViolation {
		t.Fatalf("expected guard violation for fourth passenger, got %v", err)
	}
}

func TestAcceptTripRejectsDoubleJoin(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 3)

	if _, err := c.AcceptTrip(ctx, trip.ID, "p1", nil); err != nil {
		t.Fatal(err)
	}
	// even with the reference gone, the roster uniqueness guard holds
	_ = st.Remove(ctx, store.ActiveTripPath("p1"))
	_, err := c.AcceptTrip(ctx, trip.ID, "p1", nil)
	if KindOf(err) != KindGuardViolation {
		t.Fatalf("expected guard violation for double join, got %v", err)
	}
}

func TestAcceptTripRejectsWhenHoldingAnotherTrip(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	t1 := mustCreate(t, c, "driver-1", 3)
	t2 := mustCreate(t, c, "driver-2", 3)

	if _, err := c.AcceptTrip(ctx, t1.ID, "p1", nil); err != nil {
		t.Fatal(err)
	}
	_, err := c.AcceptTrip(ctx, t2.ID, "p1", nil)
	if KindOf(err) != KindGuardViolation {
		t.Fatalf("expected guard violation, got %v", err)
	}
}

func TestConcurrentAcceptsForLastSeat(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 1)

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.AcceptTrip(ctx, trip.ID, "racer-"+string(rune('a'+i)), nil)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if KindOf(err) != KindGuardViolation {
			t.Fatalf("loser failed with unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	got, _ := c.GetTrip(ctx, trip.ID)
	if got.AvailableSeats != 0 {
		t.Fatalf("seat counter overshot: %d", got.AvailableSeats)
	}
	seatInvariant(t, c, trip.ID)
}

// conflictingStore forces conditional-update conflicts on trip documents,
// leaving other paths alone.
type conflictingStore struct {
	*store.MemoryStore
	conflicts int // remaining forced conflicts
	attempts  int // trip-document update attempts observed
}

func (s *conflictingStore) ConditionalUpdate(ctx context.Context, path string, fn store.UpdateFn) error {
	if strings.HasPrefix(path, "trips/") && !strings.Contains(path[len("trips/"):], "/") {
		s.attempts++
		if s.conflicts > 0 {
			s.conflicts--
			return store.ErrConflict
		}
	}
	return s.MemoryStore.ConditionalUpdate(ctx, path, fn)
}

func TestAcceptTripRetriesTransientConflict(t *testing.T) {
	cs := &conflictingStore{MemoryStore: store.NewMemoryStore()}
	c := NewCoordinator(cs, &recordingNotifier{}, nil, history.NewMemoryArchive(), nil)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 2)

	cs.conflicts = 1
	cs.attempts = 0
	before := testutil.ToFloat64(observability.SeatConflicts)
	if _, err := c.AcceptTrip(ctx, trip.ID, "p1", nil); err != nil {
		t.Fatalf("accept should survive a transient conflict: %v", err)
	}
	if cs.attempts != 2 {
		t.Fatalf("expected 2 attempts (1 conflict + 1 success), got %d", cs.attempts)
	}
	if got := testutil.ToFloat64(observability.SeatConflicts) - before; got != 1 {
		t.Fatalf("expected 1 conflict counted, got %v", got)
	}
	seatInvariant(t, c, trip.ID)
}

func TestAcceptTripSurfacesConflictAfterBoundedRetries(t *testing.T) {
	cs := &conflictingStore{MemoryStore: store.NewMemoryStore()}
	c := NewCoordinator(cs, &recordingNotifier{}, nil, history.NewMemoryArchive(), nil)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 2)

	cs.conflicts = 1 << 30
	cs.attempts = 0
	_, err := c.AcceptTrip(ctx, trip.ID, "p1", nil)
	if KindOf(err) != KindConflict {
		t.Fatalf("expected conflict after exhausted retries, got %v", err)
	}
	if cs.attempts != c.Retries {
		t.Fatalf("expected %d attempts, got %d", c.Retries, cs.attempts)
	}
	// the failed accept must not leave a claimed reference or a seat behind
	if ref, _ := c.ActiveTrip(ctx, "p1"); ref != nil {
		t.Fatalf("dangling active-trip claim: %+v", ref)
	}
	cs.conflicts = 0
	got, _ := c.GetTrip(ctx, trip.ID)
	if got.AvailableSeats != 2 {
		t.Fatalf("seat lost to a failed accept: %d", got.AvailableSeats)
	}
}

func TestConcurrentAcceptsAcrossTripsClaimOnce(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	t1 := mustCreate(t, c, "driver-1", 2)
	t2 := mustCreate(t, c, "driver-2", 2)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []string{t1.ID, t2.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = c.AcceptTrip(ctx, id, "p1", nil)
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if KindOf(err) != KindGuardViolation {
			t.Fatalf("loser failed with unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning accept, got %d", wins)
	}
	r1, _ := c.Roster(ctx, t1.ID)
	r2, _ := c.Roster(ctx, t2.ID)
	if len(r1)+len(r2) != 1 {
		t.Fatalf("passenger landed on %d rosters", len(r1)+len(r2))
	}
	ref, _ := c.ActiveTrip(ctx, "p1")
	if ref == nil {
		t.Fatal("winner left no active-trip reference")
	}
	seatInvariant(t, c, t1.ID)
	seatInvariant(t, c, t2.ID)
}

func TestCancelAcceptanceRestoresSeatAndClearsReference(t *testing.T) {
	c, _, rn, _ := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 3)

	if _, err := c.AcceptTrip(ctx, trip.ID, "ana", nil); err != nil {
		t.Fatal(err)
	}
	if err := c.CancelAcceptance(ctx, trip.ID, "ana"); err != nil {
		t.Fatalf("cancel acceptance: %v", err)
	}

	got, _ := c.GetTrip(ctx, trip.ID)
	if got.AvailableSeats != got.TotalSeats {
		t.Fatalf("expected seats restored, got %d/%d", got.AvailableSeats, got.TotalSeats)
	}
	roster, _ := c.Roster(ctx, trip.ID)
	if len(roster) != 0 {
		t.Fatalf("expected empty roster, got %d", len(roster))
	}
	if ref, _ := c.ActiveTrip(ctx, "ana"); ref != nil {
		t.Fatalf("dangling active-trip reference: %+v", ref)
	}
	if n := rn.byKind(models.KindPassengerCancelled); len(n) != 1 || n[0].UserID != "driver-1" {
		t.Fatalf("expected one passenger_cancelled to driver, got %+v", n)
	}
}

func TestCancelAcceptanceRecountsDriftedSeats(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 4)
	_, _ = c.AcceptTrip(ctx, trip.ID, "p1", nil)
	_, _ = c.AcceptTrip(ctx, trip.ID, "p2", nil)

	// simulate drift from a historical blind write
	err := st.ConditionalUpdate(ctx, store.TripPath(trip.ID), func(cur json.RawMessage, exists bool) (json.RawMessage, error) {
		var m map[string]any
		if err := json.Unmarshal(cur, &m); err != nil {
			return nil, err
		}
		m["available_seats"] = 0
		return json.Marshal(m)
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.CancelAcceptance(ctx, trip.ID, "p2"); err != nil {
		t.Fatal(err)
	}
	got, _ := c.GetTrip(ctx, trip.ID)
	if got.AvailableSeats != 3 { // 4 total, 1 remaining passenger
		t.Fatalf("expected recount to 3, got %d", got.AvailableSeats)
	}
}

func TestCancelAcceptanceUnknownPassenger(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	trip := mustCreate(t, c, "driver-1", 2)
	err := c.CancelAcceptance(context.Background(), trip.ID, "ghost")
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStartTripBlocksFurtherAccepts(t *testing.T) {
	c, _, rn, _ := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 3)
	_, _ = c.AcceptTrip(ctx, trip.ID, "p1", nil)
	_, _ = c.AcceptTrip(ctx, trip.ID, "p2", nil)

	if err := c.StartTrip(ctx, trip.ID, "driver-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, _ := c.GetTrip(ctx, trip.ID)
	if got.Status != models.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}

	// seats remain, but the status guard rejects regardless
	_, err := c.AcceptTrip(ctx, trip.ID, "p3", nil)
	if KindOf(err) != KindGuardViolation {
		t.Fatalf("expected guard violation after start, got %v", err)
	}

	started := rn.byKind(models.KindTripStarted)
	if len(started) != 2 {
		t.Fatalf("expected 2 trip_started notifications, got %d", len(started))
	}
}

func TestStartTripRequiresOwnerAndActive(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 3)

	if err := c.StartTrip(ctx, trip.ID, "driver-2"); KindOf(err) != KindGuardViolation {
		t.Fatalf("expected guard violation for non-owner, got %v", err)
	}
	if err := c.StartTrip(ctx, trip.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.StartTrip(ctx, trip.ID, "driver-1"); KindOf(err) != KindGuardViolation {
		t.Fatalf("expected guard violation for double start, got %v", err)
	}
}

func TestCancelTripTearsDownRoster(t *testing.T) {
	c, _, rn, _ := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 3)
	passengers := []string{"p1", "p2", "p3"}
	for _, p := range passengers {
		if _, err := c.AcceptTrip(ctx, trip.ID, p, nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.CancelTrip(ctx, trip.ID, "driver-1"); err != nil {
		t.Fatalf("cancel trip: %v", err)
	}

	got, _ := c.GetTrip(ctx, trip.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	roster, _ := c.Roster(ctx, trip.ID)
	if len(roster) != 0 {
		t.Fatalf("roster not empty after cancel: %d", len(roster))
	}
	for _, p := range append(passengers, "driver-1") {
		if ref, _ := c.ActiveTrip(ctx, p); ref != nil {
			t.Fatalf("dangling reference for %s: %+v", p, ref)
		}
	}

	cancelled := rn.byKind(models.KindDriverCancelled)
	if len(cancelled) != len(passengers) {
		t.Fatalf("expected %d driver_cancelled notifications, got %d", len(passengers), len(cancelled))
	}
	seen := map[string]bool{}
	for _, n := range cancelled {
		if seen[n.UserID] {
			t.Fatalf("duplicate notification for %s", n.UserID)
		}
		seen[n.UserID] = true
	}
}

func TestCancelTripIdempotent(t *testing.T) {
	c, _, rn, _ := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 3)
	_, _ = c.AcceptTrip(ctx, trip.ID, "p1", nil)

	if err := c.CancelTrip(ctx, trip.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	before := len(rn.byKind(models.KindDriverCancelled))
	if err := c.CancelTrip(ctx, trip.ID, "driver-1"); err != nil {
		t.Fatalf("re-run of cancel errored: %v", err)
	}
	after := len(rn.byKind(models.KindDriverCancelled))
	if before != after {
		t.Fatalf("re-run sent duplicate notifications: %d -> %d", before, after)
	}
}

func TestCancelTripWhileInProgress(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 2)
	_, _ = c.AcceptTrip(ctx, trip.ID, "p1", nil)
	if err := c.StartTrip(ctx, trip.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.CancelTrip(ctx, trip.ID, "driver-1"); err != nil {
		t.Fatalf("cancel of in-progress trip: %v", err)
	}
	got, _ := c.GetTrip(ctx, trip.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestEndTripArchivesAndClearsEverything(t *testing.T) {
	c, st, _, ar := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 2)
	_, _ = c.AcceptTrip(ctx, trip.ID, "p1", nil)
	if err := c.StartTrip(ctx, trip.ID, "driver-1"); err != nil {
		t.Fatal(err)
	}

	if err := c.EndTrip(ctx, trip.ID, "driver-1"); err != nil {
		t.Fatalf("end trip: %v", err)
	}

	if _, err := st.Read(ctx, store.TripPath(trip.ID)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("trip still live after archive: %v", err)
	}
	for _, u := range []string{"driver-1", "p1"} {
		if ref, _ := c.ActiveTrip(ctx, u); ref != nil {
			t.Fatalf("dangling reference for %s", u)
		}
	}

	archived, err := ar.TripsByDriver(ctx, "driver-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(archived) != 1 {
		t.Fatalf("expected 1 archived trip, got %d", len(archived))
	}
	if archived[0].Trip.Status != models.StatusCompleted {
		t.Fatalf("archived status: %s", archived[0].Trip.Status)
	}
	if len(archived[0].Roster) != 1 || archived[0].Roster[0].PassengerID != "p1" {
		t.Fatalf("archived roster wrong: %+v", archived[0].Roster)
	}
}

func TestEndTripRequiresInProgress(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	trip := mustCreate(t, c, "driver-1", 2)
	err := c.EndTrip(context.Background(), trip.ID, "driver-1")
	if KindOf(err) != KindGuardViolation {
		t.Fatalf("expected guard violation for ending an active trip, got %v", err)
	}
}

func TestNotificationFailureDoesNotBlockTransition(t *testing.T) {
	c, _, rn, _ := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 2)
	rn.fail = true

	if _, err := c.AcceptTrip(ctx, trip.ID, "p1", nil); err != nil {
		t.Fatalf("accept blocked by notification failure: %v", err)
	}
	seatInvariant(t, c, trip.ID)
}

func TestListOpenTripsFiltersAndQuarantines(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	open := mustCreate(t, c, "driver-1", 2)
	full := mustCreate(t, c, "driver-2", 1)
	_, _ = c.AcceptTrip(ctx, full.ID, "p1", nil)
	started := mustCreate(t, c, "driver-3", 2)
	_ = c.StartTrip(ctx, started.ID, "driver-3")
	// a malformed record must be skipped, not surfaced
	_ = st.Write(ctx, "trips/garbage", []byte(`{"driver_id":42}`))

	trips, err := c.ListOpenTrips(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(trips) != 1 || trips[0].ID != open.ID {
		t.Fatalf("expected only the open trip, got %+v", trips)
	}
}

func TestUpdatePassengerLocation(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	trip := mustCreate(t, c, "driver-1", 2)
	_, _ = c.AcceptTrip(ctx, trip.ID, "p1", nil)

	if err := c.UpdatePassengerLocation(ctx, trip.ID, "p1", models.Coord{Lat: -33.47, Lng: -70.64}); err != nil {
		t.Fatal(err)
	}
	roster, _ := c.Roster(ctx, trip.ID)
	if roster[0].Location == nil || roster[0].Location.Lat != -33.47 {
		t.Fatalf("location not refreshed: %+v", roster[0])
	}

	err := c.UpdatePassengerLocation(ctx, trip.ID, "ghost", models.Coord{Lat: 1, Lng: 1})
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
