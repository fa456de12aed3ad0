package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CvmiloM/TeLlevoAPP/internal/location"
	"github.com/CvmiloM/TeLlevoAPP/internal/models"
	"github.com/CvmiloM/TeLlevoAPP/internal/notify"
	"github.com/CvmiloM/TeLlevoAPP/internal/offline"
	"github.com/CvmiloM/TeLlevoAPP/internal/store"
	"github.com/CvmiloM/TeLlevoAPP/internal/stream"
	"github.com/CvmiloM/TeLlevoAPP/internal/trip"
)

type Server struct {
	Coord      *trip.Coordinator
	Store      store.Store
	Inbox      *notify.Inbox
	Reconciler *offline.Reconciler
	Location   location.Provider
	Hub        *stream.Hub
	Registry   *stream.Registry

	logger          *slog.Logger
	locationTimeout time.Duration
	mux             *mux.Router
}

func NewServer(coord *trip.Coordinator, st store.Store, recon *offline.Reconciler, loc location.Provider, logger *slog.Logger) *Server {
	s := &Server{
		Coord:           coord,
		Store:           st,
		Inbox:           &notify.Inbox{Store: st},
		Reconciler:      recon,
		Location:        loc,
		Hub:             stream.NewHub(),
		Registry:        stream.NewRegistry(),
		logger:          logger,
		locationTimeout: 2 * time.Second,
		mux:             mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/trips", s.handleCreateTrip).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips", s.handleListTrips).Methods("GET")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}", s.handleGetTrip).Methods("GET")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/leave", s.handleLeave).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/start", s.handleStart).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/passengers/{passenger_id}/location", s.handlePassengerLocation).Methods("PUT")
	s.mux.HandleFunc("/api/v1/users/{user_id}/notifications", s.handleNotifications).Methods("GET")
	s.mux.HandleFunc("/api/v1/users/{user_id}/active-trip", s.handleActiveTrip).Methods("GET")
	s.mux.HandleFunc("/api/v1/users/{user_id}/history", s.handleHistory).Methods("GET")
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createTripRequest struct {
	DriverID    string        `json:"driver_id"`
	Destination string        `json:"destination"`
	Description string        `json:"description"`
	Seats       int           `json:"seats"`
	Cost        float64       `json:"cost"`
	Origin      *models.Coord `json:"origin"`
	DestCoord   models.Coord  `json:"dest_coord"`
}

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var req createTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	origin := models.Coord{}
	if req.Origin != nil {
		origin = *req.Origin
	} else if c, ok := s.currentPosition(r.Context()); ok {
		origin = c
	} else {
		http.Error(w, "origin required: device position unavailable", http.StatusBadRequest)
		return
	}
	t, err := s.Coord.CreateTrip(r.Context(), trip.CreateTripRequest{
		DriverID:    req.DriverID,
		Destination: req.Destination,
		Description: req.Description,
		Seats:       req.Seats,
		Cost:        req.Cost,
		Origin:      origin,
		DestCoord:   req.DestCoord,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tripResponse(t))
}

func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := s.Coord.ListOpenTrips(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(trips))
	for i := range trips {
		out = append(out, tripResponse(&trips[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["trip_id"]
	t, err := s.Coord.GetTrip(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	roster, err := s.Coord.Roster(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := tripResponse(t)
	resp["passengers"] = roster
	writeJSON(w, http.StatusOK, resp)
}

type acceptRequest struct {
	PassengerID string        `json:"passenger_id"`
	Location    *models.Coord `json:"location"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	loc := req.Location
	if loc == nil {
		// acceptance never waits on the sensor beyond its own timeout
		if c, ok := s.currentPosition(r.Context()); ok {
			loc = &c
		}
	}
	entry, err := s.Coord.AcceptTrip(r.Context(), mux.Vars(r)["trip_id"], req.PassengerID, loc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type userRequest struct {
	PassengerID string `json:"passenger_id,omitempty"`
	DriverID    string `json:"driver_id,omitempty"`
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Coord.CancelAcceptance(r.Context(), mux.Vars(r)["trip_id"], req.PassengerID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Coord.StartTrip(r.Context(), mux.Vars(r)["trip_id"], req.DriverID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Coord.CancelTrip(r.Context(), mux.Vars(r)["trip_id"], req.DriverID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Coord.EndTrip(r.Context(), mux.Vars(r)["trip_id"], req.DriverID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePassengerLocation(w http.ResponseWriter, r *http.Request) {
	var c models.Coord
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	vars := mux.Vars(r)
	if err := s.Coord.UpdatePassengerLocation(r.Context(), vars["trip_id"], vars["passenger_id"], c); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	kind := models.NotificationKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.IsValid() {
		http.Error(w, "unknown kind", http.StatusBadRequest)
		return
	}
	events, err := s.Inbox.List(r.Context(), mux.Vars(r)["user_id"], kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleActiveTrip serves the user's current trip, falling back to the
// offline cache when the live subscription cannot be established. Staleness
// is a non-blocking advisory carried in a header, not an error.
func (s *Server) handleActiveTrip(w http.ResponseWriter, r *http.Request) {
	feed, err := s.Reconciler.Subscribe(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer feed.Close()
	view, ok := <-feed.Updates
	if !ok {
		view = offline.View{Stale: feed.Stale}
	}
	if view.Stale {
		w.Header().Set("X-Data-Stale", "true")
	}
	resp := map[string]any{"ref": view.Ref, "stale": view.Stale}
	if view.Trip != nil {
		resp["trip"] = tripResponse(view.Trip)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	trips, err := s.Coord.History(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trips)
}

var upgrader = websocket.Upgrader{}

// handleWS streams full-state snapshots of the user's active trip and inbox
// over one websocket. Every subscription opened here is tracked in the
// registry and torn down when the socket closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		s.logger.Warn("ws upgrade failed", "user_id", userID, "error", err)
		return
	}
	session := s.Hub.Add(userID, conn)
	sessionID := userID + ":" + newID()

	ctx := context.Background()

	feed, err := s.Reconciler.Subscribe(ctx, userID)
	if err == nil {
		s.Registry.Acquire(sessionID, store.ActiveTripPath(userID), feed.Close)
		go func() {
			for view := range feed.Updates {
				msg := map[string]any{"type": "active_trip", "ref": view.Ref, "stale": view.Stale}
				if view.Trip != nil {
					msg["trip"] = tripResponse(view.Trip)
				}
				if session.Send(msg) != nil {
					return
				}
			}
		}()
	}

	inbox, cancelInbox, err := s.Store.SubscribeList(ctx, store.NotificationsPath(userID))
	if err == nil {
		s.Registry.Acquire(sessionID, store.NotificationsPath(userID), cancelInbox)
		go func() {
			for items := range inbox {
				events := make([]models.Notification, 0, len(items))
				for _, it := range items {
					var n models.Notification
					if json.Unmarshal(it.Value, &n) == nil && n.Validate() == nil {
						events = append(events, n)
					}
				}
				if session.Send(map[string]any{"type": "notifications", "events": events}) != nil {
					return
				}
			}
		}()
	}

	// block until the peer goes away, then release everything this
	// session acquired
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.Registry.ReleaseAll(sessionID)
	s.Hub.Remove(userID)
	_ = conn.Close()
}

func (s *Server) currentPosition(ctx context.Context) (models.Coord, bool) {
	if s.Location == nil {
		return models.Coord{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, s.locationTimeout)
	defer cancel()
	c, err := s.Location.CurrentPosition(ctx)
	if err != nil {
		s.logger.Warn("position lookup failed", "error", err)
		return models.Coord{}, false
	}
	return c, true
}

// tripResponse exposes the store-assigned ID alongside the document fields.
func tripResponse(t *models.Trip) map[string]any {
	return map[string]any{
		"id":              t.ID,
		"driver_id":       t.DriverID,
		"destination":     t.Destination,
		"description":     t.Description,
		"total_seats":     t.TotalSeats,
		"available_seats": t.AvailableSeats,
		"cost":            t.Cost,
		"origin":          t.Origin,
		"dest_coord":      t.DestCoord,
		"route":           t.Route,
		"status":          t.Status,
		"created_at":      t.CreatedAt,
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch trip.KindOf(err) {
	case trip.KindGuardViolation:
		status = http.StatusConflict
	case trip.KindNotFound:
		status = http.StatusNotFound
	case trip.KindConflict:
		status = http.StatusServiceUnavailable
	case trip.KindExternalUnavailable:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
