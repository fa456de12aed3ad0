package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is stamped on every record written to the store. Readers
// reject records carrying a newer version than they understand.
const SchemaVersion = 1

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coord) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return errors.New("latitude out of range")
	}
	if c.Lng < -180 || c.Lng > 180 {
		return errors.New("longitude out of range")
	}
	return nil
}

type TripStatus string

const (
	StatusActive     TripStatus = "active"
	StatusInProgress TripStatus = "in_progress"
	StatusCancelled  TripStatus = "cancelled"
	StatusCompleted  TripStatus = "completed"
)

func (s TripStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusInProgress, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s TripStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Trip is a driver-offered ride with a fixed seat count and a lifecycle
// status. The ID is assigned by the store on creation and is not part of the
// persisted document.
type Trip struct {
	ID             string     `json:"-"`
	Version        int        `json:"version"`
	DriverID       string     `json:"driver_id"`
	Destination    string     `json:"destination"`
	Description    string     `json:"description,omitempty"`
	TotalSeats     int        `json:"total_seats"`
	AvailableSeats int        `json:"available_seats"`
	Cost           float64    `json:"cost,omitempty"` // per-seat, display only
	Origin         Coord      `json:"origin"`
	DestCoord      Coord      `json:"dest_coord"`
	Route          []Coord    `json:"route,omitempty"`
	Status         TripStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (t *Trip) Validate() error {
	if t.Version > SchemaVersion {
		return fmt.Errorf("trip record version %d not understood", t.Version)
	}
	if strings.TrimSpace(t.DriverID) == "" {
		return errors.New("trip has no driver")
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid trip status %q", t.Status)
	}
	if t.TotalSeats <= 0 {
		return errors.New("total seats must be positive")
	}
	if t.AvailableSeats < 0 || t.AvailableSeats > t.TotalSeats {
		return fmt.Errorf("available seats %d out of range [0,%d]", t.AvailableSeats, t.TotalSeats)
	}
	return nil
}

// RosterEntry is one passenger's membership record on a trip. Immutable once
// written except for location refresh.
type RosterEntry struct {
	Version     int       `json:"version"`
	PassengerID string    `json:"passenger_id"`
	JoinedAt    time.Time `json:"joined_at"`
	Location    *Coord    `json:"location,omitempty"` // absent until reported
}

func (e *RosterEntry) Validate() error {
	if e.Version > SchemaVersion {
		return fmt.Errorf("roster record version %d not understood", e.Version)
	}
	if strings.TrimSpace(e.PassengerID) == "" {
		return errors.New("roster entry has no passenger")
	}
	if e.Location != nil {
		if err := e.Location.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Role distinguishes how a user holds their active trip.
type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

// ActiveTripRef is the per-user pointer to the trip the user currently
// holds. It exists iff the user is the driver of an active/in-progress trip
// or has a roster entry on one.
type ActiveTripRef struct {
	Version int       `json:"version"`
	TripID  string    `json:"trip_id"`
	Role    Role      `json:"role"`
	SetAt   time.Time `json:"set_at"`
}

func (r *ActiveTripRef) Validate() error {
	if r.Version > SchemaVersion {
		return fmt.Errorf("active-trip record version %d not understood", r.Version)
	}
	if r.TripID == "" {
		return errors.New("active-trip reference has no trip id")
	}
	if r.Role != RoleDriver && r.Role != RolePassenger {
		return fmt.Errorf("invalid role %q", r.Role)
	}
	return nil
}

type NotificationKind string

const (
	KindAccepted           NotificationKind = "accepted"
	KindPassengerCancelled NotificationKind = "passenger_cancelled"
	KindDriverCancelled    NotificationKind = "driver_cancelled"
	KindTripStarted        NotificationKind = "trip_started"
)

func (k NotificationKind) IsValid() bool {
	switch k {
	case KindAccepted, KindPassengerCancelled, KindDriverCancelled, KindTripStarted:
		return true
	}
	return false
}

// Notification is one append-only inbox event. Consumed but never mutated.
type Notification struct {
	Version   int              `json:"version"`
	UserID    string           `json:"user_id"`
	TripID    string           `json:"trip_id"`
	Kind      NotificationKind `json:"kind"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}

func (n *Notification) Validate() error {
	if n.Version > SchemaVersion {
		return fmt.Errorf("notification record version %d not understood", n.Version)
	}
	if n.UserID == "" {
		return errors.New("notification has no target user")
	}
	if !n.Kind.IsValid() {
		return fmt.Errorf("invalid notification kind %q", n.Kind)
	}
	return nil
}
