package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"github.com/CvmiloM/TeLlevoAPP/internal/models"
)

type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

func (p *PostgresArchive) Close() error { return p.db.Close() }

// ArchiveTrip inserts the trip and its roster in one transaction. ON
// CONFLICT DO NOTHING keeps re-runs of an interrupted completion harmless.
func (p *PostgresArchive) ArchiveTrip(ctx context.Context, t *models.Trip, roster []models.RosterEntry, completedAt time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	routeJSON, err := json.Marshal(t.Route)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO trip_history(id, driver_id, destination, description, total_seats, cost,
		  origin_lat, origin_lng, dest_lat, dest_lng, route, created_at, completed_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, t.DriverID, t.Destination, t.Description, t.TotalSeats, t.Cost,
		t.Origin.Lat, t.Origin.Lng, t.DestCoord.Lat, t.DestCoord.Lng, routeJSON, t.CreatedAt, completedAt)
	if err != nil {
		return err
	}
	for _, e := range roster {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO trip_history_passengers(trip_id, passenger_id, joined_at)
			 VALUES($1,$2,$3)
			 ON CONFLICT (trip_id, passenger_id) DO NOTHING`,
			t.ID, e.PassengerID, e.JoinedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresArchive) TripsByDriver(ctx context.Context, driverID string) ([]ArchivedTrip, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, driver_id, destination, description, total_seats, cost,
		  origin_lat, origin_lng, dest_lat, dest_lng, route, created_at, completed_at
		 FROM trip_history WHERE driver_id = $1 ORDER BY completed_at DESC`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedTrip
	for rows.Next() {
		var at ArchivedTrip
		var routeJSON []byte
		t := &at.Trip
		if err := rows.Scan(&t.ID, &t.DriverID, &t.Destination, &t.Description, &t.TotalSeats, &t.Cost,
			&t.Origin.Lat, &t.Origin.Lng, &t.DestCoord.Lat, &t.DestCoord.Lng, &routeJSON, &t.CreatedAt, &at.CompletedAt); err != nil {
			return nil, err
		}
		if len(routeJSON) > 0 {
			_ = json.Unmarshal(routeJSON, &t.Route)
		}
		t.Version = models.SchemaVersion
		t.Status = models.StatusCompleted
		prows, err := p.db.QueryContext(ctx,
			`SELECT passenger_id, joined_at FROM trip_history_passengers WHERE trip_id = $1 ORDER BY joined_at`, t.ID)
		if err != nil {
			return nil, err
		}
		for prows.Next() {
			var e models.RosterEntry
			e.Version = models.SchemaVersion
			if err := prows.Scan(&e.PassengerID, &e.JoinedAt); err != nil {
				prows.Close()
				return nil, err
			}
			at.Roster = append(at.Roster, e)
		}
		prows.Close()
		if err := prows.Err(); err != nil {
			return nil, err
		}
		out = append(out, at)
	}
	return out, rows.Err()
}
