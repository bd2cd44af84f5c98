// Package repo: repository functions for the flight log. Reads are cached
// under the "flights" tag.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mwestcott/skyfolio/internal/dbclient"
	"github.com/mwestcott/skyfolio/internal/domain"
)

// FlightReadTTL bounds staleness of cached flight-log reads.
const FlightReadTTL = 10 * time.Minute

// YearStats aggregates one calendar year of the logbook.
type YearStats struct {
	Year         int   `json:"year"`
	Flights      int64 `json:"flights"`
	TotalMinutes int64 `json:"total_minutes"`
	TotalNM      int64 `json:"total_nm"`
}

// ListFlights returns a page of logbook entries, most recent date first.
func ListFlights(ctx context.Context, c *dbclient.Client, offset, limit int) ([]domain.Flight, error) {
	res, err := c.Run(ctx,
		`SELECT id, date, origin, destination, aircraft_type, registration,
		        duration_minutes, distance_nm, notes, created_at, updated_at
		 FROM flights
		 WHERE deleted_at IS NULL
		 ORDER BY date DESC, created_at DESC
		 LIMIT ? OFFSET ?`,
		[]any{limit, offset},
		dbclient.Options{UseCache: true, CacheTTL: FlightReadTTL})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Flight, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, rowToFlight(row))
	}
	return out, nil
}

// CountFlights returns the number of logbook entries.
func CountFlights(ctx context.Context, c *dbclient.Client) (int64, error) {
	res, err := c.Run(ctx,
		`SELECT COUNT(*) AS n FROM flights WHERE deleted_at IS NULL`,
		nil,
		dbclient.Options{UseCache: true, CacheTTL: FlightReadTTL})
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	return colInt64(res.Rows[0], "n"), nil
}

// CreateFlight inserts a new logbook entry.
func CreateFlight(ctx context.Context, c *dbclient.Client, f *domain.Flight) (*domain.Flight, error) {
	now := time.Now().UTC()
	f.ID = uuid.NewString()
	f.CreatedAt = now
	f.UpdatedAt = now

	_, err := c.Run(ctx,
		`INSERT INTO flights
		   (id, date, origin, destination, aircraft_type, registration,
		    duration_minutes, distance_nm, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{f.ID, f.Date, f.Origin, f.Destination, f.AircraftType, f.Registration,
			f.DurationMinutes, f.DistanceNM, f.Notes, f.CreatedAt, f.UpdatedAt},
		dbclient.Options{})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// FlightYearStats returns per-year totals across the whole logbook, newest
// year first.
func FlightYearStats(ctx context.Context, c *dbclient.Client) ([]YearStats, error) {
	res, err := c.Run(ctx,
		`SELECT CAST(strftime('%Y', date) AS INTEGER) AS year,
		        COUNT(*) AS flights,
		        SUM(duration_minutes) AS total_minutes,
		        SUM(distance_nm) AS total_nm
		 FROM flights
		 WHERE deleted_at IS NULL
		 GROUP BY year
		 ORDER BY year DESC`,
		nil,
		dbclient.Options{UseCache: true, CacheTTL: FlightReadTTL})
	if err != nil {
		return nil, err
	}
	out := make([]YearStats, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, YearStats{
			Year:         int(colInt64(row, "year")),
			Flights:      colInt64(row, "flights"),
			TotalMinutes: colInt64(row, "total_minutes"),
			TotalNM:      colInt64(row, "total_nm"),
		})
	}
	return out, nil
}

func rowToFlight(row map[string]any) domain.Flight {
	return domain.Flight{
		ID:              colString(row, "id"),
		Date:            colTime(row, "date"),
		Origin:          colString(row, "origin"),
		Destination:     colString(row, "destination"),
		AircraftType:    colString(row, "aircraft_type"),
		Registration:    colString(row, "registration"),
		DurationMinutes: int(colInt64(row, "duration_minutes")),
		DistanceNM:      int(colInt64(row, "distance_nm")),
		Notes:           colString(row, "notes"),
		CreatedAt:       colTime(row, "created_at"),
		UpdatedAt:       colTime(row, "updated_at"),
	}
}
