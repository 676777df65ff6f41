package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dwisurya/fieldvisit/internal/domain"
)

type OutletStore struct {
	db *sql.DB
}

func NewOutletStore(db *sql.DB) *OutletStore {
	return &OutletStore{db: db}
}

func (s *OutletStore) Create(ctx context.Context, name, address string, location *domain.GeoPoint, radiusMeters uint32) (*domain.Outlet, error) {
	var lat, lon sql.NullFloat64
	if location != nil {
		lat = sql.NullFloat64{Float64: location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: location.Lon, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO outlets (name, address, latitude, longitude, radius_meters) VALUES (?, ?, ?, ?, ?)
	`, name, address, lat, lon, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("failed to create outlet: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

func (s *OutletStore) GetByID(ctx context.Context, id int64) (*domain.Outlet, error) {
	outlet := &domain.Outlet{}
	var lat, lon sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, latitude, longitude, radius_meters, updated_at FROM outlets WHERE id = ?
	`, id).Scan(&outlet.ID, &outlet.Name, &outlet.Address, &lat, &lon, &outlet.RadiusMeters, &outlet.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outlet: %w", err)
	}

	// Both coordinates are set together or not at all; a half-set pair is
	// treated as never set.
	if lat.Valid && lon.Valid {
		outlet.Location = &domain.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
	}
	return outlet, nil
}

func (s *OutletStore) List(ctx context.Context) ([]*domain.Outlet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, latitude, longitude, radius_meters, updated_at FROM outlets ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list outlets: %w", err)
	}
	defer rows.Close()

	var outlets []*domain.Outlet
	for rows.Next() {
		outlet := &domain.Outlet{}
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&outlet.ID, &outlet.Name, &outlet.Address, &lat, &lon, &outlet.RadiusMeters, &outlet.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outlet: %w", err)
		}
		if lat.Valid && lon.Valid {
			outlet.Location = &domain.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
		}
		outlets = append(outlets, outlet)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outlets: %w", err)
	}

	return outlets, nil
}

// SetLocation records corrected coordinates and radius for an outlet. This is
// the remediation path for an outlet that blocked capture.
func (s *OutletStore) SetLocation(ctx context.Context, id int64, location domain.GeoPoint, radiusMeters uint32) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE outlets SET latitude = ?, longitude = ?, radius_meters = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, location.Lat, location.Lon, radiusMeters, id)
	if err != nil {
		return fmt.Errorf("failed to set outlet location: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("outlet %d not found", id)
	}
	return nil
}

func (s *OutletStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outlets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete outlet: %w", err)
	}
	return nil
}
