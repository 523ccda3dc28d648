package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/beneficiary/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type locationRepository struct {
	pool *pgxpool.Pool
}

// NewLocationRepository wires the location registry backed by pgxpool.
func NewLocationRepository(pool *pgxpool.Pool) LocationRepository {
	return &locationRepository{pool: pool}
}

func (r *locationRepository) List(ctx context.Context) ([]domain.Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, type, parent_id FROM location ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	return scanLocations(rows)
}

// PermittedLocations returns the villages reachable from the user's assigned
// districts. Users flagged unrestricted get the full registry scope.
func (r *locationRepository) PermittedLocations(ctx context.Context, userID uuid.UUID) (domain.LocationPermissions, error) {
	var unrestricted bool
	err := r.pool.QueryRow(ctx, `SELECT unrestricted FROM app_user WHERE id = $1`, userID).Scan(&unrestricted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LocationPermissions{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return domain.LocationPermissions{}, fmt.Errorf("failed to load user: %w", err)
	}
	if unrestricted {
		return domain.LocationPermissions{Unrestricted: true}, nil
	}

	rows, err := r.pool.Query(
		ctx,
		`WITH RECURSIVE scope AS (
			SELECT l.id, l.code, l.name, l.type, l.parent_id
			FROM location l
			JOIN user_district ud ON ud.location_id = l.id
			WHERE ud.user_id = $1
			UNION
			SELECT c.id, c.code, c.name, c.type, c.parent_id
			FROM location c
			JOIN scope s ON c.parent_id = s.id
		)
		SELECT id, code, name, type, parent_id FROM scope WHERE type = $2 ORDER BY code`,
		userID, domain.LocationTypeVillage,
	)
	if err != nil {
		return domain.LocationPermissions{}, fmt.Errorf("failed to load permitted locations: %w", err)
	}
	locations, err := scanLocations(rows)
	if err != nil {
		return domain.LocationPermissions{}, err
	}
	return domain.LocationPermissions{Locations: locations}, nil
}

func scanLocations(rows pgx.Rows) ([]domain.Location, error) {
	defer rows.Close()

	locations := []domain.Location{}
	for rows.Next() {
		var loc domain.Location
		if err := rows.Scan(&loc.ID, &loc.Code, &loc.Name, &loc.Type, &loc.ParentID); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate locations: %w", err)
	}
	return locations, nil
}
