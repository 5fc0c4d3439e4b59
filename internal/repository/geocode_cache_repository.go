package repository

import (
	"context"

	"github.com/vaidashi/relay-freight-api/internal/database"
	"github.com/vaidashi/relay-freight-api/pkg/logger"
)

// GeocodeCacheRepository memoizes address lookups in Postgres
type GeocodeCacheRepository struct {
	db     *database.Database
	logger logger.Logger
}

func NewGeocodeCacheRepository(db *database.Database, logger logger.Logger) *GeocodeCacheRepository {
	return &GeocodeCacheRepository{
		db:     db,
		logger: logger,
	}
}

// Get returns the cached coordinates of a normalized address
func (r *GeocodeCacheRepository) Get(ctx context.Context, address string) (lat, lon float64, ok bool, err error) {
	var row struct {
		Lat float64 `db:"lat"`
		Lon float64 `db:"lon"`
	}

	err = r.db.Conn(ctx).GetContext(ctx, &row, `SELECT lat, lon FROM geocode_cache WHERE address = $1`, address)

	if err != nil {
		if err = wrapErr(err); err == ErrNotFound {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}

	return row.Lat, row.Lon, true, nil
}

// Put stores or refreshes the coordinates of an address
func (r *GeocodeCacheRepository) Put(ctx context.Context, address string, lat, lon float64) error {
	query := `
		INSERT INTO geocode_cache (address, lat, lon, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (address) DO UPDATE
		SET lat = EXCLUDED.lat, lon = EXCLUDED.lon, updated_at = NOW()
	`

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, address, lat, lon); err != nil {
		r.logger.Warn("Failed to cache geocode result", "error", err, "address", address)
		return wrapErr(err)
	}

	return nil
}
