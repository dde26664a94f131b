package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airpulse/airpulse/internal/airquality"
)

const readingsTable = "air_quality_readings"

var readingColumns = []string{
	"lat", "lon", "aqi", "category", "pollutants", "dominant_pollutant",
	"source_id", "quality", "approximate", "observed_at", "fetched_at",
}

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
	psql sq.StatementBuilderType
	now  func() time.Time
}

// NewPostgresRepository creates a new PostgreSQL history repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		pool: pool,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:  time.Now,
	}
}

// Save inserts a reading.
func (r *PostgresRepository) Save(ctx context.Context, reading *airquality.NormalizedReading) error {
	query, args, err := r.insertQuery(reading)
	if err != nil {
		return err
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// QueryRecent selects readings inside the bounding box of the radius and
// drops the corners with an exact distance check.
func (r *PostgresRepository) QueryRecent(ctx context.Context, c airquality.Coordinate, radiusKm float64, window time.Duration) ([]airquality.NormalizedReading, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}

	query, args, err := r.selectQuery(c, radiusKm, r.now().Add(-window))
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var readings []airquality.NormalizedReading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		if airquality.HaversineKm(c, reading.Coordinate) > radiusKm {
			continue
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}

// Prune deletes readings observed before cutoff.
func (r *PostgresRepository) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	query, args, err := r.psql.Delete(readingsTable).Where(sq.Lt{"observed_at": cutoff}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build prune query: %w", err)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune readings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) insertQuery(reading *airquality.NormalizedReading) (string, []any, error) {
	pollutants, err := json.Marshal(reading.Pollutants)
	if err != nil {
		return "", nil, fmt.Errorf("encode pollutants: %w", err)
	}

	query, args, err := r.psql.Insert(readingsTable).
		Columns(readingColumns...).
		Values(
			reading.Coordinate.Lat,
			reading.Coordinate.Lon,
			reading.Index,
			string(reading.Category),
			pollutants,
			string(reading.DominantPollutant),
			reading.SourceID,
			string(reading.Quality),
			reading.Approximate,
			reading.ObservedAt,
			reading.FetchedAt,
		).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build insert query: %w", err)
	}
	return query, args, nil
}

func (r *PostgresRepository) selectQuery(c airquality.Coordinate, radiusKm float64, since time.Time) (string, []any, error) {
	minLat, maxLat, minLon, maxLon := boundingBox(c, radiusKm)

	query, args, err := r.psql.Select(readingColumns...).
		From(readingsTable).
		Where(sq.And{
			sq.GtOrEq{"observed_at": since},
			sq.GtOrEq{"lat": minLat},
			sq.LtOrEq{"lat": maxLat},
			sq.GtOrEq{"lon": minLon},
			sq.LtOrEq{"lon": maxLon},
		}).
		OrderBy("observed_at DESC").
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build select query: %w", err)
	}
	return query, args, nil
}

func scanReading(rows pgx.Rows) (airquality.NormalizedReading, error) {
	var (
		reading    airquality.NormalizedReading
		category   string
		pollutants []byte
		dominant   string
		quality    string
	)

	err := rows.Scan(
		&reading.Coordinate.Lat,
		&reading.Coordinate.Lon,
		&reading.Index,
		&category,
		&pollutants,
		&dominant,
		&reading.SourceID,
		&quality,
		&reading.Approximate,
		&reading.ObservedAt,
		&reading.FetchedAt,
	)
	if err != nil {
		return reading, fmt.Errorf("scan reading: %w", err)
	}

	reading.Category = airquality.Category(category)
	reading.DominantPollutant = airquality.Pollutant(dominant)
	reading.Quality = airquality.DataQuality(quality)
	reading.Pollutants = airquality.Concentrations{}
	if len(pollutants) > 0 {
		if err := json.Unmarshal(pollutants, &reading.Pollutants); err != nil {
			return reading, fmt.Errorf("decode pollutants: %w", err)
		}
	}
	return reading, nil
}
