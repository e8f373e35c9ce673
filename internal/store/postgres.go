package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/rank"
)

// pgUniqueViolation is the SQLSTATE of a unique constraint violation.
const pgUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	user_id TEXT UNIQUE NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	rank TEXT NOT NULL DEFAULT 'Peasant',
	xp BIGINT NOT NULL DEFAULT 0,
	is_vip BOOLEAN NOT NULL DEFAULT FALSE,
	decrees_used INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS channels (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT 'public',
	min_rank_level INTEGER NOT NULL DEFAULT 1,
	member_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_channels_min_rank ON channels(min_rank_level);
`

const profileColumns = `id, user_id, username, rank, xp, is_vip, decrees_used, created_at, updated_at`

const channelColumns = `id, name, description, type, min_rank_level, member_count, created_at`

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// RunMigrations creates the schema if it does not exist.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func pgDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicate
	}
	return err
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	p := &models.Profile{}
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Username,
		&p.Rank,
		&p.XP,
		&p.IsVIP,
		&p.DecreesUsed,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateProfile inserts a profile. A second profile for the same user fails
// with ErrDuplicate.
func (s *PostgresStore) CreateProfile(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Rank == "" {
		p.Rank = "Peasant"
	}
	created, err := scanProfile(s.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, user_id, username, rank, xp, is_vip, decrees_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+profileColumns,
		p.ID, p.UserID, p.Username, p.Rank, p.XP, p.IsVIP, p.DecreesUsed))
	if err != nil {
		return nil, pgDuplicate(err)
	}
	return created, nil
}

// GetProfile retrieves a profile by user ID.
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx, `
		SELECT `+profileColumns+` FROM profiles WHERE user_id = $1
	`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// ListProfiles retrieves the profiles of the given users in one query.
func (s *PostgresStore) ListProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error) {
	if len(userIDs) == 0 {
		return []models.Profile{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+profileColumns+` FROM profiles WHERE user_id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make([]models.Profile, 0, len(userIDs))
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// UpdateProfile applies a partial update and reports whether a row changed.
func (s *PostgresStore) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (bool, error) {
	query, args := upd.updateSQL(userID, time.Now(), func(n int) string { return fmt.Sprintf("$%d", n) })
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountProfiles returns the total number of profiles.
func (s *PostgresStore) CountProfiles(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	return count, err
}

func scanChannel(row pgx.Row) (*models.Channel, error) {
	c := &models.Channel{}
	var channelType string
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Description,
		&channelType,
		&c.MinRankLevel,
		&c.MemberCount,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Type = rank.ChannelType(channelType)
	return c, nil
}

// CreateChannel creates a new channel. The type column is derived from the
// minimum rank level.
func (s *PostgresStore) CreateChannel(ctx context.Context, c *models.Channel) (*models.Channel, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	rec := c.ToRecord()
	created, err := scanChannel(s.pool.QueryRow(ctx, `
		INSERT INTO channels (id, name, description, type, min_rank_level, member_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+channelColumns,
		c.ID, c.Name, c.Description, rec.String("type"), c.MinRankLevel, c.MemberCount))
	if err != nil {
		return nil, pgDuplicate(err)
	}
	return created, nil
}

// GetChannel retrieves a channel by ID.
func (s *PostgresStore) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	c, err := scanChannel(s.pool.QueryRow(ctx, `
		SELECT `+channelColumns+` FROM channels WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// ListChannels retrieves every channel ordered by required rank, then name.
func (s *PostgresStore) ListChannels(ctx context.Context) ([]models.Channel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+channelColumns+` FROM channels ORDER BY min_rank_level ASC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *c)
	}
	return channels, rows.Err()
}

// CountChannels returns the total number of channels.
func (s *PostgresStore) CountChannels(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channels`).Scan(&count)
	return count, err
}
