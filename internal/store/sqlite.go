package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/rank"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/kingdom.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/kingdom.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		user_id TEXT UNIQUE NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		rank TEXT NOT NULL DEFAULT 'Peasant',
		xp INTEGER NOT NULL DEFAULT 0,
		is_vip INTEGER NOT NULL DEFAULT 0,
		decrees_used INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'public',
		min_rank_level INTEGER NOT NULL DEFAULT 1,
		member_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_channels_min_rank ON channels(min_rank_level);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func sqliteDuplicate(err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ErrDuplicate
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProfile(row scanner) (*models.Profile, error) {
	p := &models.Profile{}
	var isVIP int
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Username,
		&p.Rank,
		&p.XP,
		&isVIP,
		&p.DecreesUsed,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.IsVIP = isVIP != 0
	return p, nil
}

// CreateProfile inserts a profile. A second profile for the same user fails
// with ErrDuplicate.
func (s *SQLiteStore) CreateProfile(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Rank == "" {
		p.Rank = "Peasant"
	}
	now := time.Now().UTC()

	isVIP := 0
	if p.IsVIP {
		isVIP = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, user_id, username, rank, xp, is_vip, decrees_used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.Username, p.Rank, p.XP, isVIP, p.DecreesUsed, now, now)
	if err != nil {
		return nil, sqliteDuplicate(err)
	}

	return s.GetProfile(ctx, p.UserID)
}

// GetProfile retrieves a profile by user ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	p, err := scanSQLiteProfile(s.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM profiles WHERE user_id = ?
	`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// ListProfiles retrieves the profiles of the given users in one query.
func (s *SQLiteStore) ListProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error) {
	if len(userIDs) == 0 {
		return []models.Profile{}, nil
	}

	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+profileColumns+` FROM profiles WHERE user_id IN (`+marks+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make([]models.Profile, 0, len(userIDs))
	for rows.Next() {
		p, err := scanSQLiteProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// UpdateProfile applies a partial update and reports whether a row changed.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (bool, error) {
	query, args := upd.updateSQL(userID, time.Now().UTC(), func(int) string { return "?" })
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountProfiles returns the total number of profiles.
func (s *SQLiteStore) CountProfiles(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	return count, err
}

func scanSQLiteChannel(row scanner) (*models.Channel, error) {
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

// CreateChannel creates a new channel.
func (s *SQLiteStore) CreateChannel(ctx context.Context, c *models.Channel) (*models.Channel, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	rec := c.ToRecord()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, name, description, type, min_rank_level, member_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.Description, rec.String("type"), c.MinRankLevel, c.MemberCount, time.Now().UTC())
	if err != nil {
		return nil, sqliteDuplicate(err)
	}

	return s.GetChannel(ctx, c.ID)
}

// GetChannel retrieves a channel by ID.
func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	c, err := scanSQLiteChannel(s.db.QueryRowContext(ctx, `
		SELECT `+channelColumns+` FROM channels WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// ListChannels retrieves every channel ordered by required rank, then name.
func (s *SQLiteStore) ListChannels(ctx context.Context) ([]models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+channelColumns+` FROM channels ORDER BY min_rank_level ASC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		c, err := scanSQLiteChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *c)
	}
	return channels, rows.Err()
}

// CountChannels returns the total number of channels.
func (s *SQLiteStore) CountChannels(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels`).Scan(&count)
	return count, err
}
