package voicestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/castvoice/internal/archetype"
)

// Schema is the SQL DDL for the character_voice_profiles table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS character_voice_profiles (
    character_id     TEXT PRIMARY KEY,
    archetype_id     TEXT NOT NULL DEFAULT '',
    gender           TEXT NOT NULL DEFAULT '',
    voice_profile    TEXT NOT NULL DEFAULT '',
    provider_voices  JSONB NOT NULL DEFAULT '{}',
    params           JSONB NOT NULL DEFAULT '{}',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_character_voice_profiles_archetype ON character_voice_profiles(archetype_id);
`

const selectColumns = `character_id, archetype_id, gender, voice_profile,
		       provider_voices, params, created_at, updated_at`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over db. The caller is
// responsible for calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects a pool to dsn, verifies the connection and applies the schema.
// The returned close function releases the pool.
func Open(ctx context.Context, dsn string) (*PostgresStore, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("voicestore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("voicestore: ping: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("voicestore: migrate: %w", err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, characterID string) (*Profile, error) {
	query := `SELECT ` + selectColumns + `
		FROM character_voice_profiles
		WHERE character_id = $1`

	p, err := scanProfile(s.db.QueryRow(ctx, query, characterID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("voicestore: get %q: %w", characterID, err)
	}
	return p, nil
}

// Create implements [Store].
func (s *PostgresStore) Create(ctx context.Context, p *Profile) error {
	args, err := profileArgs(p)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO character_voice_profiles (
			character_id, archetype_id, gender, voice_profile, provider_voices, params
		) VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`

	if err := s.db.QueryRow(ctx, query, args...).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %q", ErrExists, p.CharacterID)
		}
		return fmt.Errorf("voicestore: create: %w", err)
	}
	return nil
}

// Update implements [Store].
func (s *PostgresStore) Update(ctx context.Context, p *Profile) error {
	args, err := profileArgs(p)
	if err != nil {
		return err
	}
	const query = `
		UPDATE character_voice_profiles SET
			archetype_id = $2, gender = $3, voice_profile = $4,
			provider_voices = $5, params = $6, updated_at = now()
		WHERE character_id = $1
		RETURNING created_at, updated_at`

	if err := s.db.QueryRow(ctx, query, args...).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrNotFound, p.CharacterID)
		}
		return fmt.Errorf("voicestore: update: %w", err)
	}
	return nil
}

// Upsert implements [Store].
func (s *PostgresStore) Upsert(ctx context.Context, p *Profile) error {
	args, err := profileArgs(p)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO character_voice_profiles (
			character_id, archetype_id, gender, voice_profile, provider_voices, params
		) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (character_id) DO UPDATE SET
			archetype_id = EXCLUDED.archetype_id,
			gender = EXCLUDED.gender,
			voice_profile = EXCLUDED.voice_profile,
			provider_voices = EXCLUDED.provider_voices,
			params = EXCLUDED.params,
			updated_at = now()
		RETURNING created_at, updated_at`

	if err := s.db.QueryRow(ctx, query, args...).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("voicestore: upsert: %w", err)
	}
	return nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context) ([]Profile, error) {
	query := `SELECT ` + selectColumns + `
		FROM character_voice_profiles
		ORDER BY character_id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("voicestore: list: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("voicestore: list scan: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voicestore: list: %w", err)
	}
	return out, nil
}

// profileArgs validates p and returns the positional insert arguments.
func profileArgs(p *Profile) ([]any, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	voices := p.ProviderVoices
	if voices == nil {
		voices = map[string]string{}
	}
	voicesJSON, err := json.Marshal(voices)
	if err != nil {
		return nil, fmt.Errorf("voicestore: marshal provider_voices: %w", err)
	}
	paramsJSON, err := json.Marshal(p.Params)
	if err != nil {
		return nil, fmt.Errorf("voicestore: marshal params: %w", err)
	}
	return []any{
		p.CharacterID, p.ArchetypeID, string(p.Gender), p.VoiceProfile,
		voicesJSON, paramsJSON,
	}, nil
}

// scanProfile reads one row in [selectColumns] order.
func scanProfile(row pgx.Row) (*Profile, error) {
	var (
		p                      Profile
		gender                 string
		voicesJSON, paramsJSON []byte
	)
	if err := row.Scan(
		&p.CharacterID, &p.ArchetypeID, &gender, &p.VoiceProfile,
		&voicesJSON, &paramsJSON, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Gender = archetype.Gender(gender)
	if err := json.Unmarshal(voicesJSON, &p.ProviderVoices); err != nil {
		return nil, fmt.Errorf("voicestore: unmarshal provider_voices: %w", err)
	}
	if len(p.ProviderVoices) == 0 {
		p.ProviderVoices = nil
	}
	if err := json.Unmarshal(paramsJSON, &p.Params); err != nil {
		return nil, fmt.Errorf("voicestore: unmarshal params: %w", err)
	}
	return &p, nil
}

// isDuplicateKeyError reports a unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
