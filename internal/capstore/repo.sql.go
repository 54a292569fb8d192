package capstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Repository provides PostgreSQL backed persistence for the capability
// store and the snapshot store, with Redis holding the resolved-capability
// cache that InvalidateUserCache clears.
type Repository struct {
	pool  *pgxpool.Pool
	cache *redis.Client
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, cache *redis.Client) *Repository {
	return &Repository{pool: pool, cache: cache}
}

// RoleTable loads and decodes the role table option.
func (r *Repository) RoleTable(ctx context.Context) (RoleTable, error) {
	raw, err := r.RoleTableRaw(ctx)
	if err != nil {
		return nil, err
	}
	var table RoleTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("capstore: decode role table: %w", err)
	}
	table.Normalize()
	return table, nil
}

// RoleTableRaw returns the stored role table bytes verbatim.
func (r *Repository) RoleTableRaw(ctx context.Context) ([]byte, error) {
	value, err := r.Option(ctx, OptionRoleTable)
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

// SaveRoleTable serializes and stores the role table.
func (r *Repository) SaveRoleTable(ctx context.Context, table RoleTable) error {
	table.Normalize()
	raw, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("capstore: encode role table: %w", err)
	}
	return r.SaveRoleTableRaw(ctx, raw)
}

// SaveRoleTableRaw stores the role table bytes verbatim.
func (r *Repository) SaveRoleTableRaw(ctx context.Context, raw []byte) error {
	return r.SetOption(ctx, OptionRoleTable, string(raw))
}

// DeleteRoleTable removes the role table option entirely.
func (r *Repository) DeleteRoleTable(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM options WHERE key = $1`, OptionRoleTable)
	return err
}

// Role fetches a single role from the table.
func (r *Repository) Role(ctx context.Context, name string) (Role, error) {
	table, err := r.RoleTable(ctx)
	if err != nil {
		return Role{}, err
	}
	role, ok := table[name]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

// User fetches an account row by id.
func (r *Repository) User(ctx context.Context, userID int64) (User, error) {
	var user User
	err := r.pool.QueryRow(ctx,
		`SELECT id, login, email, user_level, created_at FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.Login, &user.Email, &user.Level, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}

// CreateUser inserts an account. A login collision maps to ErrDuplicate.
func (r *Repository) CreateUser(ctx context.Context, user NewUser) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, email, password_hash, user_level, caps, created_at)
		 VALUES ($1, $2, $3, $4, '{}', NOW()) RETURNING id`,
		user.Login, user.Email, user.PasswordHash, user.Level,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

// UserDirectCaps decodes a user's direct capability record. A record that
// is not a non-empty JSON object maps to ErrCapsCorrupted.
func (r *Repository) UserDirectCaps(ctx context.Context, userID int64) (Grants, error) {
	raw, err := r.UserDirectCapsRaw(ctx, userID)
	if err != nil {
		return nil, err
	}
	return DecodeGrants(raw)
}

// UserDirectCapsRaw returns the stored record bytes verbatim.
func (r *Repository) UserDirectCapsRaw(ctx context.Context, userID int64) ([]byte, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT caps FROM users WHERE id = $1`, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return []byte(raw), nil
}

// SetUserDirectCaps replaces the user's direct capability record.
func (r *Repository) SetUserDirectCaps(ctx context.Context, userID int64, caps Grants) error {
	raw, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("capstore: encode caps: %w", err)
	}
	return r.SetUserDirectCapsRaw(ctx, userID, raw)
}

// SetUserDirectCapsRaw replaces the record with the given bytes verbatim.
func (r *Repository) SetUserDirectCapsRaw(ctx context.Context, userID int64, raw []byte) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET caps = $2 WHERE id = $1`, userID, string(raw))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddUserRole adds the role flag to the user's existing record without
// removing other entries.
func (r *Repository) AddUserRole(ctx context.Context, userID int64, role string) error {
	caps, err := r.UserDirectCaps(ctx, userID)
	if err != nil {
		return err
	}
	if caps[role] {
		return nil
	}
	caps[role] = true
	return r.SetUserDirectCaps(ctx, userID, caps)
}

// SetUserLevel updates the legacy numeric privilege level.
func (r *Repository) SetUserLevel(ctx context.Context, userID int64, level int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET user_level = $2 WHERE id = $1`, userID, level)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Option reads a global configuration value.
func (r *Repository) Option(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM options WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// SetOption upserts a global configuration value.
func (r *Repository) SetOption(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO options (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	return err
}

// InvalidateUserCache drops the user's resolved-capability cache entry so
// subsequent reads are not served stale.
func (r *Repository) InvalidateUserCache(ctx context.Context, userID int64) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, UserCapsCacheKey(userID)).Err()
}

// PutSnapshot persists a recovery snapshot. Snapshots are immutable;
// writing an existing id is rejected.
func (r *Repository) PutSnapshot(ctx context.Context, id string, data []byte) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO snapshots (id, data, created_at) VALUES ($1, $2, NOW())`,
		id, data,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
	}
	return err
}

// GetSnapshot fetches a snapshot by id.
func (r *Repository) GetSnapshot(ctx context.Context, id string) (SnapshotRecord, error) {
	var rec SnapshotRecord
	err := r.pool.QueryRow(ctx,
		`SELECT id, data, created_at FROM snapshots WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Data, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SnapshotRecord{}, ErrNotFound
		}
		return SnapshotRecord{}, err
	}
	return rec, nil
}

// ListSnapshots returns all snapshots, newest first.
func (r *Repository) ListSnapshots(ctx context.Context) ([]SnapshotRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, data, created_at FROM snapshots ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		if err := rows.Scan(&rec.ID, &rec.Data, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteSnapshot removes a snapshot by id.
func (r *Repository) DeleteSnapshot(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM snapshots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DecodeGrants parses a direct capability record, enforcing the integrity
// rules the user-record check relies on.
func DecodeGrants(raw []byte) (Grants, error) {
	var caps Grants
	if err := json.Unmarshal(raw, &caps); err != nil {
		return nil, ErrCapsCorrupted
	}
	if len(caps) == 0 {
		return nil, ErrCapsCorrupted
	}
	return caps, nil
}
