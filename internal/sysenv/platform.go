package sysenv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/platform/db"
)

const (
	menuRegistryKey = "menus:registered"
	menuSeededKey   = "menus:seeded"
	menuCachePrefix = "menu:cache:"
)

// Platform is the production Environment: module registry and hooks in the
// options store, tables in PostgreSQL, the menu registry in Redis, storage
// path and theme source on the filesystem.
type Platform struct {
	store       capstore.Store
	pool        *pgxpool.Pool
	redis       *redis.Client
	storagePath string
	themeFile   string
}

// NewPlatform constructs a Platform environment.
func NewPlatform(store capstore.Store, pool *pgxpool.Pool, rdb *redis.Client, storagePath, themeFile string) *Platform {
	return &Platform{
		store:       store,
		pool:        pool,
		redis:       rdb,
		storagePath: storagePath,
		themeFile:   themeFile,
	}
}

func (p *Platform) moduleList(ctx context.Context, option string) ([]string, error) {
	value, err := p.store.Option(ctx, option)
	if err != nil {
		if errors.Is(err, capstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var slugs []string
	if err := json.Unmarshal([]byte(value), &slugs); err != nil {
		return nil, fmt.Errorf("sysenv: decode %s: %w", option, err)
	}
	return slugs, nil
}

// ModuleInstalled reports whether the module's code is present.
func (p *Platform) ModuleInstalled(ctx context.Context, slug string) (bool, error) {
	slugs, err := p.moduleList(ctx, capstore.OptionInstalledModules)
	if err != nil {
		return false, err
	}
	return contains(slugs, slug), nil
}

// ModuleActive reports whether the module is activated.
func (p *Platform) ModuleActive(ctx context.Context, slug string) (bool, error) {
	slugs, err := p.moduleList(ctx, capstore.OptionActiveModules)
	if err != nil {
		return false, err
	}
	return contains(slugs, slug), nil
}

// ActiveModules lists activated module slugs.
func (p *Platform) ActiveModules(ctx context.Context) ([]string, error) {
	return p.moduleList(ctx, capstore.OptionActiveModules)
}

// ActivateModule adds the module to the active list.
func (p *Platform) ActivateModule(ctx context.Context, slug string) error {
	slugs, err := p.moduleList(ctx, capstore.OptionActiveModules)
	if err != nil {
		return err
	}
	if contains(slugs, slug) {
		return nil
	}
	raw, err := json.Marshal(append(slugs, slug))
	if err != nil {
		return err
	}
	return p.store.SetOption(ctx, capstore.OptionActiveModules, string(raw))
}

// RegisteredHooks lists the extension points active modules registered.
func (p *Platform) RegisteredHooks(ctx context.Context) ([]string, error) {
	value, err := p.store.Option(ctx, capstore.OptionRegisteredHooks)
	if err != nil {
		if errors.Is(err, capstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var hooks []string
	if err := json.Unmarshal([]byte(value), &hooks); err != nil {
		return nil, fmt.Errorf("sysenv: decode hooks: %w", err)
	}
	return hooks, nil
}

// TableExists consults information_schema for the table.
func (p *Platform) TableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, name).Scan(&exists)
	return exists, err
}

// EnsureStorefrontTables runs the storefront module's own schema routine.
func (p *Platform) EnsureStorefrontTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS storefront_sessions (
			session_id BIGSERIAL PRIMARY KEY,
			session_key TEXT NOT NULL UNIQUE,
			session_value TEXT NOT NULL,
			session_expiry BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS storefront_order_items (
			order_item_id BIGSERIAL PRIMARY KEY,
			order_item_name TEXT NOT NULL,
			order_item_type TEXT NOT NULL DEFAULT '',
			order_id BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS storefront_order_itemmeta (
			meta_id BIGSERIAL PRIMARY KEY,
			order_item_id BIGINT NOT NULL,
			meta_key TEXT,
			meta_value TEXT
		)`,
	}
	err := db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sysenv: create storefront tables: %w", err)
	}
	return nil
}

// MenuState probes the admin menu registry.
func (p *Platform) MenuState(ctx context.Context, slug string) (MenuState, error) {
	member, err := p.redis.SIsMember(ctx, menuRegistryKey, slug).Result()
	if err != nil {
		return MenuUnknown, err
	}
	if member {
		return MenuRegistered, nil
	}
	seeded, err := p.redis.Exists(ctx, menuSeededKey).Result()
	if err != nil {
		return MenuUnknown, err
	}
	if seeded == 0 {
		return MenuUnknown, nil
	}
	return MenuAbsent, nil
}

// RegisterMenu forces the menu entry into the registry, marking the
// registry as populated.
func (p *Platform) RegisterMenu(ctx context.Context, slug string) error {
	if err := p.redis.SAdd(ctx, menuRegistryKey, slug).Err(); err != nil {
		return err
	}
	return p.redis.Set(ctx, menuSeededKey, "1", 0).Err()
}

// InvalidateMenuCache drops any cached registration for the entry.
func (p *Platform) InvalidateMenuCache(ctx context.Context, slug string) error {
	return p.redis.Del(ctx, menuCachePrefix+slug).Err()
}

// StorageWritable probes the storage path with a scratch file.
func (p *Platform) StorageWritable() (bool, error) {
	f, err := os.CreateTemp(p.storagePath, ".rolemedic-probe-*")
	if err != nil {
		if os.IsPermission(err) || os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true, nil
}

// EnsureStorageWritable creates the storage path with writable
// permissions.
func (p *Platform) EnsureStorageWritable() error {
	if err := os.MkdirAll(p.storagePath, 0o755); err != nil {
		return err
	}
	ok, err := p.StorageWritable()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sysenv: storage path %s still not writable", p.storagePath)
	}
	return nil
}

// ThemeSource returns the active theme's customization code, or empty when
// none exists.
func (p *Platform) ThemeSource() (string, error) {
	if p.themeFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Clean(p.themeFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// DatabaseVersion reports the backing database server version.
func (p *Platform) DatabaseVersion(ctx context.Context) (string, error) {
	var version string
	err := p.pool.QueryRow(ctx, `SELECT version()`).Scan(&version)
	return version, err
}

func contains(slugs []string, slug string) bool {
	for _, s := range slugs {
		if s == slug {
			return true
		}
	}
	return false
}
