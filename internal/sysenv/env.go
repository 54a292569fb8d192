// Package sysenv adapts the parts of the platform environment the
// diagnostic checks probe and the fixes mutate: the module registry,
// extension hooks, storage tables, the admin menu registry, the storage
// path and theme customization code.
package sysenv

import "context"

// MenuState is the three-valued result of the admin-menu probe. Unknown
// means the registry has not been populated yet, which is a benign timing
// race rather than a confirmed absence.
type MenuState int

const (
	MenuUnknown MenuState = iota
	MenuRegistered
	MenuAbsent
)

// Environment is the read/write surface against the managed platform.
type Environment interface {
	ModuleInstalled(ctx context.Context, slug string) (bool, error)
	ModuleActive(ctx context.Context, slug string) (bool, error)
	ActivateModule(ctx context.Context, slug string) error
	ActiveModules(ctx context.Context) ([]string, error)
	RegisteredHooks(ctx context.Context) ([]string, error)

	TableExists(ctx context.Context, name string) (bool, error)
	EnsureStorefrontTables(ctx context.Context) error

	MenuState(ctx context.Context, slug string) (MenuState, error)
	RegisterMenu(ctx context.Context, slug string) error
	InvalidateMenuCache(ctx context.Context, slug string) error

	StorageWritable() (bool, error)
	EnsureStorageWritable() error

	ThemeSource() (string, error)
	DatabaseVersion(ctx context.Context) (string, error)
}

// CoreTables are the storage structures the engine itself depends on.
var CoreTables = []string{"users", "options", "snapshots", "audit_logs"}

// StorefrontTables are the dependent subsystem's storage structures.
var StorefrontTables = []string{
	"storefront_sessions",
	"storefront_order_items",
	"storefront_order_itemmeta",
}
