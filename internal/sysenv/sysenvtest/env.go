// Package sysenvtest provides a configurable in-memory Environment for
// service tests.
package sysenvtest

import (
	"context"
	"errors"

	"github.com/rolemedic/rolemedic/internal/sysenv"
)

// Env implements sysenv.Environment with settable state.
type Env struct {
	Installed map[string]bool
	Active    map[string]bool
	Hooks     []string
	Tables    map[string]bool
	Menu      sysenv.MenuState
	Writable  bool
	Theme     string
	DBVersion string

	// CanCreateTables controls whether EnsureStorefrontTables succeeds.
	CanCreateTables bool
	// CanFixStorage controls whether EnsureStorageWritable succeeds.
	CanFixStorage bool

	RegisteredMenus    []string
	InvalidatedMenus   []string
	ActivatedModules   []string
	TablesEnsured      int
	StorageRepairs     int
}

// NewHealthy returns an environment in which every check passes.
func NewHealthy() *Env {
	tables := make(map[string]bool)
	for _, t := range sysenv.CoreTables {
		tables[t] = true
	}
	for _, t := range sysenv.StorefrontTables {
		tables[t] = true
	}
	return &Env{
		Installed:       map[string]bool{"storefront": true},
		Active:          map[string]bool{"storefront": true},
		Hooks:           []string{"storefront.admin_menu", "storefront.capabilities", "storefront.install"},
		Tables:          tables,
		Menu:            sysenv.MenuRegistered,
		Writable:        true,
		DBVersion:       "PostgreSQL 16.3 (test)",
		CanCreateTables: true,
		CanFixStorage:   true,
	}
}

func (e *Env) ModuleInstalled(ctx context.Context, slug string) (bool, error) {
	return e.Installed[slug], nil
}

func (e *Env) ModuleActive(ctx context.Context, slug string) (bool, error) {
	return e.Active[slug], nil
}

func (e *Env) ActivateModule(ctx context.Context, slug string) error {
	if !e.Installed[slug] {
		return errors.New("sysenvtest: module not installed")
	}
	if e.Active == nil {
		e.Active = make(map[string]bool)
	}
	e.Active[slug] = true
	e.ActivatedModules = append(e.ActivatedModules, slug)
	return nil
}

func (e *Env) ActiveModules(ctx context.Context) ([]string, error) {
	var slugs []string
	for slug, active := range e.Active {
		if active {
			slugs = append(slugs, slug)
		}
	}
	return slugs, nil
}

func (e *Env) RegisteredHooks(ctx context.Context) ([]string, error) {
	return e.Hooks, nil
}

func (e *Env) TableExists(ctx context.Context, name string) (bool, error) {
	return e.Tables[name], nil
}

func (e *Env) EnsureStorefrontTables(ctx context.Context) error {
	if !e.CanCreateTables {
		return errors.New("sysenvtest: schema routine unavailable")
	}
	if e.Tables == nil {
		e.Tables = make(map[string]bool)
	}
	for _, t := range sysenv.StorefrontTables {
		e.Tables[t] = true
	}
	e.TablesEnsured++
	return nil
}

func (e *Env) MenuState(ctx context.Context, slug string) (sysenv.MenuState, error) {
	for _, m := range e.RegisteredMenus {
		if m == slug {
			return sysenv.MenuRegistered, nil
		}
	}
	return e.Menu, nil
}

func (e *Env) RegisterMenu(ctx context.Context, slug string) error {
	e.RegisteredMenus = append(e.RegisteredMenus, slug)
	return nil
}

func (e *Env) InvalidateMenuCache(ctx context.Context, slug string) error {
	e.InvalidatedMenus = append(e.InvalidatedMenus, slug)
	return nil
}

func (e *Env) StorageWritable() (bool, error) {
	return e.Writable, nil
}

func (e *Env) EnsureStorageWritable() error {
	if !e.CanFixStorage {
		return errors.New("sysenvtest: storage path not repairable")
	}
	e.Writable = true
	e.StorageRepairs++
	return nil
}

func (e *Env) ThemeSource() (string, error) {
	return e.Theme, nil
}

func (e *Env) DatabaseVersion(ctx context.Context) (string, error) {
	return e.DBVersion, nil
}
