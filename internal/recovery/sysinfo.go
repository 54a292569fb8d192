package recovery

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/rolemedic/rolemedic/internal/capstore"
)

// SystemInfo is the diagnostic export attached to support requests.
type SystemInfo struct {
	GeneratedAt      time.Time `json:"generated_at"`
	GoVersion        string    `json:"go_version"`
	DatabaseVersion  string    `json:"database_version"`
	ActiveModules    []string  `json:"active_modules"`
	RegisteredHooks  []string  `json:"registered_hooks"`
	StorefrontActive bool      `json:"storefront_active"`
	RoleTablePresent bool      `json:"role_table_present"`
	RoleCount        int       `json:"role_count"`
	OperatorID       int64     `json:"operator_id"`
	OperatorCapCount int       `json:"operator_cap_count"`
	StorageWritable  bool      `json:"storage_writable"`
	BackupCount      int       `json:"backup_count"`
}

// ExportSystemInfo gathers the environment overview. Reads are best
// effort: a subsystem that cannot be probed leaves its field zero rather
// than failing the export.
func (s *Service) ExportSystemInfo(ctx context.Context, operatorID int64) (*SystemInfo, error) {
	if err := s.rbac.Authorize(ctx, operatorID, capstore.CapManageOptions); err != nil {
		return nil, err
	}

	info := &SystemInfo{
		GeneratedAt: s.now().UTC(),
		GoVersion:   runtime.Version(),
		OperatorID:  operatorID,
	}

	if version, err := s.env.DatabaseVersion(ctx); err == nil {
		info.DatabaseVersion = version
	}
	if modules, err := s.env.ActiveModules(ctx); err == nil {
		info.ActiveModules = modules
	}
	if hooks, err := s.env.RegisteredHooks(ctx); err == nil {
		info.RegisteredHooks = hooks
	}
	if active, err := s.env.ModuleActive(ctx, capstore.StorefrontModule); err == nil {
		info.StorefrontActive = active
	}

	table, err := s.store.RoleTable(ctx)
	switch {
	case err == nil:
		info.RoleTablePresent = true
		info.RoleCount = len(table)
	case errors.Is(err, capstore.ErrNotFound):
		info.RoleTablePresent = false
	}

	if direct, err := s.store.UserDirectCaps(ctx, operatorID); err == nil {
		info.OperatorCapCount = len(direct)
	}
	if writable, err := s.env.StorageWritable(); err == nil {
		info.StorageWritable = writable
	}
	if recs, err := s.snaps.ListSnapshots(ctx); err == nil {
		info.BackupCount = len(recs)
	}
	return info, nil
}
