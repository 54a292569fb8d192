package repair

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rolemedic/rolemedic/internal/capstore"
)

func (f *Fixer) fixStorefrontInactive(ctx context.Context, _ int64) FixResult {
	active, err := f.env.ModuleActive(ctx, capstore.StorefrontModule)
	if err != nil {
		return failedErr("read module registry", err)
	}
	if active {
		return fixed("The storefront module is already active.")
	}
	installed, err := f.env.ModuleInstalled(ctx, capstore.StorefrontModule)
	if err != nil {
		return failedErr("read module registry", err)
	}
	if !installed {
		return failed("The storefront module is not installed; install it before activating.")
	}
	if err := f.env.ActivateModule(ctx, capstore.StorefrontModule); err != nil {
		return failedErr("activate storefront module", err)
	}
	return fixed("Activated the storefront module.")
}

func (f *Fixer) adviseStorefrontReinstall(_ context.Context, _ int64) FixResult {
	return failed("The storefront module's core hooks are missing. Reinstall the module; a partial install cannot be repaired in place.")
}

// fixAdminRoleMissing restores built-in roles that disappeared from the
// role table. Existing roles are left untouched.
func (f *Fixer) fixAdminRoleMissing(ctx context.Context, operatorID int64) FixResult {
	table, err := f.store.RoleTable(ctx)
	if err != nil {
		if !errors.Is(err, capstore.ErrNotFound) {
			return failedErr("read role table", err)
		}
		table = capstore.RoleTable{}
	}
	if _, ok := table[capstore.BaselineRole]; ok {
		return fixed("The administrator role already exists.")
	}

	var restored []string
	for name, role := range capstore.DefaultRoleTable() {
		if _, ok := table[name]; !ok {
			table[name] = role
			restored = append(restored, name)
		}
	}
	if err := f.store.SaveRoleTable(ctx, table); err != nil {
		return failedErr("save role table", err)
	}
	_ = f.store.InvalidateUserCache(ctx, operatorID)
	sort.Strings(restored)
	return fixed("Recreated missing built-in roles: " + strings.Join(restored, ", ") + ".")
}

// fixAdminCapsMissing grants the fixed capability list to the baseline
// role. It only ever adds grants.
func (f *Fixer) fixAdminCapsMissing(ctx context.Context, operatorID int64) FixResult {
	table, err := f.store.RoleTable(ctx)
	if err != nil {
		if !errors.Is(err, capstore.ErrNotFound) {
			return failedErr("read role table", err)
		}
		table = capstore.DefaultRoleTable()
	}
	role, ok := table[capstore.BaselineRole]
	if !ok {
		role = capstore.DefaultRoleTable()[capstore.BaselineRole]
	}

	var granted []string
	for _, cap := range capstore.AdminGrantCaps {
		if !role.Capabilities[cap] {
			role.Capabilities[cap] = true
			granted = append(granted, cap)
		}
	}
	if len(granted) == 0 {
		return fixed("The administrator role already carries its essential capabilities.")
	}
	table[capstore.BaselineRole] = role
	if err := f.store.SaveRoleTable(ctx, table); err != nil {
		return failedErr("save role table", err)
	}
	_ = f.store.InvalidateUserCache(ctx, operatorID)
	return fixed("Granted capabilities to the administrator role: " + strings.Join(granted, ", ") + ".")
}

func (f *Fixer) adviseCoreTableRestore(_ context.Context, _ int64) FixResult {
	return failed("A core table is missing. Restore the database from backup or re-run the platform installer; the engine will not recreate core tables.")
}

func (f *Fixer) fixStorefrontTables(ctx context.Context, _ int64) FixResult {
	if err := f.env.EnsureStorefrontTables(ctx); err != nil {
		return failedErr("create storefront tables", err)
	}
	return fixed("Ran the storefront schema routine; missing tables were created.")
}

// fixStorefrontUserCaps grants the storefront set directly to the
// operating user so the repair takes effect without role propagation.
func (f *Fixer) fixStorefrontUserCaps(ctx context.Context, operatorID int64) FixResult {
	direct, err := f.store.UserDirectCaps(ctx, operatorID)
	if err != nil {
		if errors.Is(err, capstore.ErrCapsCorrupted) {
			return failed("Your capability record is corrupted; run the corrupted-record fix first.")
		}
		return failedErr("read capability record", err)
	}

	var granted []string
	for _, cap := range capstore.StorefrontUserGrantCaps {
		if !direct[cap] {
			direct[cap] = true
			granted = append(granted, cap)
		}
	}
	if len(granted) == 0 {
		return fixed("Your account already holds the storefront capabilities.")
	}
	if err := f.store.SetUserDirectCaps(ctx, operatorID, direct); err != nil {
		return failedErr("save capability record", err)
	}
	_ = f.store.InvalidateUserCache(ctx, operatorID)
	return fixed("Granted storefront capabilities to your account: " + strings.Join(granted, ", ") + ".")
}

// fixStorefrontMenu grants the menu gate capability, flushes the menu
// cache and forces the entry back into the registry.
func (f *Fixer) fixStorefrontMenu(ctx context.Context, operatorID int64) FixResult {
	direct, err := f.store.UserDirectCaps(ctx, operatorID)
	if err == nil && !direct[capstore.MenuGateCap] {
		direct[capstore.MenuGateCap] = true
		if err := f.store.SetUserDirectCaps(ctx, operatorID, direct); err != nil {
			return failedErr("save capability record", err)
		}
		_ = f.store.InvalidateUserCache(ctx, operatorID)
	}
	if err := f.env.InvalidateMenuCache(ctx, capstore.StorefrontModule); err != nil {
		return failedErr("flush menu cache", err)
	}
	if err := f.env.RegisterMenu(ctx, capstore.StorefrontModule); err != nil {
		return failedErr("register storefront menu", err)
	}
	return fixed("Granted the menu gate capability and re-registered the storefront menu.")
}

// fixUserCapsCorrupted replaces the unreadable record with a minimal valid
// one naming the baseline role, and restores the legacy level.
func (f *Fixer) fixUserCapsCorrupted(ctx context.Context, operatorID int64) FixResult {
	if _, err := f.store.UserDirectCaps(ctx, operatorID); err == nil {
		return fixed("Your capability record is already readable.")
	}
	reset := capstore.Grants{capstore.BaselineRole: true}
	if err := f.store.SetUserDirectCaps(ctx, operatorID, reset); err != nil {
		return failedErr("rewrite capability record", err)
	}
	if err := f.store.SetUserLevel(ctx, operatorID, capstore.MaxUserLevel); err != nil {
		return failedErr("restore user level", err)
	}
	_ = f.store.InvalidateUserCache(ctx, operatorID)
	return fixed("Rewrote your capability record with the administrator role.")
}

func (f *Fixer) fixUserAdminMissing(ctx context.Context, operatorID int64) FixResult {
	direct, err := f.store.UserDirectCaps(ctx, operatorID)
	if err != nil {
		if errors.Is(err, capstore.ErrCapsCorrupted) {
			return failed("Your capability record is corrupted; run the corrupted-record fix first.")
		}
		return failedErr("read capability record", err)
	}
	if direct[capstore.BaselineRole] {
		return fixed("Your account already holds the administrator role.")
	}
	if err := f.store.AddUserRole(ctx, operatorID, capstore.BaselineRole); err != nil {
		return failedErr("add administrator role", err)
	}
	_ = f.store.InvalidateUserCache(ctx, operatorID)
	return fixed("Added the administrator role to your account.")
}

func (f *Fixer) fixMissingOptions(ctx context.Context, _ int64) FixResult {
	var restored []string
	for key, fallback := range capstore.EssentialOptions() {
		if _, err := f.store.Option(ctx, key); err == nil {
			continue
		} else if !errors.Is(err, capstore.ErrNotFound) {
			return failedErr("read option "+key, err)
		}
		if err := f.store.SetOption(ctx, key, fallback); err != nil {
			return failedErr("restore option "+key, err)
		}
		restored = append(restored, key)
	}
	if len(restored) == 0 {
		return fixed("All essential options are already present.")
	}
	sort.Strings(restored)
	return fixed("Restored essential options to defaults: " + strings.Join(restored, ", ") + ".")
}

func (f *Fixer) fixStorageWritable(_ context.Context, _ int64) FixResult {
	writable, err := f.env.StorageWritable()
	if err == nil && writable {
		return fixed("The storage path is already writable.")
	}
	if err := f.env.EnsureStorageWritable(); err != nil {
		return failedErr("repair storage path", err)
	}
	return fixed("Recreated the storage path with writable permissions.")
}

func (f *Fixer) adviseModuleConflict(_ context.Context, _ int64) FixResult {
	return failed("Modules that rewrite roles or menus are active. Deactivate them manually; the engine will not deactivate third-party modules.")
}

func (f *Fixer) adviseThemeReview(_ context.Context, _ int64) FixResult {
	return failed("Theme customization code appears to hide menus or strip capabilities. Review and remove the offending code; automated edits are not attempted.")
}
