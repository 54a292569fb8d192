package diagnose

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/sysenv"
)

// conflictModules are third-party modules known to rewrite roles or admin
// menus behind the engine's back.
var conflictModules = map[string]string{
	"role-editor":        "Role Editor",
	"members-manager":    "Members Manager",
	"capability-manager": "Capability Manager",
	"admin-menu-editor":  "Admin Menu Editor",
	"white-label-admin":  "White Label Admin",
}

// interferencePatterns flag theme customization code that hides menus or
// strips storefront capabilities at runtime.
var interferencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)remove_menu_page`),
	regexp.MustCompile(`(?i)remove_submenu_page`),
	regexp.MustCompile(`(?i)current_user_can\s*\(\s*["']manage_storefront["']`),
	regexp.MustCompile(`(?i)unset\s*\(.*storefront`),
	regexp.MustCompile(`(?i)admin_menu.*remove`),
}

func (c *Checker) checkStorefrontModule(ctx context.Context, _ int64) CheckResult {
	active, err := c.env.ModuleActive(ctx, capstore.StorefrontModule)
	if err != nil {
		return crit(IssueStorefrontInactive, fmt.Sprintf("Unable to read the module registry: %v", err))
	}
	if !active {
		installed, err := c.env.ModuleInstalled(ctx, capstore.StorefrontModule)
		if err == nil && !installed {
			return crit(IssueStorefrontInactive, "The storefront module is not installed.")
		}
		return crit(IssueStorefrontInactive, "The storefront module is installed but not active.")
	}

	hooks, err := c.env.RegisteredHooks(ctx)
	if err != nil {
		return crit(IssueStorefrontCoreMissing, fmt.Sprintf("Unable to read registered hooks: %v", err))
	}
	registered := make(map[string]bool, len(hooks))
	for _, h := range hooks {
		registered[h] = true
	}
	var missing []string
	for _, h := range capstore.StorefrontCoreHooks {
		if !registered[h] {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return crit(IssueStorefrontCoreMissing,
			"The storefront module is active but its core hooks are missing: "+strings.Join(missing, ", "))
	}
	return good("The storefront module is active and its core hooks are registered.")
}

func (c *Checker) checkUserRoles(ctx context.Context, _ int64) CheckResult {
	role, err := c.store.Role(ctx, capstore.BaselineRole)
	if err != nil {
		if errors.Is(err, capstore.ErrNotFound) {
			return crit(IssueAdminRoleMissing, "The administrator role does not exist.")
		}
		return crit(IssueAdminRoleMissing, fmt.Sprintf("Unable to read the role table: %v", err))
	}

	var missing []string
	for _, cap := range capstore.EssentialAdminCaps {
		if !role.Has(cap) {
			missing = append(missing, cap)
		}
	}
	if len(missing) > 0 {
		return crit(IssueAdminCapsMissing,
			"The administrator role is missing essential capabilities: "+strings.Join(missing, ", "))
	}
	return good("The administrator role exists and carries its essential capabilities.")
}

func (c *Checker) checkDatabase(ctx context.Context, _ int64) CheckResult {
	for _, table := range sysenv.CoreTables {
		exists, err := c.env.TableExists(ctx, table)
		if err != nil {
			return crit(IssueCoreTableMissing, fmt.Sprintf("Unable to inspect table %s: %v", table, err))
		}
		if !exists {
			return crit(IssueCoreTableMissing, fmt.Sprintf("Core table %s is missing.", table))
		}
	}

	active, err := c.env.ModuleActive(ctx, capstore.StorefrontModule)
	if err == nil && active {
		var missing []string
		for _, table := range sysenv.StorefrontTables {
			exists, err := c.env.TableExists(ctx, table)
			if err != nil {
				return warn(IssueStorefrontTableMissing, fmt.Sprintf("Unable to inspect table %s: %v", table, err))
			}
			if !exists {
				missing = append(missing, table)
			}
		}
		if len(missing) > 0 {
			return warn(IssueStorefrontTableMissing,
				"Storefront tables are missing: "+strings.Join(missing, ", "))
		}
	}
	return good("All required database tables exist.")
}

func (c *Checker) checkStorefrontCapabilities(ctx context.Context, operatorID int64) CheckResult {
	active, err := c.env.ModuleActive(ctx, capstore.StorefrontModule)
	if err != nil || !active {
		return good("Skipped: the storefront module is not active.")
	}

	eff, err := c.rbac.EffectiveCaps(ctx, operatorID)
	if err != nil {
		return crit(IssueStorefrontUserCapsMissing, fmt.Sprintf("Unable to resolve your capabilities: %v", err))
	}
	var missing []string
	for _, cap := range capstore.StorefrontUserCaps {
		if !eff[cap] {
			missing = append(missing, cap)
		}
	}
	if len(missing) > 0 {
		return crit(IssueStorefrontUserCapsMissing,
			"Your account is missing storefront capabilities: "+strings.Join(missing, ", "))
	}
	return good("Your account holds all storefront capabilities.")
}

func (c *Checker) checkAdminMenus(ctx context.Context, _ int64) CheckResult {
	active, err := c.env.ModuleActive(ctx, capstore.StorefrontModule)
	if err != nil || !active {
		return good("Skipped: the storefront module is not active.")
	}

	state, err := c.env.MenuState(ctx, capstore.StorefrontModule)
	if err != nil {
		return warn(IssueStorefrontMenuMissing, fmt.Sprintf("Unable to probe the admin menu registry: %v", err))
	}
	switch state {
	case sysenv.MenuRegistered:
		return good("The storefront admin menu is registered.")
	case sysenv.MenuUnknown:
		return warn(IssueStorefrontMenuMissing,
			"The admin menu registry has not been populated yet; the storefront menu may still appear.")
	default:
		return warn(IssueStorefrontMenuMissing, "The storefront admin menu is not registered.")
	}
}

func (c *Checker) checkUserRecord(ctx context.Context, operatorID int64) CheckResult {
	direct, err := c.store.UserDirectCaps(ctx, operatorID)
	if err != nil {
		if errors.Is(err, capstore.ErrCapsCorrupted) {
			return crit(IssueUserCapsCorrupted, "Your capability record is corrupted and cannot be read.")
		}
		if errors.Is(err, capstore.ErrNotFound) {
			return crit(IssueUserCapsCorrupted, "Your account has no capability record.")
		}
		return crit(IssueUserCapsCorrupted, fmt.Sprintf("Unable to read your capability record: %v", err))
	}
	if !direct[capstore.BaselineRole] {
		return crit(IssueUserAdminMissing, "Your account does not hold the administrator role.")
	}
	return good("Your capability record is intact and includes the administrator role.")
}

func (c *Checker) checkOptions(ctx context.Context, _ int64) CheckResult {
	keys := make([]string, 0, len(capstore.EssentialOptions()))
	for key := range capstore.EssentialOptions() {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, err := c.store.Option(ctx, key); err != nil {
			if errors.Is(err, capstore.ErrNotFound) {
				return warn(IssueOptionMissing, fmt.Sprintf("Essential option %s is missing.", key))
			}
			return warn(IssueOptionMissing, fmt.Sprintf("Unable to read option %s: %v", key, err))
		}
	}
	return good("All essential options are present.")
}

func (c *Checker) checkStorage(_ context.Context, _ int64) CheckResult {
	writable, err := c.env.StorageWritable()
	if err != nil {
		return warn(IssueStorageNotWritable, fmt.Sprintf("Unable to probe the storage path: %v", err))
	}
	if !writable {
		return warn(IssueStorageNotWritable, "The storage path is not writable.")
	}
	return good("The storage path is writable.")
}

func (c *Checker) checkModuleConflicts(ctx context.Context, _ int64) CheckResult {
	active, err := c.env.ActiveModules(ctx)
	if err != nil {
		return warn(IssueModuleConflict, fmt.Sprintf("Unable to read the module registry: %v", err))
	}
	var found []string
	for _, slug := range active {
		if name, known := conflictModules[slug]; known {
			found = append(found, name)
		}
	}
	if len(found) > 0 {
		sort.Strings(found)
		return warn(IssueModuleConflict,
			"Modules that may interfere with roles or menus are active: "+strings.Join(found, ", "))
	}
	return good("No known conflicting modules are active.")
}

func (c *Checker) checkCustomCode(_ context.Context, _ int64) CheckResult {
	source, err := c.env.ThemeSource()
	if err != nil {
		return warn(IssueThemeInterference, fmt.Sprintf("Unable to read theme customization code: %v", err))
	}
	if source == "" {
		return good("No theme customization code to inspect.")
	}
	for _, pattern := range interferencePatterns {
		if pattern.MatchString(source) {
			return warn(IssueThemeInterference,
				"Theme customization code matches a pattern known to hide menus or strip capabilities.")
		}
	}
	return good("Theme customization code shows no signs of interference.")
}
