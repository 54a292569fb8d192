// Package capstore persists the access-control state rolemedic manages:
// the role table, per-user direct capability records, global options and
// recovery snapshots.
package capstore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("capstore: not found")
	// ErrDuplicate indicates a unique constraint was violated.
	ErrDuplicate = errors.New("capstore: duplicate")
	// ErrCapsCorrupted indicates a user's direct capability record does
	// not deserialize into a non-empty grant map.
	ErrCapsCorrupted = errors.New("capstore: capability record corrupted")
)

const (
	// BaselineRole is the highest-privilege built-in role.
	BaselineRole = "administrator"

	// CapManageOptions gates ordinary administrative operations.
	CapManageOptions = "manage_options"
	// CapEditModules gates code-level operations. Recovery paths require
	// it so a merely locked-out administrator cannot trigger them.
	CapEditModules = "edit_modules"

	// MaxUserLevel is the legacy numeric privilege ceiling.
	MaxUserLevel = 10

	// OptionRoleTable is the options key holding the serialized role table.
	OptionRoleTable = "role_table"
	// OptionActiveModules and OptionInstalledModules hold JSON string
	// arrays of module slugs.
	OptionActiveModules    = "active_modules"
	OptionInstalledModules = "installed_modules"
	// OptionRegisteredHooks holds the JSON array of extension points the
	// active modules registered.
	OptionRegisteredHooks = "registered_hooks"
	// OptionAdminEmail is the site contact address.
	OptionAdminEmail = "admin_email"
	// OptionAutoFix enables automatic repair from the periodic scan.
	OptionAutoFix = "auto_fix"
	// OptionStylesheet and OptionTemplate identify the active theme.
	OptionStylesheet = "stylesheet"
	OptionTemplate   = "template"
)

// Grants maps a capability name, or a role name, to an explicit boolean.
// A missing key means "not granted"; an explicit false means "denied".
// Role-name keys assign the role's whole capability bundle to the user.
type Grants map[string]bool

// Clone returns an independent copy of the grant map.
func (g Grants) Clone() Grants {
	out := make(Grants, len(g))
	for k, v := range g {
		out[k] = v
	}
	return out
}

// Role is a named, reusable bundle of capability grants.
type Role struct {
	Name         string `json:"name"`
	Capabilities Grants `json:"capabilities"`
}

// Has reports whether the role grants the capability.
func (r Role) Has(cap string) bool {
	return r.Capabilities[cap]
}

// RoleTable maps role identifiers to role definitions. It is persisted as
// one serialized document so it can be snapshotted and replaced atomically.
type RoleTable map[string]Role

// Normalize guarantees the invariant that no role carries a nil
// capability set.
func (t RoleTable) Normalize() {
	for id, role := range t {
		if role.Capabilities == nil {
			role.Capabilities = Grants{}
			t[id] = role
		}
	}
}

// User is an account row without its capability record.
type User struct {
	ID        int64
	Login     string
	Email     string
	Level     int
	CreatedAt time.Time
}

// NewUser carries the fields required to create an account.
type NewUser struct {
	Login        string
	Email        string
	PasswordHash string
	Level        int
}

// SnapshotRecord is one persisted recovery snapshot. Data is opaque to the
// store; the recovery service owns its layout.
type SnapshotRecord struct {
	ID        string
	Data      []byte
	CreatedAt time.Time
}

// UserCapsCacheKey is the cache key under which a user's resolved
// capabilities live. InvalidateUserCache deletes exactly this key.
func UserCapsCacheKey(userID int64) string {
	return fmt.Sprintf("caps:user:%d", userID)
}
