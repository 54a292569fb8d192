// Package diagnose runs the ordered battery of access-control health
// checks and produces the report the fixer consumes.
package diagnose

import (
	"time"

	"github.com/google/uuid"
)

// Status classifies a single check outcome.
type Status string

const (
	StatusGood     Status = "good"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// IssueCode is a stable identifier for a detected deviation. The
// enumeration is closed and versioned: every code a check can emit is
// listed here, and the fixer's action table covers all of them.
type IssueCode string

const (
	IssueStorefrontInactive        IssueCode = "storefront_inactive"
	IssueStorefrontCoreMissing     IssueCode = "storefront_core_missing"
	IssueAdminRoleMissing          IssueCode = "admin_role_missing"
	IssueAdminCapsMissing          IssueCode = "admin_caps_missing"
	IssueCoreTableMissing          IssueCode = "core_table_missing"
	IssueStorefrontTableMissing    IssueCode = "storefront_table_missing"
	IssueStorefrontUserCapsMissing IssueCode = "storefront_user_caps_missing"
	IssueStorefrontMenuMissing     IssueCode = "storefront_menu_missing"
	IssueUserCapsCorrupted         IssueCode = "user_caps_corrupted"
	IssueUserAdminMissing          IssueCode = "user_admin_missing"
	IssueOptionMissing             IssueCode = "option_missing"
	IssueStorageNotWritable        IssueCode = "storage_not_writable"
	IssueModuleConflict            IssueCode = "module_conflict"
	IssueThemeInterference         IssueCode = "theme_interference"
)

// AllIssueCodes enumerates every code a check can emit, in registry order.
func AllIssueCodes() []IssueCode {
	return []IssueCode{
		IssueStorefrontInactive,
		IssueStorefrontCoreMissing,
		IssueAdminRoleMissing,
		IssueAdminCapsMissing,
		IssueCoreTableMissing,
		IssueStorefrontTableMissing,
		IssueStorefrontUserCapsMissing,
		IssueStorefrontMenuMissing,
		IssueUserCapsCorrupted,
		IssueUserAdminMissing,
		IssueOptionMissing,
		IssueStorageNotWritable,
		IssueModuleConflict,
		IssueThemeInterference,
	}
}

// Known reports whether the code belongs to the enumeration.
func (c IssueCode) Known() bool {
	for _, known := range AllIssueCodes() {
		if c == known {
			return true
		}
	}
	return false
}

// CheckResult is one check's outcome. Issue is set exactly when Status is
// not good.
type CheckResult struct {
	Name    string    `json:"name"`
	Status  Status    `json:"status"`
	Message string    `json:"message"`
	Issue   IssueCode `json:"issue_code,omitempty"`
}

// Report is the outcome of one health-check run. It is created fresh per
// invocation and never persisted; IssueCodes holds the deduplicated codes
// in the order they were first observed, which is also the order fixes
// are applied in.
type Report struct {
	ID         uuid.UUID     `json:"id"`
	OperatorID int64         `json:"operator_id"`
	StartedAt  time.Time     `json:"started_at"`
	Results    []CheckResult `json:"results"`
	IssueCodes []IssueCode   `json:"issue_codes"`
}

func (r *Report) append(result CheckResult) {
	r.Results = append(r.Results, result)
	if result.Issue == "" {
		return
	}
	for _, code := range r.IssueCodes {
		if code == result.Issue {
			return
		}
	}
	r.IssueCodes = append(r.IssueCodes, result.Issue)
}

// HasIssues reports whether any check found a deviation.
func (r *Report) HasIssues() bool {
	return len(r.IssueCodes) > 0
}
