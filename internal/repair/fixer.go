// Package repair maps detected issue codes to corrective actions and
// applies them in report order.
package repair

import (
	"context"
	"log/slog"

	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/diagnose"
	"github.com/rolemedic/rolemedic/internal/rbac"
	"github.com/rolemedic/rolemedic/internal/shared"
	"github.com/rolemedic/rolemedic/internal/sysenv"
)

// FixStatus classifies one fix attempt.
type FixStatus string

const (
	FixStatusFixed   FixStatus = "fixed"
	FixStatusFailed  FixStatus = "failed"
	FixStatusSkipped FixStatus = "skipped"
)

// FixResult is the outcome of one fix attempt.
type FixResult struct {
	Code    diagnose.IssueCode `json:"issue_code"`
	Status  FixStatus          `json:"status"`
	Message string             `json:"message"`
}

// Fixer applies corrective actions. Every action re-verifies its condition
// before mutating, so applying a fix to a healthy system reports fixed
// without side effects.
type Fixer struct {
	store  capstore.Store
	env    sysenv.Environment
	rbac   *rbac.Service
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewFixer constructs a Fixer. audit may be nil.
func NewFixer(store capstore.Store, env sysenv.Environment, authz *rbac.Service, audit *shared.AuditLogger, logger *slog.Logger) *Fixer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fixer{store: store, env: env, rbac: authz, audit: audit, logger: logger}
}

type fixFunc func(ctx context.Context, operatorID int64) FixResult

// actions is the complete dispatch table. Every code in the issue
// enumeration has an entry; codes whose remedy needs a human report failed
// with guidance rather than skipped.
func (f *Fixer) actions() map[diagnose.IssueCode]fixFunc {
	return map[diagnose.IssueCode]fixFunc{
		diagnose.IssueStorefrontInactive:        f.fixStorefrontInactive,
		diagnose.IssueStorefrontCoreMissing:     f.adviseStorefrontReinstall,
		diagnose.IssueAdminRoleMissing:          f.fixAdminRoleMissing,
		diagnose.IssueAdminCapsMissing:          f.fixAdminCapsMissing,
		diagnose.IssueCoreTableMissing:          f.adviseCoreTableRestore,
		diagnose.IssueStorefrontTableMissing:    f.fixStorefrontTables,
		diagnose.IssueStorefrontUserCapsMissing: f.fixStorefrontUserCaps,
		diagnose.IssueStorefrontMenuMissing:     f.fixStorefrontMenu,
		diagnose.IssueUserCapsCorrupted:         f.fixUserCapsCorrupted,
		diagnose.IssueUserAdminMissing:          f.fixUserAdminMissing,
		diagnose.IssueOptionMissing:             f.fixMissingOptions,
		diagnose.IssueStorageNotWritable:        f.fixStorageWritable,
		diagnose.IssueModuleConflict:            f.adviseModuleConflict,
		diagnose.IssueThemeInterference:         f.adviseThemeReview,
	}
}

// Apply runs the registered action for each code, in the given order, with
// duplicates collapsed onto their first occurrence. Codes outside the
// enumeration are skipped by name. The operator must hold manage_options.
func (f *Fixer) Apply(ctx context.Context, operatorID int64, codes []diagnose.IssueCode) ([]FixResult, error) {
	if err := f.rbac.Authorize(ctx, operatorID, capstore.CapManageOptions); err != nil {
		return nil, err
	}

	table := f.actions()
	seen := make(map[diagnose.IssueCode]bool, len(codes))
	results := make([]FixResult, 0, len(codes))
	for _, code := range codes {
		if seen[code] {
			continue
		}
		seen[code] = true

		action, known := table[code]
		if !known {
			results = append(results, FixResult{
				Code:    code,
				Status:  FixStatusSkipped,
				Message: "No fix is registered for issue code " + string(code) + ".",
			})
			continue
		}

		result := action(ctx, operatorID)
		result.Code = code
		results = append(results, result)

		f.logger.Info("fix applied",
			slog.String("issue_code", string(code)),
			slog.String("status", string(result.Status)),
			slog.Int64("operator_id", operatorID),
		)
		_ = f.audit.Record(ctx, shared.AuditLog{
			ActorID: operatorID,
			Action:  "fix." + string(code),
			Entity:  "health",
			Meta:    map[string]any{"status": string(result.Status), "message": result.Message},
		})
	}
	return results, nil
}

func fixed(msg string) FixResult {
	return FixResult{Status: FixStatusFixed, Message: msg}
}

func failed(msg string) FixResult {
	return FixResult{Status: FixStatusFailed, Message: msg}
}

func failedErr(action string, err error) FixResult {
	return FixResult{Status: FixStatusFailed, Message: action + ": " + err.Error()}
}
