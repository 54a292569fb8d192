package diagnose

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/rbac"
	"github.com/rolemedic/rolemedic/internal/sysenv"
)

// Checker runs the health-check battery. Checks execute in a fixed order
// and never abort the run: any condition a check detects, including an
// unreadable store, is folded into its result.
type Checker struct {
	store  capstore.Store
	env    sysenv.Environment
	rbac   *rbac.Service
	logger *slog.Logger
	now    func() time.Time
}

// NewChecker constructs a Checker.
func NewChecker(store capstore.Store, env sysenv.Environment, authz *rbac.Service, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{store: store, env: env, rbac: authz, logger: logger, now: time.Now}
}

type check struct {
	name string
	run  func(ctx context.Context, operatorID int64) CheckResult
}

func (c *Checker) registry() []check {
	return []check{
		{"storefront_module", c.checkStorefrontModule},
		{"user_roles", c.checkUserRoles},
		{"database", c.checkDatabase},
		{"storefront_capabilities", c.checkStorefrontCapabilities},
		{"admin_menus", c.checkAdminMenus},
		{"user_record", c.checkUserRecord},
		{"options", c.checkOptions},
		{"storage", c.checkStorage},
		{"module_conflicts", c.checkModuleConflicts},
		{"custom_code", c.checkCustomCode},
	}
}

// Run executes every check and returns the full report. The operator must
// hold manage_options.
func (c *Checker) Run(ctx context.Context, operatorID int64) (*Report, error) {
	if err := c.rbac.Authorize(ctx, operatorID, capstore.CapManageOptions); err != nil {
		return nil, err
	}

	report := &Report{ID: uuid.New(), OperatorID: operatorID, StartedAt: c.now().UTC()}
	for _, chk := range c.registry() {
		result := chk.run(ctx, operatorID)
		result.Name = chk.name
		report.append(result)
	}

	c.logger.Info("health check complete",
		slog.String("report_id", report.ID.String()),
		slog.Int64("operator_id", operatorID),
		slog.Int("issues", len(report.IssueCodes)),
	)
	return report, nil
}

func good(msg string) CheckResult {
	return CheckResult{Status: StatusGood, Message: msg}
}

func warn(code IssueCode, msg string) CheckResult {
	return CheckResult{Status: StatusWarning, Message: msg, Issue: code}
}

func crit(code IssueCode, msg string) CheckResult {
	return CheckResult{Status: StatusCritical, Message: msg, Issue: code}
}
