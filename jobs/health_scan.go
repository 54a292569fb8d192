package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/diagnose"
	"github.com/rolemedic/rolemedic/internal/observability"
	"github.com/rolemedic/rolemedic/internal/repair"
)

// HealthScanDeps collects what the scheduled scan needs.
type HealthScanDeps struct {
	Checker    *diagnose.Checker
	Fixer      *repair.Fixer
	Store      capstore.Store
	Client     *Client
	Metrics    *observability.Metrics
	Logger     *slog.Logger
	AlertEmail string
}

// NewHealthScanHandler returns the handler for TaskTypeHealthScan tasks.
// The scan runs the full check battery as the configured service
// operator, applies fixes automatically when the auto-fix option is
// enabled, and enqueues an alert mail when issues remain.
func NewHealthScanHandler(deps HealthScanDeps) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload HealthScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}

		report, err := deps.Checker.Run(ctx, payload.OperatorID)
		if err != nil {
			return fmt.Errorf("jobs: scheduled health check: %w", err)
		}

		codes := make([]string, 0, len(report.IssueCodes))
		for _, code := range report.IssueCodes {
			codes = append(codes, string(code))
		}
		deps.Metrics.ObserveHealthCheck(codes)

		if !report.HasIssues() {
			deps.Logger.Info("scheduled health check clean",
				slog.String("report_id", report.ID.String()))
			return nil
		}

		deps.Logger.Warn("scheduled health check found issues",
			slog.String("report_id", report.ID.String()),
			slog.Any("issue_codes", codes),
		)

		var fixLines []string
		if autoFixEnabled(ctx, deps.Store) {
			results, err := deps.Fixer.Apply(ctx, payload.OperatorID, report.IssueCodes)
			if err != nil {
				return fmt.Errorf("jobs: auto-fix: %w", err)
			}
			for _, res := range results {
				deps.Metrics.ObserveFix(string(res.Status))
				fixLines = append(fixLines, fmt.Sprintf("%s: %s (%s)", res.Code, res.Status, res.Message))
			}
		}

		if deps.AlertEmail == "" || deps.Client == nil {
			return nil
		}
		body := "Scheduled access-control health check found issues.\n\n" +
			"Report: " + report.ID.String() + "\n" +
			"Issue codes: " + strings.Join(codes, ", ") + "\n"
		if len(fixLines) > 0 {
			body += "\nAuto-fix results:\n" + strings.Join(fixLines, "\n") + "\n"
		}
		_, err = deps.Client.EnqueueSendEmail(ctx, SendEmailPayload{
			To:      deps.AlertEmail,
			Subject: fmt.Sprintf("Health check: %d issue(s) detected", len(codes)),
			Body:    body,
		})
		return err
	}
}

func autoFixEnabled(ctx context.Context, store capstore.Store) bool {
	value, err := store.Option(ctx, capstore.OptionAutoFix)
	if err != nil {
		return false
	}
	return value == "1" || value == "enabled" || value == "true"
}
