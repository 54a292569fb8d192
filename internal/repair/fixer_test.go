package repair_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/capstore/capstoretest"
	"github.com/rolemedic/rolemedic/internal/diagnose"
	"github.com/rolemedic/rolemedic/internal/rbac"
	"github.com/rolemedic/rolemedic/internal/repair"
	"github.com/rolemedic/rolemedic/internal/shared"
	"github.com/rolemedic/rolemedic/internal/sysenv/sysenvtest"
)

const operatorID = int64(1)

type fixture struct {
	store *capstoretest.Store
	env   *sysenvtest.Env
	fixer *repair.Fixer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := capstoretest.New()
	store.SeedRoleTable(capstore.DefaultRoleTable())
	store.SeedUser(operatorID, "admin", "admin@example.com", []byte(`{"administrator":true}`))
	for key, value := range capstore.EssentialOptions() {
		store.SeedOption(key, value)
	}
	env := sysenvtest.NewHealthy()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fixer := repair.NewFixer(store, env, rbac.NewService(store, nil, 0), nil, logger)
	return &fixture{store: store, env: env, fixer: fixer}
}

func apply(t *testing.T, f *fixture, codes ...diagnose.IssueCode) []repair.FixResult {
	t.Helper()
	results, err := f.fixer.Apply(context.Background(), operatorID, codes)
	require.NoError(t, err)
	return results
}

func TestActionTableCoversEveryIssueCode(t *testing.T) {
	f := newFixture(t)

	results := apply(t, f, diagnose.AllIssueCodes()...)
	require.Len(t, results, len(diagnose.AllIssueCodes()))
	for _, res := range results {
		require.NotEqual(t, repair.FixStatusSkipped, res.Status, string(res.Code))
	}
}

func TestUnknownCodeIsSkippedByName(t *testing.T) {
	f := newFixture(t)

	results := apply(t, f, diagnose.IssueCode("not_a_real_code"))
	require.Len(t, results, 1)
	require.Equal(t, repair.FixStatusSkipped, results[0].Status)
	require.Contains(t, results[0].Message, "not_a_real_code")
}

func TestApplyRequiresManageOptions(t *testing.T) {
	f := newFixture(t)
	f.store.SeedUser(2, "customer", "customer@example.com", []byte(`{"customer":true}`))

	_, err := f.fixer.Apply(context.Background(), 2, []diagnose.IssueCode{diagnose.IssueOptionMissing})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestDuplicateCodesCollapse(t *testing.T) {
	f := newFixture(t)

	results := apply(t, f,
		diagnose.IssueOptionMissing,
		diagnose.IssueStorageNotWritable,
		diagnose.IssueOptionMissing,
	)
	require.Len(t, results, 2)
	require.Equal(t, diagnose.IssueOptionMissing, results[0].Code)
	require.Equal(t, diagnose.IssueStorageNotWritable, results[1].Code)
}

func TestFixStorefrontInactive(t *testing.T) {
	f := newFixture(t)
	f.env.Active["storefront"] = false

	results := apply(t, f, diagnose.IssueStorefrontInactive)
	require.Equal(t, repair.FixStatusFixed, results[0].Status)
	require.Equal(t, []string{"storefront"}, f.env.ActivatedModules)

	// Re-applying is a no-op.
	results = apply(t, f, diagnose.IssueStorefrontInactive)
	require.Equal(t, repair.FixStatusFixed, results[0].Status)
	require.Len(t, f.env.ActivatedModules, 1)
}

func TestFixStorefrontInactiveNotInstalled(t *testing.T) {
	f := newFixture(t)
	f.env.Active["storefront"] = false
	f.env.Installed["storefront"] = false

	results := apply(t, f, diagnose.IssueStorefrontInactive)
	require.Equal(t, repair.FixStatusFailed, results[0].Status)
	require.Empty(t, f.env.ActivatedModules)
}

func TestFixAdminRoleMissing(t *testing.T) {
	f := newFixture(t)
	table := capstore.RoleTable{"customer": capstore.DefaultRoleTable()["customer"]}
	f.store.SeedRoleTable(table)

	results := apply(t, f, diagnose.IssueAdminRoleMissing)
	require.Equal(t, repair.FixStatusFixed, results[0].Status)

	restored, err := f.store.RoleTable(context.Background())
	require.NoError(t, err)
	require.Contains(t, restored, capstore.BaselineRole)
	require.Contains(t, restored, "editor")
	require.True(t, restored[capstore.BaselineRole].Has(capstore.CapManageOptions))
	require.Contains(t, f.store.CacheInvalidations, operatorID)
}

func TestFixAdminRoleMissingWithoutTable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.DeleteRoleTable(context.Background()))

	results := apply(t, f, diagnose.IssueAdminRoleMissing)
	require.Equal(t, repair.FixStatusFixed, results[0].Status)

	restored, err := f.store.RoleTable(context.Background())
	require.NoError(t, err)
	require.Contains(t, restored, capstore.BaselineRole)
}

func TestFixAdminCapsMissingOnlyAdds(t *testing.T) {
	f := newFixture(t)
	table := capstore.DefaultRoleTable()
	admin := table[capstore.BaselineRole]
	admin.Capabilities["custom_cap"] = true
	table[capstore.BaselineRole] = admin
	f.store.SeedRoleTable(table)

	results := apply(t, f, diagnose.IssueAdminCapsMissing)
	require.Equal(t, repair.FixStatusFixed, results[0].Status)

	restored, err := f.store.RoleTable(context.Background())
	require.NoError(t, err)
	role := restored[capstore.BaselineRole]
	for _, cap := range capstore.AdminGrantCaps {
		require.True(t, role.Has(cap), cap)
	}
	require.True(t, role.Has("custom_cap"))
}

func TestFixStorefrontTables(t *testing.T) {
	f := newFixture(t)
	f.env.Tables["storefront_sessions"] = false

	results := apply(t, f, diagnose.IssueStorefrontTableMissing)
	require.Equal(t, repair.FixStatusFixed, results[0].Status)
	require.Equal(t, 1, f.env.TablesEnsured)
	require.True(t, f.env.Tables["storefront_sessions"])
}

func TestFixStorefrontUserCaps(t *testing.T) {
	f := newFixture(t)

	results := apply(t, f, diagnose.IssueStorefrontUserCapsMissing)
	require.Equal(t, repair.FixStatusFixed, results[0].Status)

	direct, err := f.store.UserDirectCaps(context.Background(), operatorID)
	require.NoError(t, err)
	for _, cap := range capstore.StorefrontUserGrantCaps {
		require.True(t, direct[cap], cap)
	}
	require.True(t, direct[capstore.BaselineRole])
	require.Contains(t, f.store.CacheInvalidations, operatorID)
}

func TestFixStorefrontMenu(t *testing.T) {
	f := newFixture(t)

	results := apply(t, f, diagnose.IssueStorefrontMenuMissing)
	require.Equal(t, repair.FixStatusFixed, results[0].Status)
	require.Equal(t, []string{"storefront"}, f.env.InvalidatedMenus)
	require.Equal(t, []string{"storefront"}, f.env.RegisteredMenus)

	direct, err := f.store.UserDirectCaps(context.Background(), operatorID)
	require.NoError(t, err)
	require.True(t, direct[capstore.MenuGateCap])
}

func TestFixUserCapsCorrupted(t *testing.T) {
	f := newFixture(t)
	f.store.SeedUser(operatorID, "admin", "admin@example.com", []byte(`a:1:{broken`))
	require.NoError(t, f.store.SetUserLevel(context.Background(), operatorID, capstore.MaxUserLevel))

	results := apply(t, f, diagnose.IssueUserCapsCorrupted)
	require.Equal(t, repair.FixStatusFixed, results[0].Status)

	direct, err := f.store.UserDirectCaps(context.Background(), operatorID)
	require.NoError(t, err)
	require.Equal(t, capstore.Grants{capstore.BaselineRole: true}, direct)

	user, err := f.store.User(context.Background(), operatorID)
	require.NoError(t, err)
	require.Equal(t, capstore.MaxUserLevel, user.Level)
}

func TestFixUserCapsCorruptedAlreadyReadable(t *testing.T) {
	f := newFixture(t)

	results := apply(t, f, diagnose.IssueUserCapsCorrupted)
	require.Equal(t, repair.FixStatusFixed, results[0].Status)

	// The intact record was not rewritten.
	direct, err := f.store.UserDirectCaps(context.Background(), operatorID)
	require.NoError(t, err)
	require.True(t, direct[capstore.BaselineRole])
	require.Empty(t, f.store.CacheInvalidations)
}

func TestFixUserAdminMissing(t *testing.T) {
	f := newFixture(t)
	f.store.SeedUser(operatorID, "admin", "admin@example.com", []byte(`{"manage_options":true}`))

	results := apply(t, f, diagnose.IssueUserAdminMissing)
	require.Equal(t, repair.FixStatusFixed, results[0].Status)

	direct, err := f.store.UserDirectCaps(context.Background(), operatorID)
	require.NoError(t, err)
	require.True(t, direct[capstore.BaselineRole])
	require.True(t, direct[capstore.CapManageOptions])
}

func TestFixMissingOptions(t *testing.T) {
	f := newFixture(t)
	f.store.DeleteOption(capstore.OptionStylesheet)
	f.store.DeleteOption(capstore.OptionTemplate)

	results := apply(t, f, diagnose.IssueOptionMissing)
	require.Equal(t, repair.FixStatusFixed, results[0].Status)

	value, err := f.store.Option(context.Background(), capstore.OptionStylesheet)
	require.NoError(t, err)
	require.Equal(t, "default", value)
}

func TestFixStorageWritable(t *testing.T) {
	f := newFixture(t)
	f.env.Writable = false

	results := apply(t, f, diagnose.IssueStorageNotWritable)
	require.Equal(t, repair.FixStatusFixed, results[0].Status)
	require.Equal(t, 1, f.env.StorageRepairs)
}

func TestFixStorageWritableUnrepairable(t *testing.T) {
	f := newFixture(t)
	f.env.Writable = false
	f.env.CanFixStorage = false

	results := apply(t, f, diagnose.IssueStorageNotWritable)
	require.Equal(t, repair.FixStatusFailed, results[0].Status)
}

func TestAdvisoryCodesFailWithGuidance(t *testing.T) {
	f := newFixture(t)

	advisory := []diagnose.IssueCode{
		diagnose.IssueStorefrontCoreMissing,
		diagnose.IssueCoreTableMissing,
		diagnose.IssueModuleConflict,
		diagnose.IssueThemeInterference,
	}
	results := apply(t, f, advisory...)
	for _, res := range results {
		require.Equal(t, repair.FixStatusFailed, res.Status, string(res.Code))
		require.NotEmpty(t, res.Message)
	}
}
