package recovery_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/capstore/capstoretest"
	"github.com/rolemedic/rolemedic/internal/rbac"
	"github.com/rolemedic/rolemedic/internal/recovery"
	"github.com/rolemedic/rolemedic/internal/shared"
	"github.com/rolemedic/rolemedic/internal/sysenv/sysenvtest"
)

const operatorID = int64(1)

type fixture struct {
	store   *capstoretest.Store
	env     *sysenvtest.Env
	service *recovery.Service
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := capstoretest.New()
	store.SeedRoleTable(capstore.DefaultRoleTable())
	store.SeedUser(operatorID, "admin", "admin@example.com", []byte(`{"administrator":true}`))
	env := sysenvtest.NewHealthy()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := recovery.NewService(store, store, env, rbac.NewService(store, nil, 0), nil, logger)

	f := &fixture{store: store, env: env, service: service, clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	service.Clock = func() time.Time { return f.clock }
	store.Clock = service.Clock
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func TestNuclearRepairResetsRolesAndOperator(t *testing.T) {
	f := newFixture(t)
	// A mangled table with the baseline role stripped.
	f.store.SeedRoleTable(capstore.RoleTable{"customer": {Name: "Customer", Capabilities: capstore.Grants{"read": true}}})
	f.store.SeedUser(operatorID, "admin", "admin@example.com", []byte(`{"manage_options":true,"edit_modules":true}`))

	result, err := f.service.NuclearRepair(context.Background(), operatorID)
	require.NoError(t, err)
	require.NotEmpty(t, result.SnapshotID)
	require.Contains(t, result.CompletedSteps, "role_table_rebuilt")
	require.Contains(t, result.CompletedSteps, "storefront_caps_restored")
	require.Contains(t, result.CompletedSteps, "operator_record_rewritten")

	table, err := f.store.RoleTable(context.Background())
	require.NoError(t, err)
	admin := table[capstore.BaselineRole]
	require.True(t, admin.Has(capstore.CapManageOptions))
	for _, cap := range capstore.StorefrontCapabilities() {
		require.True(t, admin.Has(cap), cap)
	}

	direct, err := f.store.UserDirectCaps(context.Background(), operatorID)
	require.NoError(t, err)
	require.Equal(t, capstore.Grants{capstore.BaselineRole: true}, direct)

	user, err := f.store.User(context.Background(), operatorID)
	require.NoError(t, err)
	require.Equal(t, capstore.MaxUserLevel, user.Level)
	require.Contains(t, f.store.CacheInvalidations, operatorID)
}

func TestNuclearRepairTakesExactlyOneSnapshot(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.NuclearRepair(context.Background(), operatorID)
	require.NoError(t, err)
	require.Equal(t, 1, f.store.SnapshotCount())
}

func TestNuclearRepairSnapshotPreservesRawState(t *testing.T) {
	f := newFixture(t)
	mangled := []byte(`{"administrator":{"name":"Administrator","capabilities":{}}}`)
	require.NoError(t, f.store.SaveRoleTableRaw(context.Background(), mangled))

	result, err := f.service.NuclearRepair(context.Background(), operatorID)
	require.NoError(t, err)

	rec, err := f.store.GetSnapshot(context.Background(), result.SnapshotID)
	require.NoError(t, err)

	var snap struct {
		RoleTable    json.RawMessage `json:"role_table"`
		OperatorCaps json.RawMessage `json:"operator_caps"`
		OperatorID   int64           `json:"operator_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Data, &snap))
	require.JSONEq(t, string(mangled), string(snap.RoleTable))
	require.JSONEq(t, `{"administrator":true}`, string(snap.OperatorCaps))
	require.Equal(t, operatorID, snap.OperatorID)
}

func TestNuclearRepairRequiresCodeTrust(t *testing.T) {
	f := newFixture(t)
	// manage_options alone is not enough for the destructive paths.
	f.store.SeedUser(2, "manager", "manager@example.com", []byte(`{"manage_options":true}`))

	_, err := f.service.NuclearRepair(context.Background(), 2)
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.Zero(t, f.store.SnapshotCount())
}

func TestNuclearRepairWithCorruptedOperatorRecord(t *testing.T) {
	f := newFixture(t)
	f.store.SeedUser(operatorID, "admin", "admin@example.com", []byte(`a:1:{broken`))
	require.NoError(t, f.store.SetUserLevel(context.Background(), operatorID, capstore.MaxUserLevel))

	result, err := f.service.NuclearRepair(context.Background(), operatorID)
	require.NoError(t, err)

	rec, err := f.store.GetSnapshot(context.Background(), result.SnapshotID)
	require.NoError(t, err)
	require.NotEmpty(t, rec.Data)

	direct, err := f.store.UserDirectCaps(context.Background(), operatorID)
	require.NoError(t, err)
	require.True(t, direct[capstore.BaselineRole])
}

func TestRestoreWritesSnapshotBytesVerbatim(t *testing.T) {
	f := newFixture(t)
	mangled := []byte(`{"administrator":{"name":"Administrator","capabilities":{}}}`)
	require.NoError(t, f.store.SaveRoleTableRaw(context.Background(), mangled))

	result, err := f.service.NuclearRepair(context.Background(), operatorID)
	require.NoError(t, err)

	require.NoError(t, f.service.Restore(context.Background(), operatorID, result.SnapshotID))

	raw, err := f.store.RoleTableRaw(context.Background())
	require.NoError(t, err)
	require.Equal(t, mangled, raw)

	caps, err := f.store.UserDirectCapsRaw(context.Background(), operatorID)
	require.NoError(t, err)
	require.JSONEq(t, `{"administrator":true}`, string(caps))
}

func TestRestoreUnknownSnapshotMutatesNothing(t *testing.T) {
	f := newFixture(t)
	before, err := f.store.RoleTableRaw(context.Background())
	require.NoError(t, err)

	err = f.service.Restore(context.Background(), operatorID, "backup_missing")
	require.ErrorIs(t, err, capstore.ErrNotFound)

	after, err := f.store.RoleTableRaw(context.Background())
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Empty(t, f.store.CacheInvalidations)
}

func TestEmergencyAccessProvisionsAccount(t *testing.T) {
	f := newFixture(t)
	f.store.SeedOption(capstore.OptionAdminEmail, "ops@example.com")

	account, err := f.service.EmergencyAccess(context.Background(), operatorID)
	require.NoError(t, err)
	require.Contains(t, account.Login, "emergency_admin_")
	require.Len(t, account.Password, 12)
	require.Equal(t, "ops@example.com", account.Email)

	user, err := f.store.User(context.Background(), account.UserID)
	require.NoError(t, err)
	require.Equal(t, capstore.MaxUserLevel, user.Level)
	require.Equal(t, "ops@example.com", user.Email)

	direct, err := f.store.UserDirectCaps(context.Background(), account.UserID)
	require.NoError(t, err)
	// The role is assigned outright; the direct grants back it up rather
	// than replace it.
	require.True(t, direct[capstore.BaselineRole])
	require.True(t, direct[capstore.CapManageOptions])
	require.True(t, direct[capstore.CapEditModules])
	require.True(t, direct["manage_storefront"])
}

func TestEmergencyAccessFallsBackToSyntheticContact(t *testing.T) {
	f := newFixture(t)
	f.store.DeleteOption(capstore.OptionAdminEmail)

	account, err := f.service.EmergencyAccess(context.Background(), operatorID)
	require.NoError(t, err)
	require.Equal(t, account.Login+"@recovery.invalid", account.Email)
}

func TestEmergencyAccountsHaveUniqueLogins(t *testing.T) {
	f := newFixture(t)

	first, err := f.service.EmergencyAccess(context.Background(), operatorID)
	require.NoError(t, err)
	f.advance(time.Second)
	second, err := f.service.EmergencyAccess(context.Background(), operatorID)
	require.NoError(t, err)
	require.NotEqual(t, first.Login, second.Login)
}

func TestEmergencyPasswordMatchesStoredHash(t *testing.T) {
	f := newFixture(t)

	account, err := f.service.EmergencyAccess(context.Background(), operatorID)
	require.NoError(t, err)

	// The password itself works against what was persisted; it is not
	// stored in clear anywhere.
	user, err := f.store.User(context.Background(), account.UserID)
	require.NoError(t, err)
	require.NotEqual(t, account.Password, user.Login)
	hash, err := f.store.PasswordHash(context.Background(), account.UserID)
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(account.Password)))
}

func TestListBackupsNewestFirst(t *testing.T) {
	f := newFixture(t)

	first, err := f.service.NuclearRepair(context.Background(), operatorID)
	require.NoError(t, err)
	f.advance(time.Hour)
	second, err := f.service.NuclearRepair(context.Background(), operatorID)
	require.NoError(t, err)

	backups, err := f.service.ListBackups(context.Background(), operatorID)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	require.Equal(t, second.SnapshotID, backups[0].ID)
	require.Equal(t, first.SnapshotID, backups[1].ID)
}

func TestPruneBackupsHonorsRetention(t *testing.T) {
	f := newFixture(t)

	old, err := f.service.NuclearRepair(context.Background(), operatorID)
	require.NoError(t, err)
	f.advance(40 * 24 * time.Hour)
	recent, err := f.service.NuclearRepair(context.Background(), operatorID)
	require.NoError(t, err)

	removed, err := f.service.PruneBackups(context.Background(), operatorID, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = f.store.GetSnapshot(context.Background(), old.SnapshotID)
	require.ErrorIs(t, err, capstore.ErrNotFound)
	_, err = f.store.GetSnapshot(context.Background(), recent.SnapshotID)
	require.NoError(t, err)
}

func TestExportSystemInfo(t *testing.T) {
	f := newFixture(t)

	info, err := f.service.ExportSystemInfo(context.Background(), operatorID)
	require.NoError(t, err)
	require.True(t, info.RoleTablePresent)
	require.Equal(t, 4, info.RoleCount)
	require.True(t, info.StorefrontActive)
	require.True(t, info.StorageWritable)
	require.NotEmpty(t, info.GoVersion)
	require.Equal(t, "PostgreSQL 16.3 (test)", info.DatabaseVersion)
}
