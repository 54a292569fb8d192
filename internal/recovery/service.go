package recovery

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/rbac"
	"github.com/rolemedic/rolemedic/internal/shared"
	"github.com/rolemedic/rolemedic/internal/sysenv"
)

// DefaultRetentionDays is how long backups are kept when pruning without
// an explicit retention.
const DefaultRetentionDays = 30

const passwordLength = 12

const passwordCharset = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789!@#$%^&*()"

// Service runs the emergency recovery paths. Every operation requires the
// code-trust capability, a stronger precondition than the ordinary
// diagnostic paths.
type Service struct {
	store  capstore.Store
	snaps  capstore.SnapshotStore
	env    sysenv.Environment
	rbac   *rbac.Service
	audit  *shared.AuditLogger
	logger *slog.Logger

	// Clock stamps snapshot ids and emergency logins; defaults to time.Now.
	Clock func() time.Time
}

// NewService constructs a recovery Service. audit may be nil.
func NewService(store capstore.Store, snaps capstore.SnapshotStore, env sysenv.Environment, authz *rbac.Service, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, snaps: snaps, env: env, rbac: authz, audit: audit, logger: logger}
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// NuclearResult reports what a nuclear repair did.
type NuclearResult struct {
	SnapshotID     string   `json:"snapshot_id"`
	CompletedSteps []string `json:"completed_steps"`
}

// NuclearRepair resets the entire role table to built-in defaults,
// restores the full storefront capability set onto the baseline role and
// rewrites the operator's record. A snapshot is taken before the first
// mutation; on failure partway through the snapshot survives for a
// restore.
func (s *Service) NuclearRepair(ctx context.Context, operatorID int64) (*NuclearResult, error) {
	if err := s.rbac.Authorize(ctx, operatorID, capstore.CapEditModules); err != nil {
		return nil, err
	}

	snap, err := s.takeSnapshot(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	result := &NuclearResult{SnapshotID: snap.ID}
	step := func(name string) { result.CompletedSteps = append(result.CompletedSteps, name) }

	if err := s.store.DeleteRoleTable(ctx); err != nil {
		return result, fmt.Errorf("recovery: clear role table: %w", err)
	}
	step("role_table_cleared")

	table := capstore.DefaultRoleTable()
	if err := s.store.SaveRoleTable(ctx, table); err != nil {
		return result, fmt.Errorf("recovery: rebuild role table: %w", err)
	}
	step("role_table_rebuilt")

	admin := table[capstore.BaselineRole]
	for _, cap := range capstore.StorefrontCapabilities() {
		admin.Capabilities[cap] = true
	}
	for _, cap := range capstore.AdminGrantCaps {
		admin.Capabilities[cap] = true
	}
	table[capstore.BaselineRole] = admin
	if err := s.store.SaveRoleTable(ctx, table); err != nil {
		return result, fmt.Errorf("recovery: restore storefront capabilities: %w", err)
	}
	step("storefront_caps_restored")

	if err := s.store.SetUserDirectCaps(ctx, operatorID, capstore.Grants{capstore.BaselineRole: true}); err != nil {
		return result, fmt.Errorf("recovery: rewrite operator record: %w", err)
	}
	if err := s.store.SetUserLevel(ctx, operatorID, capstore.MaxUserLevel); err != nil {
		return result, fmt.Errorf("recovery: restore operator level: %w", err)
	}
	step("operator_record_rewritten")

	if err := s.store.InvalidateUserCache(ctx, operatorID); err != nil {
		return result, fmt.Errorf("recovery: invalidate operator cache: %w", err)
	}
	step("caches_flushed")

	s.logger.Warn("nuclear permission repair complete",
		slog.Int64("operator_id", operatorID),
		slog.String("snapshot_id", snap.ID),
	)
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  operatorID,
		Action:   "recovery.nuclear",
		Entity:   "role_table",
		EntityID: snap.ID,
	})
	return result, nil
}

func (s *Service) takeSnapshot(ctx context.Context, operatorID int64) (Snapshot, error) {
	snap := Snapshot{
		ID:         snapshotID(s.now()),
		OperatorID: operatorID,
		CreatedAt:  s.now().UTC(),
	}

	rawTable, err := s.store.RoleTableRaw(ctx)
	if err != nil && !errors.Is(err, capstore.ErrNotFound) {
		return Snapshot{}, fmt.Errorf("recovery: snapshot role table: %w", err)
	}
	snap.RoleTable = rawTable

	rawCaps, err := s.store.UserDirectCapsRaw(ctx, operatorID)
	if err != nil && !errors.Is(err, capstore.ErrNotFound) {
		return Snapshot{}, fmt.Errorf("recovery: snapshot operator record: %w", err)
	}
	snap.OperatorCaps = rawCaps

	data, err := encodeSnapshot(snap)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.snaps.PutSnapshot(ctx, snap.ID, data); err != nil {
		return Snapshot{}, fmt.Errorf("recovery: store snapshot: %w", err)
	}
	return snap, nil
}

// Restore writes a snapshot's raw bytes back over the live state. Nothing
// is mutated when the snapshot does not exist or cannot be decoded.
func (s *Service) Restore(ctx context.Context, operatorID int64, snapshotID string) error {
	if err := s.rbac.Authorize(ctx, operatorID, capstore.CapEditModules); err != nil {
		return err
	}

	rec, err := s.snaps.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("recovery: snapshot %s: %w", snapshotID, err)
	}
	snap, err := decodeSnapshot(rec.Data)
	if err != nil {
		return err
	}

	if len(snap.RoleTable) > 0 {
		if err := s.store.SaveRoleTableRaw(ctx, snap.RoleTable); err != nil {
			return fmt.Errorf("recovery: restore role table: %w", err)
		}
	} else {
		if err := s.store.DeleteRoleTable(ctx); err != nil {
			return fmt.Errorf("recovery: restore role table: %w", err)
		}
	}
	if len(snap.OperatorCaps) > 0 {
		if err := s.store.SetUserDirectCapsRaw(ctx, snap.OperatorID, snap.OperatorCaps); err != nil {
			return fmt.Errorf("recovery: restore operator record: %w", err)
		}
	}
	_ = s.store.InvalidateUserCache(ctx, snap.OperatorID)
	if snap.OperatorID != operatorID {
		_ = s.store.InvalidateUserCache(ctx, operatorID)
	}

	s.logger.Warn("restored from snapshot",
		slog.Int64("operator_id", operatorID),
		slog.String("snapshot_id", snapshotID),
	)
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  operatorID,
		Action:   "recovery.restore",
		Entity:   "role_table",
		EntityID: snapshotID,
	})
	return nil
}

// EmergencyAccount is returned exactly once; the password is never stored
// or logged in clear. Email is the site contact address the credential
// should be delivered to.
type EmergencyAccount struct {
	UserID   int64  `json:"user_id"`
	Login    string `json:"login"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// EmergencyAccess provisions a fresh account with the baseline role plus
// the full grant list directly, so it keeps working even if the role
// table breaks again.
func (s *Service) EmergencyAccess(ctx context.Context, operatorID int64) (*EmergencyAccount, error) {
	if err := s.rbac.Authorize(ctx, operatorID, capstore.CapEditModules); err != nil {
		return nil, err
	}

	login := fmt.Sprintf("emergency_admin_%d", s.now().UnixNano())
	password, err := generatePassword(passwordLength)
	if err != nil {
		return nil, fmt.Errorf("recovery: generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("recovery: hash password: %w", err)
	}

	email := login + "@recovery.invalid"
	if contact, err := s.store.Option(ctx, capstore.OptionAdminEmail); err == nil && contact != "" {
		email = contact
	}

	userID, err := s.store.CreateUser(ctx, capstore.NewUser{
		Login:        login,
		Email:        email,
		PasswordHash: string(hash),
		Level:        capstore.MaxUserLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("recovery: create emergency account: %w", err)
	}
	if err := s.store.SetUserDirectCaps(ctx, userID, capstore.EmergencyGrantList()); err != nil {
		return nil, fmt.Errorf("recovery: grant emergency capabilities: %w", err)
	}
	_ = s.store.InvalidateUserCache(ctx, userID)

	s.logger.Warn("emergency account provisioned",
		slog.Int64("operator_id", operatorID),
		slog.String("login", login),
	)
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  operatorID,
		Action:   "recovery.emergency_account",
		Entity:   "user",
		EntityID: login,
	})
	return &EmergencyAccount{UserID: userID, Login: login, Password: password, Email: email}, nil
}

// BackupInfo describes a stored snapshot without its payload.
type BackupInfo struct {
	ID         string    `json:"id"`
	OperatorID int64     `json:"operator_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListBackups returns stored snapshots, newest first.
func (s *Service) ListBackups(ctx context.Context, operatorID int64) ([]BackupInfo, error) {
	if err := s.rbac.Authorize(ctx, operatorID, capstore.CapEditModules); err != nil {
		return nil, err
	}

	recs, err := s.snaps.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]BackupInfo, 0, len(recs))
	for _, rec := range recs {
		snap, err := decodeSnapshot(rec.Data)
		if err != nil {
			// An undecodable snapshot is still listable by its record.
			infos = append(infos, BackupInfo{ID: rec.ID, CreatedAt: rec.CreatedAt})
			continue
		}
		infos = append(infos, BackupInfo{ID: snap.ID, OperatorID: snap.OperatorID, CreatedAt: snap.CreatedAt})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	return infos, nil
}

// PruneBackups deletes snapshots older than the retention window and
// returns how many were removed. keepDays <= 0 selects the default.
func (s *Service) PruneBackups(ctx context.Context, operatorID int64, keepDays int) (int, error) {
	if err := s.rbac.Authorize(ctx, operatorID, capstore.CapEditModules); err != nil {
		return 0, err
	}
	if keepDays <= 0 {
		keepDays = DefaultRetentionDays
	}
	cutoff := s.now().AddDate(0, 0, -keepDays)

	recs, err := s.snaps.ListSnapshots(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, rec := range recs {
		if rec.CreatedAt.Before(cutoff) {
			if err := s.snaps.DeleteSnapshot(ctx, rec.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("pruned old backups", slog.Int("removed", removed), slog.Int("keep_days", keepDays))
	}
	return removed, nil
}

func generatePassword(length int) (string, error) {
	out := make([]byte, length)
	charsetLen := big.NewInt(int64(len(passwordCharset)))
	for i := range out {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", err
		}
		out[i] = passwordCharset[n.Int64()]
	}
	return string(out), nil
}
