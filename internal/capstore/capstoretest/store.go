// Package capstoretest provides a map-backed capability store for service
// tests. Behavior mirrors the PostgreSQL repository, including corruption
// and duplicate-login semantics.
package capstoretest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rolemedic/rolemedic/internal/capstore"
)

type userRecord struct {
	user capstore.User
	caps []byte
	hash string
}

// Store implements capstore.Store and capstore.SnapshotStore in memory.
type Store struct {
	mu sync.Mutex

	roleTable []byte // nil when deleted
	users     map[int64]*userRecord
	logins    map[string]int64
	options   map[string]string
	snapshots map[string]capstore.SnapshotRecord
	nextID    int64

	// CacheInvalidations records InvalidateUserCache calls in order.
	CacheInvalidations []int64

	// Clock stamps snapshot and user creation times; defaults to time.Now.
	Clock func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:     make(map[int64]*userRecord),
		logins:    make(map[string]int64),
		options:   make(map[string]string),
		snapshots: make(map[string]capstore.SnapshotRecord),
	}
}

func (s *Store) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// SeedRoleTable installs a role table without going through SaveRoleTable.
func (s *Store) SeedRoleTable(table capstore.RoleTable) {
	raw, _ := json.Marshal(table)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleTable = raw
}

// SeedUser installs an account with the given direct capability record.
// Pass raw bytes so corrupted records can be staged.
func (s *Store) SeedUser(id int64, login, email string, caps []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &userRecord{
		user: capstore.User{ID: id, Login: login, Email: email, CreatedAt: s.now()},
		caps: caps,
	}
	s.logins[login] = id
	if id >= s.nextID {
		s.nextID = id
	}
}

// DeleteOption removes an option so tests can stage a missing key.
func (s *Store) DeleteOption(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.options, key)
}

// SeedOption installs an option value.
func (s *Store) SeedOption(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[key] = value
}

func (s *Store) RoleTable(ctx context.Context) (capstore.RoleTable, error) {
	raw, err := s.RoleTableRaw(ctx)
	if err != nil {
		return nil, err
	}
	var table capstore.RoleTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, err
	}
	table.Normalize()
	return table, nil
}

func (s *Store) RoleTableRaw(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roleTable == nil {
		return nil, capstore.ErrNotFound
	}
	out := make([]byte, len(s.roleTable))
	copy(out, s.roleTable)
	return out, nil
}

func (s *Store) SaveRoleTable(ctx context.Context, table capstore.RoleTable) error {
	table.Normalize()
	raw, err := json.Marshal(table)
	if err != nil {
		return err
	}
	return s.SaveRoleTableRaw(ctx, raw)
}

func (s *Store) SaveRoleTableRaw(ctx context.Context, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleTable = append([]byte(nil), raw...)
	return nil
}

func (s *Store) DeleteRoleTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleTable = nil
	return nil
}

func (s *Store) Role(ctx context.Context, name string) (capstore.Role, error) {
	table, err := s.RoleTable(ctx)
	if err != nil {
		return capstore.Role{}, err
	}
	role, ok := table[name]
	if !ok {
		return capstore.Role{}, capstore.ErrNotFound
	}
	return role, nil
}

func (s *Store) User(ctx context.Context, userID int64) (capstore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return capstore.User{}, capstore.ErrNotFound
	}
	return rec.user, nil
}

func (s *Store) CreateUser(ctx context.Context, user capstore.NewUser) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.logins[user.Login]; exists {
		return 0, capstore.ErrDuplicate
	}
	s.nextID++
	id := s.nextID
	s.users[id] = &userRecord{
		user: capstore.User{
			ID:        id,
			Login:     user.Login,
			Email:     user.Email,
			Level:     user.Level,
			CreatedAt: s.now(),
		},
		caps: []byte(`{}`),
		hash: user.PasswordHash,
	}
	s.logins[user.Login] = id
	return id, nil
}

// PasswordHash exposes the stored hash so tests can verify credentials.
func (s *Store) PasswordHash(ctx context.Context, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return "", capstore.ErrNotFound
	}
	return rec.hash, nil
}

func (s *Store) UserDirectCaps(ctx context.Context, userID int64) (capstore.Grants, error) {
	raw, err := s.UserDirectCapsRaw(ctx, userID)
	if err != nil {
		return nil, err
	}
	return capstore.DecodeGrants(raw)
}

func (s *Store) UserDirectCapsRaw(ctx context.Context, userID int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return nil, capstore.ErrNotFound
	}
	out := make([]byte, len(rec.caps))
	copy(out, rec.caps)
	return out, nil
}

func (s *Store) SetUserDirectCaps(ctx context.Context, userID int64, caps capstore.Grants) error {
	raw, err := json.Marshal(caps)
	if err != nil {
		return err
	}
	return s.SetUserDirectCapsRaw(ctx, userID, raw)
}

func (s *Store) SetUserDirectCapsRaw(ctx context.Context, userID int64, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return capstore.ErrNotFound
	}
	rec.caps = append([]byte(nil), raw...)
	return nil
}

func (s *Store) AddUserRole(ctx context.Context, userID int64, role string) error {
	caps, err := s.UserDirectCaps(ctx, userID)
	if err != nil {
		return err
	}
	if caps[role] {
		return nil
	}
	caps[role] = true
	return s.SetUserDirectCaps(ctx, userID, caps)
}

func (s *Store) SetUserLevel(ctx context.Context, userID int64, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return capstore.ErrNotFound
	}
	rec.user.Level = level
	return nil
}

func (s *Store) Option(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.options[key]
	if !ok {
		return "", capstore.ErrNotFound
	}
	return value, nil
}

func (s *Store) SetOption(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[key] = value
	return nil
}

func (s *Store) InvalidateUserCache(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CacheInvalidations = append(s.CacheInvalidations, userID)
	return nil
}

func (s *Store) PutSnapshot(ctx context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snapshots[id]; exists {
		return capstore.ErrDuplicate
	}
	s.snapshots[id] = capstore.SnapshotRecord{
		ID:        id,
		Data:      append([]byte(nil), data...),
		CreatedAt: s.now(),
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, id string) (capstore.SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.snapshots[id]
	if !ok {
		return capstore.SnapshotRecord{}, capstore.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ListSnapshots(ctx context.Context) ([]capstore.SnapshotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := make([]capstore.SnapshotRecord, 0, len(s.snapshots))
	for _, rec := range s.snapshots {
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[id]; !ok {
		return capstore.ErrNotFound
	}
	delete(s.snapshots, id)
	return nil
}

// SnapshotCount reports how many snapshots the store holds.
func (s *Store) SnapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}
