package capstore

import "context"

// Store is the capability-store collaborator the engine reads and mutates.
// Raw variants move records as stored bytes so corrupted or foreign data
// survives backup and restore verbatim.
type Store interface {
	RoleTable(ctx context.Context) (RoleTable, error)
	RoleTableRaw(ctx context.Context) ([]byte, error)
	SaveRoleTable(ctx context.Context, table RoleTable) error
	SaveRoleTableRaw(ctx context.Context, raw []byte) error
	DeleteRoleTable(ctx context.Context) error
	Role(ctx context.Context, name string) (Role, error)

	User(ctx context.Context, userID int64) (User, error)
	CreateUser(ctx context.Context, user NewUser) (int64, error)
	UserDirectCaps(ctx context.Context, userID int64) (Grants, error)
	UserDirectCapsRaw(ctx context.Context, userID int64) ([]byte, error)
	SetUserDirectCaps(ctx context.Context, userID int64, caps Grants) error
	SetUserDirectCapsRaw(ctx context.Context, userID int64, raw []byte) error
	AddUserRole(ctx context.Context, userID int64, role string) error
	SetUserLevel(ctx context.Context, userID int64, level int) error

	Option(ctx context.Context, key string) (string, error)
	SetOption(ctx context.Context, key, value string) error

	InvalidateUserCache(ctx context.Context, userID int64) error
}

// SnapshotStore is the key-value persistence behind recovery snapshots.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, id string, data []byte) error
	GetSnapshot(ctx context.Context, id string) (SnapshotRecord, error)
	ListSnapshots(ctx context.Context) ([]SnapshotRecord, error)
	DeleteSnapshot(ctx context.Context, id string) error
}
