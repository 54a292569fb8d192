package rbac_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/capstore/capstoretest"
	"github.com/rolemedic/rolemedic/internal/rbac"
	"github.com/rolemedic/rolemedic/internal/shared"
)

func newCacheClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestResolveMergesRoleBundlesAndDirectEntries(t *testing.T) {
	table := capstore.RoleTable{
		"editor": {Name: "Editor", Capabilities: capstore.Grants{
			"read":       true,
			"edit_posts": true,
		}},
	}
	direct := capstore.Grants{
		"editor":       true,
		"upload_files": true,
		"edit_posts":   false,
	}

	eff := rbac.Resolve(table, direct)

	require.True(t, eff["read"])
	require.True(t, eff["editor"])
	require.True(t, eff["upload_files"])
	require.False(t, eff["edit_posts"], "explicit false must deny a role grant")
}

func TestResolveIgnoresDisabledRoleReference(t *testing.T) {
	table := capstore.RoleTable{
		"editor": {Name: "Editor", Capabilities: capstore.Grants{"edit_posts": true}},
	}

	eff := rbac.Resolve(table, capstore.Grants{"editor": false})

	require.False(t, eff["edit_posts"])
	require.False(t, eff["editor"])
}

func TestEffectiveCapsServedFromCache(t *testing.T) {
	mr, client := newCacheClient(t)
	store := capstoretest.New()
	store.SeedRoleTable(capstore.DefaultRoleTable())
	store.SeedUser(1, "admin", "admin@example.test", []byte(`{"administrator":true}`))

	svc := rbac.NewService(store, client, time.Minute)

	eff, err := svc.EffectiveCaps(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, eff[capstore.CapManageOptions])
	require.True(t, mr.Exists(capstore.UserCapsCacheKey(1)))

	// A store mutation is invisible until the cache entry goes away.
	require.NoError(t, store.SetUserDirectCaps(context.Background(), 1, capstore.Grants{}))

	eff, err = svc.EffectiveCaps(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, eff[capstore.CapManageOptions])

	mr.Del(capstore.UserCapsCacheKey(1))

	eff, err = svc.EffectiveCaps(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, eff[capstore.CapManageOptions])
}

func TestCacheEntryExpiresWithTTL(t *testing.T) {
	mr, client := newCacheClient(t)
	store := capstoretest.New()
	store.SeedRoleTable(capstore.DefaultRoleTable())
	store.SeedUser(1, "admin", "admin@example.test", []byte(`{"administrator":true}`))

	svc := rbac.NewService(store, client, time.Minute)

	_, err := svc.EffectiveCaps(context.Background(), 1)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(capstore.UserCapsCacheKey(1)))
}

func TestCorruptedRecordFallsBackToLegacyLevel(t *testing.T) {
	store := capstoretest.New()
	store.SeedRoleTable(capstore.DefaultRoleTable())
	store.SeedUser(1, "admin", "admin@example.test", []byte(`a:1:{corrupted`))
	require.NoError(t, store.SetUserLevel(context.Background(), 1, capstore.MaxUserLevel))

	svc := rbac.NewService(store, nil, 0)

	eff, err := svc.EffectiveCaps(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, eff[capstore.CapManageOptions])
	require.True(t, eff[capstore.CapEditModules])
}

func TestCorruptedRecordWithoutLevelGrantsNothing(t *testing.T) {
	store := capstoretest.New()
	store.SeedRoleTable(capstore.DefaultRoleTable())
	store.SeedUser(2, "clerk", "clerk@example.test", []byte(`not json`))

	svc := rbac.NewService(store, nil, 0)

	eff, err := svc.EffectiveCaps(context.Background(), 2)
	require.NoError(t, err)
	require.Empty(t, eff)
}

func TestLostRoleTableKeepsBaselineOperator(t *testing.T) {
	store := capstoretest.New()
	store.SeedUser(1, "admin", "admin@example.test", []byte(`{"administrator":true}`))

	svc := rbac.NewService(store, nil, 0)

	eff, err := svc.EffectiveCaps(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, eff[capstore.CapManageOptions])
	require.True(t, eff[capstore.CapEditModules])
}

func TestAuthorizeDeniesMissingCapability(t *testing.T) {
	store := capstoretest.New()
	store.SeedRoleTable(capstore.DefaultRoleTable())
	store.SeedUser(3, "customer", "customer@example.test", []byte(`{"customer":true}`))

	svc := rbac.NewService(store, nil, 0)

	err := svc.Authorize(context.Background(), 3, capstore.CapManageOptions)
	require.ErrorIs(t, err, shared.ErrForbidden)

	require.NoError(t, svc.Authorize(context.Background(), 3, "read"))
}

func TestMiddlewareRequire(t *testing.T) {
	store := capstoretest.New()
	store.SeedRoleTable(capstore.DefaultRoleTable())
	store.SeedUser(1, "admin", "admin@example.test", []byte(`{"administrator":true}`))
	store.SeedUser(3, "customer", "customer@example.test", []byte(`{"customer":true}`))

	mw := rbac.Middleware{Service: rbac.NewService(store, nil, 0)}
	handler := mw.ResolveActor(mw.Require(capstore.CapManageOptions)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	))

	cases := []struct {
		name   string
		actor  string
		status int
	}{
		{"admin passes", "1", http.StatusNoContent},
		{"customer forbidden", "3", http.StatusForbidden},
		{"missing actor unauthorized", "", http.StatusUnauthorized},
		{"garbage actor unauthorized", "abc", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health/check", nil)
			if tc.actor != "" {
				req.Header.Set(rbac.ActorHeader, tc.actor)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
		})
	}
}
