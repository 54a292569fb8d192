// Package rbac resolves effective capabilities from the capability store
// and enforces the engine's authorization preconditions.
package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rolemedic/rolemedic/internal/capstore"
	"github.com/rolemedic/rolemedic/internal/shared"
)

// Service computes a user's effective capability set. Resolution follows
// the store's record semantics: direct-record keys naming a role pull in
// that role's grants, remaining keys are direct capability entries and an
// explicit false denies. Results are cached in Redis under the key that
// capstore.InvalidateUserCache clears.
type Service struct {
	store capstore.Store
	cache *redis.Client
	ttl   time.Duration
}

// NewService constructs a Service. cache may be nil; resolution then hits
// the store on every call.
func NewService(store capstore.Store, cache *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{store: store, cache: cache, ttl: ttl}
}

// EffectiveCaps returns the resolved capability grants for a user.
func (s *Service) EffectiveCaps(ctx context.Context, userID int64) (capstore.Grants, error) {
	if cached, ok := s.cached(ctx, userID); ok {
		return cached, nil
	}

	eff, err := s.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.putCache(ctx, userID, eff)
	return eff, nil
}

// Can reports whether the user holds the capability.
func (s *Service) Can(ctx context.Context, userID int64, cap string) (bool, error) {
	eff, err := s.EffectiveCaps(ctx, userID)
	if err != nil {
		return false, err
	}
	return eff[cap], nil
}

// Authorize returns shared.ErrForbidden unless the user holds the
// capability. Services call this before touching any state.
func (s *Service) Authorize(ctx context.Context, userID int64, cap string) error {
	ok, err := s.Can(ctx, userID, cap)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("rbac: user %d lacks %s: %w", userID, cap, shared.ErrForbidden)
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, userID int64) (capstore.Grants, error) {
	table, err := s.store.RoleTable(ctx)
	if err != nil {
		if !errors.Is(err, capstore.ErrNotFound) {
			return nil, err
		}
		table = capstore.RoleTable{}
	}

	direct, err := s.store.UserDirectCaps(ctx, userID)
	if err != nil {
		if !errors.Is(err, capstore.ErrCapsCorrupted) {
			return nil, err
		}
		// The record is unreadable. The legacy numeric level is the
		// remaining trust anchor: a max-level account keeps baseline
		// privileges so it can still reach the repair paths.
		user, uerr := s.store.User(ctx, userID)
		if uerr != nil {
			return nil, uerr
		}
		if user.Level < capstore.MaxUserLevel {
			return capstore.Grants{}, nil
		}
		eff := capstore.Grants{capstore.BaselineRole: true}
		for cap, granted := range capstore.DefaultRoleTable()[capstore.BaselineRole].Capabilities {
			if granted {
				eff[cap] = true
			}
		}
		return eff, nil
	}

	eff := Resolve(table, direct)
	if direct[capstore.BaselineRole] {
		if _, ok := table[capstore.BaselineRole]; !ok {
			// The record names the baseline role but the table lost it.
			// Keep baseline privileges so the repair paths stay reachable.
			for cap, granted := range capstore.DefaultRoleTable()[capstore.BaselineRole].Capabilities {
				if _, set := eff[cap]; granted && !set {
					eff[cap] = true
				}
			}
		}
	}
	return eff, nil
}

// Resolve merges role bundles referenced by the direct record with its
// plain capability entries. Direct entries win, explicit false denies.
func Resolve(table capstore.RoleTable, direct capstore.Grants) capstore.Grants {
	eff := capstore.Grants{}
	for key, granted := range direct {
		role, isRole := table[key]
		if !isRole || !granted {
			continue
		}
		for cap, g := range role.Capabilities {
			if g {
				eff[cap] = true
			}
		}
		eff[key] = true
	}
	for key, granted := range direct {
		if _, isRole := table[key]; isRole {
			continue
		}
		eff[key] = granted
	}
	return eff
}

func (s *Service) cached(ctx context.Context, userID int64) (capstore.Grants, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, capstore.UserCapsCacheKey(userID)).Bytes()
	if err != nil {
		return nil, false
	}
	var eff capstore.Grants
	if err := json.Unmarshal(raw, &eff); err != nil {
		return nil, false
	}
	return eff, true
}

func (s *Service) putCache(ctx context.Context, userID int64, eff capstore.Grants) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(eff)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, capstore.UserCapsCacheKey(userID), raw, s.ttl).Err()
}
