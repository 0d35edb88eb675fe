// Package star keeps each admin user's starred log entries.
package star

import (
	"context"
	"encoding/json"
	"fmt"
)

// MetaKey is the user meta key the starred ids live under, after the
// site's table prefix.
const MetaKey = "email-log-starred-logs"

// MetaStore is user-scoped key/value storage.
type MetaStore interface {
	GetUserMeta(ctx context.Context, userID int64, key string) (string, bool, error)
	SetUserMeta(ctx context.Context, userID int64, key, value string) error
}

// Registry stores starred log ids per user. Ids are not checked against the
// log table: a star on a deleted entry stays until the user removes it.
type Registry struct {
	meta MetaStore
	key  string
}

// New returns a Registry whose lists are stored under prefix+MetaKey, so
// every site keeps separate stars.
func New(meta MetaStore, prefix string) *Registry {
	return &Registry{meta: meta, key: prefix + MetaKey}
}

// GetStarred returns the user's starred ids in the order they were starred.
func (r *Registry) GetStarred(ctx context.Context, userID int64) ([]int64, error) {
	raw, ok, err := r.meta.GetUserMeta(ctx, userID, r.key)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return []int64{}, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode starred logs: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// SetStar stars or unstars logID for the user. Repeating a call is a no-op
// that still reports success. The list is read and written without locking.
func (r *Registry) SetStar(ctx context.Context, userID, logID int64, starred bool) (bool, error) {
	ids, err := r.GetStarred(ctx, userID)
	if err != nil {
		return false, err
	}

	index := -1
	for i, id := range ids {
		if id == logID {
			index = i
			break
		}
	}
	switch {
	case starred && index >= 0, !starred && index < 0:
		return true, nil
	case starred:
		ids = append(ids, logID)
	default:
		ids = append(ids[:index], ids[index+1:]...)
	}

	encoded, err := json.Marshal(ids)
	if err != nil {
		return false, fmt.Errorf("encode starred logs: %w", err)
	}
	if err := r.meta.SetUserMeta(ctx, userID, r.key, string(encoded)); err != nil {
		return false, err
	}
	return true, nil
}
