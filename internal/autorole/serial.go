package autorole

import (
	"context"
)

// Executor runs fn serially with every other fn submitted under the same key.
type Executor interface {
	Do(ctx context.Context, key string, fn func(context.Context) error) error
}

// Serialize wraps store so that all writes of one community run one at a time
// on exec. Reads go straight to store.
func Serialize(store Store, exec Executor) Store {
	return &serialStore{Store: store, exec: exec}
}

type serialStore struct {
	Store
	exec Executor
}

func (s *serialStore) SetEnabled(ctx context.Context, community string, enabled bool) error {
	return s.exec.Do(ctx, community, func(ctx context.Context) error {
		return s.Store.SetEnabled(ctx, community, enabled)
	})
}

func (s *serialStore) PutLink(ctx context.Context, community string, key InviteKey, entry LinkEntry) (LinkEntry, error) {
	var stored LinkEntry
	err := s.exec.Do(ctx, community, func(ctx context.Context) error {
		var err error
		stored, err = s.Store.PutLink(ctx, community, key, entry)
		return err
	})
	return stored, err
}

func (s *serialStore) UpdateLink(ctx context.Context, community string, key InviteKey, fn func(*LinkEntry) error) (LinkEntry, bool, error) {
	var (
		entry  LinkEntry
		exists bool
	)
	err := s.exec.Do(ctx, community, func(ctx context.Context) error {
		var err error
		entry, exists, err = s.Store.UpdateLink(ctx, community, key, fn)
		return err
	})
	return entry, exists, err
}

func (s *serialStore) DeleteLinks(ctx context.Context, community string, keys ...InviteKey) error {
	if len(keys) == 0 {
		return nil
	}
	return s.exec.Do(ctx, community, func(ctx context.Context) error {
		return s.Store.DeleteLinks(ctx, community, keys...)
	})
}
