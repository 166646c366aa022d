package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
)

// maxTxRetries bounds optimistic retries of UpdateLink under WATCH conflicts.
const maxTxRetries = 16

var ErrTxContention = errors.New("too many concurrent updates")

// LinkStore keeps autorole state in one Redis hash per community.
type LinkStore struct {
	rdb *redis.Client
}

func NewLinkStore(rdb *redis.Client) *LinkStore {
	return &LinkStore{rdb: rdb}
}

func (s *LinkStore) Get(ctx context.Context, community string) (*autorole.State, error) {
	fields, err := s.rdb.HGetAll(ctx, communityKey(community)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load community %s: %w", community, err)
	}
	return decodeState(fields)
}

func decodeState(fields map[string]string) (*autorole.State, error) {
	state := &autorole.State{Enabled: fields[fieldEnabled] == "1"}
	for field, raw := range fields {
		if !strings.HasPrefix(field, linkPrefix) {
			continue
		}
		key, err := autorole.ParseField(strings.TrimPrefix(field, linkPrefix))
		if err != nil {
			return nil, err
		}
		entry, err := decodeEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", field, err)
		}
		state.Links = append(state.Links, autorole.Link{Key: key, Entry: entry})
	}
	autorole.SortLinks(state.Links)
	return state, nil
}

func decodeEntry(raw string) (autorole.LinkEntry, error) {
	var entry autorole.LinkEntry
	err := json.Unmarshal([]byte(raw), &entry)
	return entry, err
}

func (s *LinkStore) SetEnabled(ctx context.Context, community string, enabled bool) error {
	value := "0"
	if enabled {
		value = "1"
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, communityKey(community), fieldEnabled, value)
		pipe.SAdd(ctx, communitiesKey, community)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set enabled for %s: %w", community, err)
	}
	return nil
}

func (s *LinkStore) PutLink(ctx context.Context, community string, key autorole.InviteKey, entry autorole.LinkEntry) (autorole.LinkEntry, error) {
	hkey := communityKey(community)
	if entry.Seq == 0 {
		seq, err := s.rdb.HIncrBy(ctx, hkey, fieldSeq, 1).Result()
		if err != nil {
			return autorole.LinkEntry{}, fmt.Errorf("failed to allocate sequence for %s: %w", community, err)
		}
		entry.Seq = seq
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return autorole.LinkEntry{}, err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hkey, linkField(key), data)
		pipe.SAdd(ctx, communitiesKey, community)
		return nil
	})
	if err != nil {
		return autorole.LinkEntry{}, fmt.Errorf("failed to save link %s of %s: %w", key, community, err)
	}
	return entry, nil
}

func (s *LinkStore) UpdateLink(ctx context.Context, community string, key autorole.InviteKey, fn func(*autorole.LinkEntry) error) (autorole.LinkEntry, bool, error) {
	hkey, field := communityKey(community), linkField(key)

	var (
		result autorole.LinkEntry
		exists bool
	)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, hkey, field).Result()
		if errors.Is(err, redis.Nil) {
			return autorole.ErrLinkNotFound
		}
		if err != nil {
			return err
		}
		entry, err := decodeEntry(raw)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", field, err)
		}
		if err := fn(&entry); err != nil {
			return err
		}

		var data []byte
		if !entry.Empty() {
			if data, err = json.Marshal(entry); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if data == nil {
				pipe.HDel(ctx, hkey, field)
			} else {
				pipe.HSet(ctx, hkey, field, data)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result, exists = entry, data != nil
		return nil
	}

	for range maxTxRetries {
		err := s.rdb.Watch(ctx, txf, hkey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return autorole.LinkEntry{}, false, fmt.Errorf("failed to update link %s of %s: %w", key, community, err)
		}
		return result, exists, nil
	}
	return autorole.LinkEntry{}, false, fmt.Errorf("failed to update link %s of %s: %w", key, community, ErrTxContention)
}

func (s *LinkStore) DeleteLinks(ctx context.Context, community string, keys ...autorole.InviteKey) error {
	if len(keys) == 0 {
		return nil
	}
	fields := make([]string, len(keys))
	for i, key := range keys {
		fields[i] = linkField(key)
	}
	if err := s.rdb.HDel(ctx, communityKey(community), fields...).Err(); err != nil {
		return fmt.Errorf("failed to delete links of %s: %w", community, err)
	}
	return nil
}

func (s *LinkStore) Communities(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, communitiesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list communities: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
