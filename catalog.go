package keyscope

import (
	"context"
	"slices"
	"time"

	"github.com/kamune-org/keyscope/pkg/keytree"
)

// ListKeys returns the names matching a glob pattern in the selected
// database, sorted and without duplicates. An empty pattern matches every key.
//
// The listing walks the key space with a cursor, so it does not block the
// server, but keys written or removed during the walk may or may not appear.
// The session timeout bounds each page, not the whole walk.
func (s *Session) ListKeys(ctx context.Context, pattern string) (keys []string, err error) {
	defer s.observe("list_keys", time.Now(), &err)

	if err := s.ready(); err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "*"
	}
	var cursor uint64
	for {
		s.step("scan", pattern)
		batch, next, err := s.scan(ctx, cursor, pattern)
		if err != nil {
			return nil, s.fail(translate("scan", err))
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	slices.Sort(keys)
	keys = slices.Compact(keys)
	s.logger.Debug("listed keys", "pattern", pattern, "count", len(keys))
	return keys, nil
}

func (s *Session) scan(ctx context.Context, cursor uint64, pattern string) ([]string, uint64, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()
	return s.text.Scan(ctx, cursor, pattern, scanBatch).Result()
}

// Tree lists the keys matching pattern and arranges them into a hierarchy.
func (s *Session) Tree(ctx context.Context, pattern string) (*keytree.Tree, error) {
	keys, err := s.ListKeys(ctx, pattern)
	if err != nil {
		return nil, err
	}
	return keytree.Build(keys), nil
}
