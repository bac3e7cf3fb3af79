package keyscope

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kamune-org/keyscope/pkg/keytree"
)

// KeyFailure is a key a batch could not delete, and why.
type KeyFailure struct {
	Key string
	Err error
}

// BatchResult tallies a batch deletion. Succeeded + Failed always equals the
// number of keys submitted.
type BatchResult struct {
	Deleted   []string
	Failures  []KeyFailure
	Succeeded int
	Failed    int
}

// DeleteKey removes key and reports whether it existed.
func (s *Session) DeleteKey(ctx context.Context, key string) (deleted bool, err error) {
	defer s.observe("delete", time.Now(), &err)

	if err := s.ready(); err != nil {
		return false, err
	}
	ctx, cancel := s.call(ctx)
	defer cancel()

	return s.del(ctx, key)
}

func (s *Session) del(ctx context.Context, key string) (bool, error) {
	n, err := s.text.Del(ctx, key).Result()
	if err != nil {
		return false, s.fail(translate("del", err))
	}
	return n > 0, nil
}

// DeleteMany removes each key on its own. A key that fails, including one
// that was already absent, is recorded and the batch carries on.
func (s *Session) DeleteMany(ctx context.Context, keys []string) BatchResult {
	start := time.Now()
	var res BatchResult
	for _, key := range keys {
		err := s.deleteOne(ctx, key)
		if err != nil {
			res.Failures = append(res.Failures, KeyFailure{Key: key, Err: err})
			res.Failed++
			continue
		}
		res.Deleted = append(res.Deleted, key)
		res.Succeeded++
	}

	var batchErr error
	if res.Failed > 0 {
		batchErr = res.Failures[0].Err
	}
	s.observe("delete_many", start, &batchErr)
	s.logger.Info(
		"batch delete",
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed),
	)
	return res
}

func (s *Session) deleteOne(ctx context.Context, key string) error {
	if err := s.ready(); err != nil {
		return err
	}
	ctx, cancel := s.call(ctx)
	defer cancel()

	ok, err := s.del(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("del %q: %w", key, ErrNotFound)
	}
	return nil
}

// DeleteSubtree removes every key at or beneath node, in tree order.
func (s *Session) DeleteSubtree(ctx context.Context, node *keytree.Node) BatchResult {
	if node == nil {
		return BatchResult{}
	}
	return s.DeleteMany(ctx, node.Keys())
}

// FlushDatabase removes every key in the selected database.
func (s *Session) FlushDatabase(ctx context.Context) (err error) {
	defer s.observe("flush_db", time.Now(), &err)

	if err := s.ready(); err != nil {
		return err
	}
	ctx, cancel := s.call(ctx)
	defer cancel()

	if err := s.text.FlushDB(ctx).Err(); err != nil {
		return s.fail(translate("flushdb", err))
	}
	s.logger.Warn("database flushed", slog.Int("database", s.database))
	return nil
}

// FlushAll removes every key in every database of the server.
func (s *Session) FlushAll(ctx context.Context) (err error) {
	defer s.observe("flush_all", time.Now(), &err)

	if err := s.ready(); err != nil {
		return err
	}
	ctx, cancel := s.call(ctx)
	defer cancel()

	if err := s.text.FlushAll(ctx).Err(); err != nil {
		return s.fail(translate("flushall", err))
	}
	s.logger.Warn("all databases flushed")
	return nil
}
