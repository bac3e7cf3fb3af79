package keyscope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResolveType returns the shape of the value stored at key.
func (s *Session) ResolveType(ctx context.Context, key string) (kind Kind, err error) {
	defer s.observe("resolve_type", time.Now(), &err)

	if err := s.ready(); err != nil {
		return KindInvalid, err
	}
	ctx, cancel := s.call(ctx)
	defer cancel()

	return s.resolve(ctx, key)
}

func (s *Session) resolve(ctx context.Context, key string) (Kind, error) {
	name, err := s.text.Type(ctx, key).Result()
	if err != nil {
		return KindInvalid, s.fail(translate("type", err))
	}
	kind, err := ParseKind(name)
	if err != nil {
		return KindInvalid, fmt.Errorf("type %q: %w", key, err)
	}
	return kind, nil
}

// Load reads the full value and TTL of key. The type is resolved again on
// every call; the type check, payload read and TTL read run in one
// transaction so they describe the same version of the key.
func (s *Session) Load(ctx context.Context, key string) (*Entry, error) {
	return s.load(ctx, key, KindInvalid)
}

// LoadAs is Load for a key expected to hold kind. It returns ErrTypeMismatch
// when the stored shape differs.
func (s *Session) LoadAs(ctx context.Context, key string, kind Kind) (*Entry, error) {
	if kind == KindInvalid {
		return nil, fmt.Errorf("%w: invalid kind", ErrValidation)
	}
	return s.load(ctx, key, kind)
}

func (s *Session) load(ctx context.Context, key string, want Kind) (entry *Entry, err error) {
	defer s.observe("load", time.Now(), &err)

	if err := s.ready(); err != nil {
		return nil, err
	}
	ctx, cancel := s.call(ctx)
	defer cancel()

	kind, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	if want != KindInvalid && kind != want {
		return nil, fmt.Errorf("load %q: %w: stored %s, want %s", key, ErrTypeMismatch, kind, want)
	}
	s.step("read", key)

	var (
		typ    *redis.StatusCmd
		ttl    *redis.Cmd
		decode func() (Value, error)
	)
	_, txErr := s.raw.TxPipelined(ctx, func(p redis.Pipeliner) error {
		typ = p.Type(ctx, key)
		decode = queueRead(ctx, p, key, kind)
		ttl = p.Do(ctx, "ttl", key)
		return nil
	})

	// The stored type decides how to read any error from the transaction.
	name, err := typ.Result()
	if err != nil {
		return nil, s.fail(translate("load", errors.Join(err, txErr)))
	}
	switch current, err := ParseKind(name); {
	case err != nil:
		return nil, fmt.Errorf("load %q: %w", key, err)
	case current != kind:
		return nil, fmt.Errorf(
			"load %q: %w: changed from %s to %s", key, ErrTypeMismatch, kind, current,
		)
	}
	if txErr != nil {
		return nil, s.fail(translate("load", txErr))
	}

	value, err := decode()
	if err != nil {
		return nil, s.fail(translate("load", err))
	}
	secs, err := ttl.Int64()
	if err != nil {
		return nil, s.fail(translate("ttl", err))
	}
	return &Entry{Key: key, Value: value, TTL: ttlOf(secs)}, nil
}

// queueRead queues the payload read for kind and returns the function that
// extracts the value once the transaction has run.
func queueRead(ctx context.Context, p redis.Pipeliner, key string, kind Kind) func() (Value, error) {
	switch kind {
	case KindString:
		cmd := p.Get(ctx, key)
		return func() (Value, error) {
			b, err := cmd.Bytes()
			return StringValue(b), err
		}
	case KindHash:
		cmd := p.HGetAll(ctx, key)
		return func() (Value, error) {
			m, err := cmd.Result()
			if err != nil {
				return nil, err
			}
			h := make(HashValue, 0, len(m))
			for name, value := range m {
				h = append(h, Field{Name: []byte(name), Value: []byte(value)})
			}
			return h.normalize(), nil
		}
	case KindList:
		cmd := p.LRange(ctx, key, 0, -1)
		return func() (Value, error) {
			elems, err := cmd.Result()
			return ListValue(toBytes(elems)), err
		}
	case KindSet:
		cmd := p.SMembers(ctx, key)
		return func() (Value, error) {
			members, err := cmd.Result()
			if err != nil {
				return nil, err
			}
			return SetValue(toBytes(members)).normalize(), nil
		}
	case KindZSet:
		cmd := p.ZRangeWithScores(ctx, key, 0, -1)
		return func() (Value, error) {
			zs, err := cmd.Result()
			if err != nil {
				return nil, err
			}
			out := make(ZSetValue, 0, len(zs))
			for _, z := range zs {
				member, _ := z.Member.(string)
				out = append(out, Member{Member: []byte(member), Score: z.Score})
			}
			return out, nil
		}
	default:
		return func() (Value, error) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
		}
	}
}

func toBytes(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func ttlOf(secs int64) TTL {
	if secs < 0 {
		return NoExpiry
	}
	return TTL(secs)
}

// GetTTL returns the remaining lifetime of key.
func (s *Session) GetTTL(ctx context.Context, key string) (ttl TTL, err error) {
	defer s.observe("get_ttl", time.Now(), &err)

	if err := s.ready(); err != nil {
		return 0, err
	}
	ctx, cancel := s.call(ctx)
	defer cancel()

	return s.ttl(ctx, key)
}

func (s *Session) ttl(ctx context.Context, key string) (TTL, error) {
	cmd := redis.NewCmd(ctx, "ttl", key)
	_ = s.text.Process(ctx, cmd)
	secs, err := cmd.Int64()
	if err != nil {
		return 0, s.fail(translate("ttl", err))
	}
	if secs == -2 {
		return 0, fmt.Errorf("ttl %q: %w", key, ErrNotFound)
	}
	return ttlOf(secs), nil
}

// SetTTL makes key expire after seconds. A negative value removes any expiry.
func (s *Session) SetTTL(ctx context.Context, key string, seconds int64) (err error) {
	defer s.observe("set_ttl", time.Now(), &err)

	if err := s.ready(); err != nil {
		return err
	}
	ctx, cancel := s.call(ctx)
	defer cancel()

	if seconds < 0 {
		var exists *redis.IntCmd
		_, err := s.text.TxPipelined(ctx, func(p redis.Pipeliner) error {
			exists = p.Exists(ctx, key)
			p.Persist(ctx, key)
			return nil
		})
		if err != nil {
			return s.fail(translate("persist", err))
		}
		if exists.Val() == 0 {
			return fmt.Errorf("persist %q: %w", key, ErrNotFound)
		}
		return nil
	}

	ok, err := s.text.Expire(ctx, key, time.Duration(seconds)*time.Second).Result()
	if err != nil {
		return s.fail(translate("expire", err))
	}
	if !ok {
		return fmt.Errorf("expire %q: %w", key, ErrNotFound)
	}
	return nil
}

type writeOptions struct {
	ttl     *int64
	keepTTL bool
}

type WriteOption func(*writeOptions)

// WithTTL gives the written key a lifetime. A negative value writes it
// without expiry, and zero deletes it as soon as it is written.
func WithTTL(seconds int64) WriteOption {
	return func(o *writeOptions) {
		o.ttl = &seconds
		o.keepTTL = false
	}
}

// KeepTTL carries the key's current expiry over to the written value. A key
// with less than a second left keeps one second.
func KeepTTL() WriteOption {
	return func(o *writeOptions) {
		o.ttl = nil
		o.keepTTL = true
	}
}

// Write replaces whatever is stored at key with value. The delete, the write
// and the expiry run in one transaction. Writing an empty collection leaves
// the key absent; the store has no empty collections.
func (s *Session) Write(
	ctx context.Context, key string, value Value, opts ...WriteOption,
) (err error) {
	defer s.observe("write", time.Now(), &err)

	if value == nil {
		return fmt.Errorf("%w: nil value", ErrValidation)
	}
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	plan := &writePlan{ctx: ctx, key: key}
	if err := value.Accept(plan); err != nil {
		return err
	}

	if err := s.ready(); err != nil {
		return err
	}
	ctx, cancel := s.call(ctx)
	defer cancel()
	plan.ctx = ctx

	expire := int64(-1)
	switch {
	case o.ttl != nil:
		expire = *o.ttl
	case o.keepTTL:
		current, err := s.ttl(ctx, key)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case current.Expires():
			// Under a second left reads as 0, and EXPIRE 0 deletes.
			expire = max(int64(current), 1)
		}
	}

	_, err = s.raw.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		if plan.queue != nil {
			plan.queue(p)
			if expire >= 0 {
				p.Expire(ctx, key, time.Duration(expire)*time.Second)
			}
		}
		return nil
	})
	if err != nil {
		return s.fail(translate("write", err))
	}
	s.logger.Debug(
		"key written",
		slog.String("key", key),
		slog.String("kind", value.Kind().String()),
		slog.Int("len", value.Len()),
	)
	return nil
}

// writePlan validates a value and prepares its write command. queue stays
// nil for an empty collection.
type writePlan struct {
	ctx   context.Context
	key   string
	queue func(redis.Pipeliner)
}

func (w *writePlan) VisitString(v StringValue) error {
	payload := []byte(v)
	w.queue = func(p redis.Pipeliner) { p.Set(w.ctx, w.key, payload, 0) }
	return nil
}

func (w *writePlan) VisitHash(v HashValue) error {
	if len(v) == 0 {
		return nil
	}
	v = v.normalize()
	args := make([]any, 0, 2*len(v))
	for _, f := range v {
		args = append(args, f.Name, f.Value)
	}
	w.queue = func(p redis.Pipeliner) { p.HSet(w.ctx, w.key, args...) }
	return nil
}

func (w *writePlan) VisitList(v ListValue) error {
	if len(v) == 0 {
		return nil
	}
	args := bytesArgs(v)
	w.queue = func(p redis.Pipeliner) { p.RPush(w.ctx, w.key, args...) }
	return nil
}

func (w *writePlan) VisitSet(v SetValue) error {
	if len(v) == 0 {
		return nil
	}
	args := bytesArgs(v.normalize())
	w.queue = func(p redis.Pipeliner) { p.SAdd(w.ctx, w.key, args...) }
	return nil
}

func (w *writePlan) VisitZSet(v ZSetValue) error {
	if len(v) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(v))
	for _, m := range v.normalize() {
		if math.IsNaN(m.Score) {
			return fmt.Errorf("%w: score of %q is not a number", ErrValidation, m.Member)
		}
		members = append(members, redis.Z{Score: m.Score, Member: m.Member})
	}
	w.queue = func(p redis.Pipeliner) { p.ZAdd(w.ctx, w.key, members...) }
	return nil
}

func bytesArgs(elems [][]byte) []any {
	args := make([]any, len(elems))
	for i, e := range elems {
		args[i] = e
	}
	return args
}
