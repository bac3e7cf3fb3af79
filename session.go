package keyscope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// State is the connectivity of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var errSessionFailed = fmt.Errorf("%w: session failed, reconnect required", ErrConnection)

// Session owns the connection to one store endpoint. It holds two channels to
// the same server: the raw channel moves payload bytes, the text channel runs
// metadata commands. Both are opened and closed together.
//
// A Session is not safe for concurrent use.
type Session struct {
	id        string
	logger    *slog.Logger
	recorder  Recorder
	timeout   time.Duration
	fallback  int
	client    *redis.Client
	raw       *redis.Conn
	text      *redis.Conn
	endpoint  Endpoint
	database  int
	databases int
	state     State

	// hook runs before each step of a multi-step operation.
	hook func(op, key string)
}

type Option func(*Session)

// WithLogger sets the logger for connectivity transitions and failures.
// Sessions are silent by default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithTimeout bounds every dial, read and write, and every call as a whole.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) { s.timeout = timeout }
}

// WithDatabases sets the database count assumed when the server does not
// report one.
func WithDatabases(n int) Option {
	return func(s *Session) { s.fallback = n }
}

// WithRecorder sets the receiver of per-operation metrics.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// New returns a disconnected Session.
func New(opts ...Option) *Session {
	s := &Session{
		id:       uuid.Must(uuid.NewV7()).String(),
		logger:   slog.New(slog.DiscardHandler),
		recorder: nopRecorder{},
		timeout:  DefaultTimeout,
		fallback: DefaultDatabases,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.fallback <= 0 {
		s.fallback = DefaultDatabases
	}
	s.logger = s.logger.With(slog.String("session", s.id))
	return s
}

// ID returns the identifier used to correlate this session's log records.
func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.state }

func (s *Session) IsConnected() bool { return s.state == StateConnected }

// Database returns the selected database index.
func (s *Session) Database() int { return s.database }

// Databases returns the number of logical databases on the connected server,
// or the configured fallback.
func (s *Session) Databases() int {
	if s.databases > 0 {
		return s.databases
	}
	return s.fallback
}

// Endpoint returns the current endpoint with the secret omitted.
func (s *Session) Endpoint() Endpoint {
	ep := s.endpoint
	ep.Secret = ""
	ep.Database = s.database
	return ep
}

func (s *Session) Timeout() time.Duration { return s.timeout }

// Connect replaces any existing connection with a new one to ep. Both
// channels must answer a ping within the session timeout; otherwise both are
// discarded and the session is left failed.
func (s *Session) Connect(ctx context.Context, ep Endpoint) (err error) {
	defer s.observe("connect", time.Now(), &err)

	if err := ep.validate(); err != nil {
		return err
	}
	s.teardown()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:                  ep.Addr(),
		Password:              ep.Secret,
		DialTimeout:           s.timeout,
		ReadTimeout:           s.timeout,
		WriteTimeout:          s.timeout,
		ContextTimeoutEnabled: true,
		PoolSize:              2,
		MaxRetries:            -1,
	})
	raw, text := client.Conn(), client.Conn()
	discard := func(cause error) error {
		_ = raw.Close()
		_ = text.Close()
		_ = client.Close()
		s.logger.Error(
			"connect failed",
			slog.String("addr", ep.Addr()),
			slog.Any("error", cause),
		)
		s.setState(StateFailed)
		return cause
	}

	for _, ch := range []*redis.Conn{raw, text} {
		if err := ch.Ping(ctx).Err(); err != nil {
			return discard(fmt.Errorf("connect %s: %w: %v", ep.Addr(), ErrConnection, err))
		}
	}

	databases := s.discoverDatabases(ctx, text)
	if ep.Database >= databases {
		return discard(fmt.Errorf(
			"%w: database %d out of range [0, %d)", ErrValidation, ep.Database, databases,
		))
	}
	if ep.Database != 0 {
		for _, ch := range []*redis.Conn{raw, text} {
			if err := ch.Select(ctx, ep.Database).Err(); err != nil {
				return discard(translate("select", err))
			}
		}
	}

	s.client, s.raw, s.text = client, raw, text
	s.endpoint = ep
	s.database = ep.Database
	s.databases = databases
	s.logger.Info(
		"connected",
		slog.String("addr", ep.Addr()),
		slog.Int("database", ep.Database),
		slog.Int("databases", databases),
	)
	s.setState(StateConnected)
	return nil
}

func (s *Session) discoverDatabases(ctx context.Context, text *redis.Conn) int {
	reply, err := text.ConfigGet(ctx, "databases").Result()
	if err != nil {
		s.logger.Debug("database count unavailable", slog.Any("error", err))
		return s.fallback
	}
	n, err := strconv.Atoi(reply["databases"])
	if err != nil || n <= 0 {
		return s.fallback
	}
	return n
}

// SelectDatabase switches both channels to another logical database.
func (s *Session) SelectDatabase(ctx context.Context, index int) (err error) {
	defer s.observe("select", time.Now(), &err)

	if err := s.ready(); err != nil {
		return err
	}
	if index < 0 || index >= s.Databases() {
		return fmt.Errorf(
			"%w: database %d out of range [0, %d)", ErrValidation, index, s.Databases(),
		)
	}

	ctx, cancel := s.call(ctx)
	defer cancel()

	if err := s.raw.Select(ctx, index).Err(); err != nil {
		return s.fail(translate("select", err))
	}
	if err := s.text.Select(ctx, index).Err(); err != nil {
		// Put the raw channel back so both agree on the database.
		if rerr := s.raw.Select(ctx, s.database).Err(); rerr != nil {
			s.setState(StateFailed)
		}
		return s.fail(translate("select", err))
	}

	s.logger.Info(
		"database selected",
		slog.Int("from", s.database),
		slog.Int("to", index),
	)
	s.database = index
	return nil
}

// Ping checks both channels.
func (s *Session) Ping(ctx context.Context) (err error) {
	defer s.observe("ping", time.Now(), &err)

	if err := s.ready(); err != nil {
		return err
	}
	ctx, cancel := s.call(ctx)
	defer cancel()

	for _, ch := range []*redis.Conn{s.raw, s.text} {
		if err := ch.Ping(ctx).Err(); err != nil {
			return s.fail(translate("ping", err))
		}
	}
	return nil
}

// Close releases both channels. The session can be connected again.
func (s *Session) Close() error {
	err := s.teardown()
	s.setState(StateDisconnected)
	return err
}

func (s *Session) teardown() error {
	if s.client == nil {
		return nil
	}
	err := errors.Join(s.raw.Close(), s.text.Close(), s.client.Close())
	s.client, s.raw, s.text = nil, nil, nil
	s.databases = 0
	s.logger.Info("connection closed", slog.String("addr", s.endpoint.Addr()))
	return err
}

func (s *Session) ready() error {
	switch s.state {
	case StateConnected:
		return nil
	case StateFailed:
		return errSessionFailed
	default:
		return ErrNotConnected
	}
}

func (s *Session) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Session) step(op, key string) {
	if s.hook != nil {
		s.hook(op, key)
	}
}

// fail records connection-class errors as a session failure.
func (s *Session) fail(err error) error {
	if errors.Is(err, ErrConnection) && s.state == StateConnected {
		s.logger.Error("connection lost", slog.Any("error", err))
		s.setState(StateFailed)
	}
	return err
}

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.logger.Info(
		"session state changed",
		slog.String("from", s.state.String()),
		slog.String("to", state.String()),
	)
	s.state = state
	s.recorder.State(state)
}

func (s *Session) observe(op string, start time.Time, err *error) {
	s.recorder.Observe(op, time.Since(start), Classify(*err))
}
