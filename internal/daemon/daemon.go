// Package daemon exposes a keyscope session over a line-delimited JSON
// protocol so that external front ends can drive it through stdio.
//
// Every command line is answered by exactly one response or error event
// carrying the command's correlation ID. Commands run one at a time on a
// single worker, in the order they were read.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/kamune-org/keyscope"
	"github.com/kamune-org/keyscope/pkg/profile"
)

const (
	Version = "1.0.0"

	// Increase buffer size for larger values
	maxScanTokenSize = 1024 * 1024 // 1MB
	queueSize        = 64
)

// Profiles is the part of the profile store the daemon uses.
type Profiles interface {
	Get(name string) (profile.Profile, error)
	Touch(name string) error
}

// ProfileOpener opens the profile store the first time a profile is used.
type ProfileOpener func() (Profiles, error)

type handler func(ctx context.Context, params json.RawMessage) (any, error)

// Daemon serves one session.
type Daemon struct {
	id       string
	session  *keyscope.Session
	logger   *slog.Logger
	in       io.Reader
	output   *json.Encoder
	outputMu sync.Mutex
	queue    chan Command
	routes   map[string]handler
	stop     chan struct{}
	stopOnce sync.Once

	openProfiles ProfileOpener
	profiles     Profiles
}

type Option func(*Daemon)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) { d.logger = logger }
}

// WithProfiles enables connect_profile.
func WithProfiles(open ProfileOpener) Option {
	return func(d *Daemon) { d.openProfiles = open }
}

// New returns a daemon reading commands from in and writing events to out.
// The caller keeps ownership of session.
func New(session *keyscope.Session, in io.Reader, out io.Writer, opts ...Option) *Daemon {
	d := &Daemon{
		id:      uuid.NewString(),
		session: session,
		logger:  slog.New(slog.DiscardHandler),
		in:      in,
		output:  json.NewEncoder(out),
		queue:   make(chan Command, queueSize),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.output.SetEscapeHTML(false)
	d.logger = d.logger.With("daemon", d.id)
	d.routes = map[string]handler{
		CmdConnect:        d.handleConnect,
		CmdConnectProfile: d.handleConnectProfile,
		CmdSelectDB:       d.handleSelectDB,
		CmdListKeys:       d.handleListKeys,
		CmdTree:           d.handleTree,
		CmdResolveType:    d.handleResolveType,
		CmdLoad:           d.handleLoad,
		CmdGetTTL:         d.handleGetTTL,
		CmdSetTTL:         d.handleSetTTL,
		CmdWrite:          d.handleWrite,
		CmdDelete:         d.handleDelete,
		CmdDeleteMany:     d.handleDeleteMany,
		CmdDeleteSubtree:  d.handleDeleteSubtree,
		CmdFlushDB:        d.handleFlushDB,
		CmdFlushAll:       d.handleFlushAll,
		CmdPing:           d.handlePing,
		CmdStatus:         d.handleStatus,
		CmdShutdown:       d.handleShutdown,
	}
	return d
}

// ID returns the daemon's identifier, reported in the ready event.
func (d *Daemon) ID() string { return d.id }

// Run emits the ready event and serves commands until the input ends, a
// shutdown command is handled or ctx is done. Commands already read when the
// input ends are still answered.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	d.emit(EvtReady, "", map[string]any{
		"version":   Version,
		"pid":       os.Getpid(),
		"daemon_id": d.id,
	})

	readErr := make(chan error, 1)
	go func() {
		readErr <- d.read(ctx)
		close(d.queue)
	}()

	d.work(ctx)

	select {
	case err := <-readErr:
		return err
	default:
		return nil
	}
}

// Shutdown stops Run after the command in progress.
func (d *Daemon) Shutdown() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *Daemon) read(ctx context.Context) error {
	scanner := bufio.NewScanner(d.in)
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			d.emitError("", fmt.Errorf("%w: invalid JSON: %v", keyscope.ErrValidation, err))
			continue
		}
		if cmd.Type != "cmd" {
			d.emitError(cmd.ID, fmt.Errorf(
				"%w: unknown message type: %s", keyscope.ErrValidation, cmd.Type,
			))
			continue
		}

		select {
		case d.queue <- cmd:
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		d.logger.Error("input scanner error", slog.Any("error", err))
		return fmt.Errorf("reading commands: %w", err)
	}
	return nil
}

func (d *Daemon) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-d.queue:
			if !ok {
				return
			}
			d.handleCommand(ctx, cmd)
			if cmd.Cmd == CmdShutdown {
				d.Shutdown()
				return
			}
		}
	}
}

func (d *Daemon) handleCommand(ctx context.Context, cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command panicked", slog.String("cmd", cmd.Cmd), slog.Any("panic", r))
			d.emitError(cmd.ID, fmt.Errorf("%s: panic: %v", cmd.Cmd, r))
		}
	}()

	h, ok := d.routes[cmd.Cmd]
	if !ok {
		d.emitError(cmd.ID, fmt.Errorf("%w: unknown command: %s", keyscope.ErrValidation, cmd.Cmd))
		return
	}
	data, err := h(ctx, cmd.Params)
	if err != nil {
		d.logger.Debug(
			"command failed",
			slog.String("cmd", cmd.Cmd),
			slog.String("id", cmd.ID),
			slog.Any("error", err),
		)
		d.emitError(cmd.ID, err)
		return
	}
	d.emit(EvtResponse, cmd.ID, data)
}

// emit writes one event line.
func (d *Daemon) emit(evt string, correlationID string, data any) {
	d.outputMu.Lock()
	defer d.outputMu.Unlock()

	event := Event{
		Type: "evt",
		Evt:  evt,
		ID:   correlationID,
		Data: data,
	}
	if err := d.output.Encode(event); err != nil {
		d.logger.Error("failed to emit event", slog.Any("error", err))
	}
}

func (d *Daemon) emitError(correlationID string, err error) {
	d.emit(EvtError, correlationID, ErrorData{
		Error: err.Error(),
		Code:  string(keyscope.Classify(err)),
	})
}

func decode[T any](raw json.RawMessage) (T, error) {
	var params T
	if len(raw) == 0 || string(raw) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, fmt.Errorf("%w: invalid params: %v", keyscope.ErrValidation, err)
	}
	return params, nil
}

func (d *Daemon) profileStore() (Profiles, error) {
	if d.profiles != nil {
		return d.profiles, nil
	}
	if d.openProfiles == nil {
		return nil, fmt.Errorf("%w: profile store is not configured", keyscope.ErrValidation)
	}
	p, err := d.openProfiles()
	if err != nil {
		return nil, fmt.Errorf("opening profiles: %w", err)
	}
	d.profiles = p
	return p, nil
}
