package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hossein1376/grape/slogger"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kamune-org/keyscope"
	"github.com/kamune-org/keyscope/internal/config"
	"github.com/kamune-org/keyscope/pkg/profile"
)

const (
	secretEnv     = "KEYSCOPE_SECRET"
	passphraseEnv = "KEYSCOPE_PASSPHRASE"
)

type args struct {
	config   string
	host     string
	port     int
	db       int
	profile  string
	askPass  bool
	timeout  time.Duration
	logLevel string
}

func defaultArgs() args {
	path, err := config.DefaultPath()
	if err != nil {
		path = "keyscope.toml"
	}
	return args{
		config:  path,
		host:    keyscope.DefaultHost,
		port:    keyscope.DefaultPort,
		timeout: keyscope.DefaultTimeout,
	}
}

// app carries what every subcommand shares once the root has parsed its
// flags.
type app struct {
	args   args
	cfg    config.Config
	logger *slog.Logger

	// readSecret prompts for a secret without echoing it.
	readSecret func(prompt string) ([]byte, error)
	dbChanged  bool
}

func newRootCmd() *cobra.Command {
	a := &app{args: defaultArgs(), readSecret: readSecret}
	return a.rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "keyscope",
		Short:         "Inspect and edit Redis-compatible key-value stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&a.args.config, "config", a.args.config, "config file path")
	f.StringVar(&a.args.host, "host", a.args.host, "server host")
	f.IntVar(&a.args.port, "port", a.args.port, "server port")
	f.IntVarP(&a.args.db, "db", "n", a.args.db, "logical database index")
	f.StringVarP(&a.args.profile, "profile", "p", a.args.profile, "connect with a saved profile")
	f.BoolVar(&a.args.askPass, "ask-pass", a.args.askPass, "prompt for the server secret")
	f.DurationVar(&a.args.timeout, "timeout", a.args.timeout, "per-operation timeout")
	f.StringVar(&a.args.logLevel, "log-level", a.args.logLevel, "debug, info, warn or error")

	cmd.AddCommand(
		a.keysCmd(),
		a.getCmd(),
		a.setCmd(),
		a.ttlCmd(),
		a.delCmd(),
		a.flushCmd(),
		a.profileCmd(),
		a.daemonCmd(),
	)
	return cmd
}

// setup loads the configuration, lays the changed flags over it and installs
// the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.args.config)
	if err != nil {
		return fmt.Errorf("%w: config %s: %v", keyscope.ErrValidation, a.args.config, err)
	}

	flags := cmd.Flags()
	var o config.Config
	if flags.Changed("host") {
		o.Connection.Host = a.args.host
	}
	if flags.Changed("port") {
		o.Connection.Port = a.args.port
	}
	if flags.Changed("timeout") {
		o.Connection.Timeout = a.args.timeout
	}
	cfg = cfg.Merge(o)
	// Database 0 is a legitimate override, so it cannot go through Merge.
	if a.dbChanged = flags.Changed("db"); a.dbChanged {
		cfg.Connection.Database = a.args.db
	}
	if a.args.logLevel != "" {
		if err := cfg.Log.Level.UnmarshalText([]byte(a.args.logLevel)); err != nil {
			return fmt.Errorf("%w: log level: %v", keyscope.ErrValidation, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", keyscope.ErrValidation, err)
	}
	a.cfg = cfg

	if cmd.Name() == "daemon" {
		// stdout carries the protocol.
		a.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: cfg.Log.Level,
		}))
		slog.SetDefault(a.logger)
	} else {
		slogger.NewDefault(slogger.WithLevel(cfg.Log.Level))
		a.logger = slog.Default()
	}
	return nil
}

// connect opens a session to the configured endpoint, or to the saved
// profile when one is named.
func (a *app) connect(ctx context.Context, opts ...keyscope.Option) (*keyscope.Session, error) {
	ep, err := a.endpoint()
	if err != nil {
		return nil, err
	}
	opts = append(a.cfg.SessionOptions(), append(opts, keyscope.WithLogger(a.logger))...)
	s := keyscope.New(opts...)
	if err := s.Connect(ctx, ep); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *app) endpoint() (keyscope.Endpoint, error) {
	if a.args.profile != "" {
		return a.profileEndpoint(a.args.profile)
	}

	ep := a.cfg.Connection.Endpoint()
	switch {
	case a.args.askPass:
		secret, err := a.readSecret("Secret: ")
		if err != nil {
			return ep, fmt.Errorf("reading secret: %w", err)
		}
		ep.Secret = string(secret)
	default:
		ep.Secret = os.Getenv(secretEnv)
	}
	return ep, nil
}

func (a *app) profileEndpoint(name string) (keyscope.Endpoint, error) {
	store, err := a.openProfiles()
	if err != nil {
		return keyscope.Endpoint{}, err
	}
	defer store.Close()

	p, err := store.Get(name)
	if err != nil {
		return keyscope.Endpoint{}, profileError(err)
	}
	if err := store.Touch(name); err != nil {
		a.logger.Warn("could not record profile use", slog.String("profile", name), slogger.Err("error", err))
	}
	ep := p.Endpoint()
	if a.dbChanged {
		ep.Database = a.args.db
	}
	return ep, nil
}

func (a *app) openProfiles() (*profile.Store, error) {
	var opts []profile.Option
	switch {
	case a.cfg.Profiles.NoPassphrase:
		opts = append(opts, profile.WithNoPassphrase())
	case os.Getenv(passphraseEnv) != "":
		opts = append(opts, profile.WithPassphrase([]byte(os.Getenv(passphraseEnv))))
	}
	store, err := profile.Open(a.cfg.Profiles.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening profiles: %w", err)
	}
	return store, nil
}

// profileError lifts profile store errors into the keyscope error classes.
func profileError(err error) error {
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return fmt.Errorf("%w: %w", keyscope.ErrNotFound, err)
	case errors.Is(err, profile.ErrInvalidName), errors.Is(err, profile.ErrInvalidProfile):
		return fmt.Errorf("%w: %w", keyscope.ErrValidation, err)
	default:
		return err
	}
}

func readSecret(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(secret), nil
}

// withSession connects, runs fn and closes the session.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *keyscope.Session) error) error {
	ctx := cmd.Context()
	s, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.logger.Debug("closing session", slogger.Err("error", err))
		}
	}()
	return fn(ctx, s)
}

func printf(w io.Writer, format string, v ...any) {
	_, _ = fmt.Fprintf(w, format, v...)
}
