// Package profile persists named connection profiles in a local bbolt file.
// Secrets are encrypted at rest with a data key that is itself wrapped by a
// key derived from the operator's passphrase.
package profile

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/term"

	"github.com/kamune-org/keyscope/internal/enigma"
)

const (
	profilesBucket = "profiles"
	authBucket     = "auth"

	kek = "key-encryption-key"
	dek = "data-encryption-key"
	dpk = "derived-passphrase-key"

	wrappedSaltKey = "wrapped-salt"
	wrappedKey     = "wrapped-key"
	deriveSaltKey  = "derive-salt"
	secretSaltKey  = "secret-salt"
)

var (
	ErrNotFound         = errors.New("profile not found")
	ErrInvalidName      = errors.New("invalid profile name")
	ErrInvalidProfile   = errors.New("invalid profile")
	ErrFailedDecryption = errors.New("decryption failed")

	errNoKeys = errors.New("no key material")
)

type PassphraseHandler func() ([]byte, error)

func defaultPassphraseHandler() ([]byte, error) {
	fmt.Fprint(os.Stderr, "Profile passphrase: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(pass), nil
}

type Option func(*Store)

// WithPassphrase unlocks the store with a fixed passphrase.
func WithPassphrase(pass []byte) Option {
	return func(s *Store) {
		s.passphrase = func() ([]byte, error) { return pass, nil }
	}
}

// WithPassphraseHandler asks fn for the passphrase when the store opens.
func WithPassphraseHandler(fn PassphraseHandler) Option {
	return func(s *Store) { s.passphrase = fn }
}

// WithNoPassphrase unlocks the store with the empty passphrase. Secrets are
// still encrypted, but anyone with the file can read them.
func WithNoPassphrase() Option {
	return func(s *Store) {
		s.passphrase = func() ([]byte, error) { return []byte(""), nil }
	}
}

type Store struct {
	db         *bolt.DB
	cipher     *enigma.Enigma
	passphrase PassphraseHandler
	now        func() time.Time
}

// DefaultPath is where profiles live when no path is given.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user's home directory: %w", err)
	}
	return filepath.Join(home, ".config", "keyscope", "profiles.db"), nil
}

// Open opens or creates the profile store at path. An empty path means
// DefaultPath.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{passphrase: defaultPassphraseHandler, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{profilesBucket, authBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("creating %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	pass, err := s.passphrase()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("getting passphrase: %w", err)
	}
	cipher, err := unwrap(pass, db)
	if errors.Is(err, errNoKeys) {
		cipher, err = wrap(pass, db)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cipher: %w", err)
	}
	s.db, s.cipher = db, cipher

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Query runs f in a read-only transaction.
func (s *Store) Query(f func(q *Query) error) error {
	return s.db.View(func(tx *bolt.Tx) (err error) {
		defer recoverTx("view", &err)
		return f(&Query{store: s, tx: tx})
	})
}

// Command runs f in a read-write transaction.
func (s *Store) Command(f func(c *Command) error) error {
	return s.db.Update(func(tx *bolt.Tx) (err error) {
		defer recoverTx("update", &err)
		return f(&Command{Query: Query{store: s, tx: tx}})
	})
}

func recoverTx(kind string, err *error) {
	if msg := recover(); msg != nil {
		slog.Error(
			"recovered from panic in "+kind+" transaction",
			slog.Any("panic", msg),
			slog.String("stack", string(debug.Stack())),
		)
		*err = fmt.Errorf("panic in %s transaction: %v", kind, msg)
	}
}

func unwrap(pass []byte, db *bolt.DB) (*enigma.Enigma, error) {
	var secretSalt, deriveSalt, wrappedSalt, wrapped []byte
	_ = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(authBucket))
		wrapped = bytes.Clone(bucket.Get([]byte(wrappedKey)))
		deriveSalt = bytes.Clone(bucket.Get([]byte(deriveSaltKey)))
		wrappedSalt = bytes.Clone(bucket.Get([]byte(wrappedSaltKey)))
		secretSalt = bytes.Clone(bucket.Get([]byte(secretSaltKey)))
		return nil
	})
	if secretSalt == nil || deriveSalt == nil || wrappedSalt == nil || wrapped == nil {
		return nil, errNoKeys
	}

	kc, err := keyCipher(pass, deriveSalt, wrappedSalt)
	if err != nil {
		return nil, err
	}
	secret, err := kc.Decrypt(wrapped)
	if err != nil {
		return nil, ErrFailedDecryption
	}
	dataCipher, err := enigma.NewEnigma(secret, secretSalt, []byte(dek))
	if err != nil {
		return nil, fmt.Errorf("data cipher: %w", err)
	}
	return dataCipher, nil
}

func wrap(pass []byte, db *bolt.DB) (*enigma.Enigma, error) {
	secret, secretSalt := random32Bytes(), random32Bytes()
	deriveSalt, wrappedSalt := random32Bytes(), random32Bytes()

	kc, err := keyCipher(pass, deriveSalt, wrappedSalt)
	if err != nil {
		return nil, err
	}
	wrapped := kc.Encrypt(secret)
	dataCipher, err := enigma.NewEnigma(secret, secretSalt, []byte(dek))
	if err != nil {
		return nil, fmt.Errorf("data cipher: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(authBucket))
		for key, value := range map[string][]byte{
			wrappedKey:     wrapped,
			wrappedSaltKey: wrappedSalt,
			deriveSaltKey:  deriveSalt,
			secretSaltKey:  secretSalt,
		} {
			if err := bucket.Put([]byte(key), value); err != nil {
				return fmt.Errorf("put %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update db: %w", err)
	}

	return dataCipher, nil
}

func keyCipher(pass, deriveSalt, wrappedSalt []byte) (*enigma.Enigma, error) {
	derivedPass, err := enigma.Derive(pass, deriveSalt, []byte(dpk), enigma.KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive from pass: %w", err)
	}
	c, err := enigma.NewEnigma(derivedPass, wrappedSalt, []byte(kek))
	if err != nil {
		return nil, fmt.Errorf("key cipher: %w", err)
	}
	return c, nil
}

func random32Bytes() []byte {
	src := make([]byte, 32)
	_, _ = rand.Read(src)
	return src
}

func (s *Store) Put(p Profile) error {
	return s.Command(func(c *Command) error { return c.Put(p) })
}

func (s *Store) Get(name string) (Profile, error) {
	var p Profile
	err := s.Query(func(q *Query) error {
		var err error
		p, err = q.Get(name)
		return err
	})
	return p, err
}

// List returns every profile, most recently used first.
func (s *Store) List() ([]Profile, error) {
	var out []Profile
	err := s.Query(func(q *Query) error {
		out = q.List()
		return nil
	})
	return out, err
}

func (s *Store) Remove(name string) error {
	return s.Command(func(c *Command) error { return c.Remove(name) })
}

// Touch marks the profile as used now.
func (s *Store) Touch(name string) error {
	return s.Command(func(c *Command) error { return c.Touch(name, s.now()) })
}
