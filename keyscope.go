// Package keyscope is the data-access core of an inspection and editing tool
// for Redis-compatible key-value stores. It owns a single session to a store,
// turns flat key spaces into a navigable hierarchy, and reads and writes the
// five value shapes with binary-safe text forms.
//
// All calls are synchronous and a Session expects one call at a time; hosts
// that need concurrency must serialize access themselves.
package keyscope

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	DefaultHost      = "localhost"
	DefaultPort      = 6379
	DefaultTimeout   = 5 * time.Second
	DefaultDatabases = 16

	scanBatch = 1000
)

// Kind is the shape of a stored value.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindHash
	KindList
	KindSet
	KindZSet
)

// Kinds lists the supported shapes in display order.
var Kinds = []Kind{KindString, KindHash, KindList, KindSet, KindZSet}

// String returns the store's name for the shape.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindHash:
		return "hash"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindZSet:
		return "zset"
	default:
		return "invalid"
	}
}

// ParseKind maps a store type name to a Kind. Apart from the five supported
// shapes, "none" yields ErrNotFound and anything else ErrUnsupportedKind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "string":
		return KindString, nil
	case "hash":
		return KindHash, nil
	case "list":
		return KindList, nil
	case "set":
		return KindSet, nil
	case "zset":
		return KindZSet, nil
	case "none":
		return KindInvalid, ErrNotFound
	default:
		return KindInvalid, fmt.Errorf("%w: %q", ErrUnsupportedKind, name)
	}
}

// TTL is the remaining lifetime of a key in seconds, or NoExpiry.
type TTL int64

// NoExpiry marks a key that never expires.
const NoExpiry TTL = -1

// Expires reports whether the key has a finite lifetime.
func (t TTL) Expires() bool {
	return t >= 0
}

// Duration converts t to a time.Duration. It returns zero for NoExpiry.
func (t TTL) Duration() time.Duration {
	if !t.Expires() {
		return 0
	}
	return time.Duration(t) * time.Second
}

func (t TTL) String() string {
	if !t.Expires() {
		return "no expiry"
	}
	return t.Duration().String()
}

// Endpoint holds the parameters of a connection.
type Endpoint struct {
	Host     string
	Port     int
	Secret   string
	Database int
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) validate() error {
	if e.Host == "" {
		return fmt.Errorf("%w: empty host", ErrValidation)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrValidation, e.Port)
	}
	if e.Database < 0 {
		return fmt.Errorf("%w: negative database index %d", ErrValidation, e.Database)
	}
	return nil
}

// Entry is a fully loaded key.
type Entry struct {
	Key   string
	Value Value
	TTL   TTL
}

// Kind returns the shape of the loaded value.
func (e *Entry) Kind() Kind {
	return e.Value.Kind()
}
