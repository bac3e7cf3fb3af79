package keyscope

import (
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrConnection covers unreachable endpoints, authentication failures and
	// timeouts. After one, the session is no longer trusted.
	ErrConnection = errors.New("connection error")
	// ErrNotConnected is returned when no session has been established.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrConnection)

	ErrNotFound        = errors.New("key not found")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrUnsupportedKind = errors.New("unsupported value type")
	ErrDecode          = errors.New("decode error")
	ErrValidation      = errors.New("validation error")
	ErrRejected        = errors.New("command rejected")
)

// Code is a stable name for an error class, suitable for wire protocols.
type Code string

const (
	CodeOK              Code = "ok"
	CodeConnection      Code = "connection"
	CodeNotFound        Code = "not_found"
	CodeTypeMismatch    Code = "type_mismatch"
	CodeUnsupportedKind Code = "unsupported_kind"
	CodeDecode          Code = "decode"
	CodeValidation      Code = "validation"
	CodeRejected        Code = "rejected"
	CodeInternal        Code = "internal"
)

// Classify returns the error class of err.
func Classify(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrConnection):
		return CodeConnection
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrTypeMismatch):
		return CodeTypeMismatch
	case errors.Is(err, ErrUnsupportedKind):
		return CodeUnsupportedKind
	case errors.Is(err, ErrDecode):
		return CodeDecode
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrRejected):
		return CodeRejected
	default:
		return CodeInternal
	}
}

var connectionReplies = []string{"NOAUTH", "WRONGPASS", "NOPERM", "LOADING", "MASTERDOWN"}

// translate maps a client library error onto the taxonomy.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var reply redis.Error
	if errors.As(err, &reply) {
		msg := reply.Error()
		switch {
		case strings.HasPrefix(msg, "WRONGTYPE"):
			return fmt.Errorf("%s: %w: %s", op, ErrTypeMismatch, msg)
		case hasAnyPrefix(msg, connectionReplies), strings.Contains(msg, "invalid password"):
			return fmt.Errorf("%s: %w: %s", op, ErrConnection, msg)
		default:
			return fmt.Errorf("%s: %w: %s", op, ErrRejected, msg)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, ErrConnection, err)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
