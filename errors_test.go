package keyscope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError()     {}

func TestTranslate(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, CodeOK},
		{redis.Nil, CodeNotFound},
		{replyError("WRONGTYPE Operation against a key holding the wrong kind of value"), CodeTypeMismatch},
		{replyError("NOAUTH Authentication required."), CodeConnection},
		{replyError("WRONGPASS invalid username-password pair"), CodeConnection},
		{replyError("ERR invalid password"), CodeConnection},
		{replyError("ERR DB index is out of range"), CodeRejected},
		{replyError("OOM command not allowed"), CodeRejected},
		{io.EOF, CodeConnection},
		{context.DeadlineExceeded, CodeConnection},
		{fmt.Errorf("dial: %w", errors.New("connection refused")), CodeConnection},
	}

	for _, tt := range tests {
		got := Classify(translate("op", tt.err))
		assert.Equal(t, tt.want, got, "%v", tt.err)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, CodeConnection, Classify(ErrNotConnected))
	assert.Equal(t, CodeValidation, Classify(fmt.Errorf("x: %w", ErrValidation)))
	assert.Equal(t, CodeDecode, Classify(ErrDecode))
	assert.Equal(t, CodeUnsupportedKind, Classify(ErrUnsupportedKind))
	assert.Equal(t, CodeInternal, Classify(errors.New("boom")))
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		assert.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("none")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ParseKind("stream")
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}
