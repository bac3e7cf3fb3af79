package keyscope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyViewEditSave(t *testing.T) {
	a := require.New(t)
	ctx := context.Background()
	s, m := newTestSession(t)
	m.HSet("user:1", "name", "Alice")

	v := NewKeyView(s)
	a.Equal(ViewIdle, v.State())

	kind, err := v.Resolve(ctx, "user:1")
	a.NoError(err)
	a.Equal(KindHash, kind)
	a.Equal(ViewTypeResolved, v.State())

	a.NoError(v.Load(ctx))
	a.Equal(ViewValueLoaded, v.State())
	d, err := v.Draft()
	a.NoError(err)
	a.Equal("{\n  \"name\": \"Alice\"\n}", d.Text)

	a.NoError(v.Edit(`{"name": "Bob", "age": "30"}`))
	a.Equal(ViewEdited, v.State())
	a.Equal("Alice", m.HGet("user:1", "name"))

	a.NoError(v.Save(ctx))
	a.Equal(ViewSaved, v.State())
	a.Equal("Bob", m.HGet("user:1", "name"))
	a.Equal("30", m.HGet("user:1", "age"))
	a.Equal(NewHash(map[string][]byte{"name": []byte("Bob"), "age": []byte("30")}), v.Entry().Value)

	a.ErrorIs(v.Save(ctx), ErrValidation)

	v.Reset()
	a.Equal(ViewIdle, v.State())
	a.Empty(v.Key())
	a.Nil(v.Entry())
}

func TestKeyViewEditTTL(t *testing.T) {
	a := require.New(t)
	ctx := context.Background()
	s, m := newTestSession(t)
	a.NoError(m.Set("k", "v"))

	v := NewKeyView(s)
	a.NoError(v.Open(ctx, "k"))
	a.NoError(v.EditTTL(60))
	a.NoError(v.Save(ctx))
	a.Equal(TTL(60), v.Entry().TTL)
	a.Positive(m.TTL("k"))

	a.NoError(v.Edit("w"))
	a.NoError(v.Save(ctx))
	got, err := m.Get("k")
	a.NoError(err)
	a.Equal("w", got)
	a.Positive(m.TTL("k"))

	a.NoError(v.EditTTL(-1))
	a.NoError(v.Save(ctx))
	a.Zero(m.TTL("k"))
	a.Equal(NoExpiry, v.Entry().TTL)
}

func TestKeyViewSaveNearlyExpired(t *testing.T) {
	a := require.New(t)
	ctx := context.Background()
	s, m := newTestSession(t)
	a.NoError(m.Set("k", "v"))
	m.SetTTL("k", 500*time.Millisecond)

	v := NewKeyView(s)
	a.NoError(v.Open(ctx, "k"))
	a.NoError(v.Edit("w"))
	a.NoError(v.Save(ctx))
	got, err := m.Get("k")
	a.NoError(err)
	a.Equal("w", got)
	a.Positive(m.TTL("k"))
}

func TestKeyViewFailuresKeepState(t *testing.T) {
	a := require.New(t)
	ctx := context.Background()
	s, m := newTestSession(t)
	a.NoError(m.Set("k", "v"))

	v := NewKeyView(s)
	a.NoError(v.Open(ctx, "k"))

	a.ErrorIs(v.Open(ctx, "missing"), ErrNotFound)
	a.Equal("k", v.Key())
	a.Equal(ViewValueLoaded, v.State())
	a.Equal(StringValue("v"), v.Entry().Value)

	a.ErrorIs(v.EditDraft(Draft{Kind: KindList, Text: "[]"}), ErrValidation)
	a.Equal(ViewValueLoaded, v.State())

	a.ErrorIs(NewKeyView(s).Edit("x"), ErrValidation)
	a.ErrorIs(NewKeyView(s).Load(ctx), ErrValidation)
}

func TestKeyViewSaveConflicts(t *testing.T) {
	a := require.New(t)
	ctx := context.Background()
	s, m := newTestSession(t)
	a.NoError(m.Set("k", "v"))

	v := NewKeyView(s)
	a.NoError(v.Open(ctx, "k"))
	a.NoError(v.Edit("edited"))

	// Retyped behind the view's back.
	m.Del("k")
	_, err := m.Lpush("k", "x")
	a.NoError(err)
	a.ErrorIs(v.Save(ctx), ErrTypeMismatch)
	a.Equal(ViewEdited, v.State())

	// Removed behind the view's back: saving recreates it.
	m.Del("k")
	a.NoError(v.Save(ctx))
	got, err := m.Get("k")
	a.NoError(err)
	a.Equal("edited", got)
}
