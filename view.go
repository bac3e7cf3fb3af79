package keyscope

import (
	"context"
	"errors"
	"fmt"
)

// ViewState is the stage a KeyView is in.
type ViewState int

const (
	ViewIdle ViewState = iota
	ViewTypeResolved
	ViewValueLoaded
	ViewEdited
	ViewSaved
)

func (s ViewState) String() string {
	switch s {
	case ViewIdle:
		return "idle"
	case ViewTypeResolved:
		return "type_resolved"
	case ViewValueLoaded:
		return "value_loaded"
	case ViewEdited:
		return "edited"
	case ViewSaved:
		return "saved"
	default:
		return "unknown"
	}
}

// KeyView holds one key open for inspection and editing. Edits stay local
// until Save.
type KeyView struct {
	session *Session
	state   ViewState
	key     string
	kind    Kind
	entry   *Entry

	value Value
	ttl   *int64
}

func NewKeyView(s *Session) *KeyView {
	return &KeyView{session: s}
}

func (v *KeyView) State() ViewState { return v.state }
func (v *KeyView) Key() string      { return v.key }
func (v *KeyView) Kind() Kind       { return v.kind }

// Entry returns the value as last loaded or saved, or nil.
func (v *KeyView) Entry() *Entry { return v.entry }

// Resolve looks up the shape of key and makes it the current key. Nothing
// changes when the lookup fails.
func (v *KeyView) Resolve(ctx context.Context, key string) (Kind, error) {
	kind, err := v.session.ResolveType(ctx, key)
	if err != nil {
		return KindInvalid, err
	}
	v.Reset()
	v.key, v.kind = key, kind
	v.state = ViewTypeResolved
	return kind, nil
}

// Load reads the current key. A failed load keeps what was shown before.
func (v *KeyView) Load(ctx context.Context) error {
	if v.state == ViewIdle {
		return fmt.Errorf("%w: no key open", ErrValidation)
	}
	entry, err := v.session.LoadAs(ctx, v.key, v.kind)
	if err != nil {
		return err
	}
	v.entry = entry
	v.value, v.ttl = nil, nil
	v.state = ViewValueLoaded
	return nil
}

// Open resolves and loads key. The view only moves to key when both succeed.
func (v *KeyView) Open(ctx context.Context, key string) error {
	kind, err := v.session.ResolveType(ctx, key)
	if err != nil {
		return err
	}
	entry, err := v.session.LoadAs(ctx, key, kind)
	if err != nil {
		return err
	}
	v.Reset()
	v.key, v.kind, v.entry = key, kind, entry
	v.state = ViewValueLoaded
	return nil
}

// Draft returns the editable form of the pending value, or of the loaded one
// when nothing was edited.
func (v *KeyView) Draft() (Draft, error) {
	value := v.current()
	if value == nil {
		return Draft{}, fmt.Errorf("%w: no value loaded", ErrValidation)
	}
	return Format(value)
}

// Edit replaces the pending value with text, read in the view's shape. Plain
// text is taken as is for strings.
func (v *KeyView) Edit(text string) error {
	return v.EditDraft(Draft{Kind: v.kind, Text: text})
}

// EditDraft replaces the pending value with d.
func (v *KeyView) EditDraft(d Draft) error {
	if err := v.editable(); err != nil {
		return err
	}
	if d.Kind != v.kind {
		return fmt.Errorf("%w: draft is %s, key is %s", ErrValidation, d.Kind, v.kind)
	}
	value, err := Parse(d)
	if err != nil {
		return err
	}
	v.value = value
	v.state = ViewEdited
	return nil
}

// EditTTL sets the pending expiry. A negative value removes it.
func (v *KeyView) EditTTL(seconds int64) error {
	if err := v.editable(); err != nil {
		return err
	}
	v.ttl = &seconds
	v.state = ViewEdited
	return nil
}

// Save writes the pending edits. It fails with ErrTypeMismatch when the key
// now holds another shape, and recreates the key when it was removed.
func (v *KeyView) Save(ctx context.Context) error {
	if v.state != ViewEdited {
		return fmt.Errorf("%w: nothing to save", ErrValidation)
	}

	stored, err := v.session.ResolveType(ctx, v.key)
	missing := errors.Is(err, ErrNotFound)
	switch {
	case missing:
	case err != nil:
		return err
	case stored != v.kind:
		return fmt.Errorf(
			"save %q: %w: stored %s, edited %s", v.key, ErrTypeMismatch, stored, v.kind,
		)
	}

	ttl, keep := v.entry.TTL, KeepTTL()
	if v.ttl != nil {
		ttl, keep = ttlOf(*v.ttl), WithTTL(*v.ttl)
	} else if missing {
		ttl = NoExpiry
	}
	value := v.current()
	if v.value == nil && !missing {
		err = v.session.SetTTL(ctx, v.key, int64(ttl))
	} else {
		err = v.session.Write(ctx, v.key, value, keep)
	}
	if err != nil {
		return err
	}

	v.entry = &Entry{Key: v.key, Value: value, TTL: ttl}
	v.value, v.ttl = nil, nil
	v.state = ViewSaved
	return nil
}

// Reset drops the key and any pending edits.
func (v *KeyView) Reset() {
	*v = KeyView{session: v.session}
}

func (v *KeyView) editable() error {
	switch v.state {
	case ViewValueLoaded, ViewEdited, ViewSaved:
		return nil
	default:
		return fmt.Errorf("%w: no value loaded", ErrValidation)
	}
}

func (v *KeyView) current() Value {
	if v.value != nil {
		return v.value
	}
	if v.entry != nil {
		return v.entry.Value
	}
	return nil
}
