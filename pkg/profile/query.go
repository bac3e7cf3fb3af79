package profile

import (
	"cmp"
	"log/slog"
	"slices"

	bolt "go.etcd.io/bbolt"
)

type Query struct {
	store *Store
	tx    *bolt.Tx
}

func (q *Query) bucket() *bolt.Bucket {
	return q.tx.Bucket([]byte(profilesBucket))
}

// Get returns the profile stored under name.
func (q *Query) Get(name string) (Profile, error) {
	if err := validateName(name); err != nil {
		return Profile{}, err
	}
	data := q.bucket().Get([]byte(name))
	if data == nil {
		return Profile{}, ErrNotFound
	}
	return q.store.unmarshal(name, data)
}

// List returns every profile, most recently used first. Records that fail to
// decode are skipped.
func (q *Query) List() []Profile {
	var out []Profile
	c := q.bucket().Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		p, err := q.store.unmarshal(string(k), v)
		if err != nil {
			slog.Warn(
				"decoding profile",
				slog.String("name", string(k)),
				slog.Any("error", err),
			)
			continue
		}
		out = append(out, p)
	}
	slices.SortStableFunc(out, func(a, b Profile) int {
		if c := b.LastUsed.Compare(a.LastUsed); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}
