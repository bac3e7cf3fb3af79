package profile

import (
	"fmt"
	"time"
)

type Command struct {
	Query
}

// Put stores p, replacing any profile with the same name.
func (c *Command) Put(p Profile) error {
	if err := p.validate(); err != nil {
		return err
	}
	data, err := c.store.marshal(p)
	if err != nil {
		return err
	}
	if err := c.bucket().Put([]byte(p.Name), data); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	return nil
}

func (c *Command) Remove(name string) error {
	if _, err := c.Get(name); err != nil {
		return err
	}
	if err := c.bucket().Delete([]byte(name)); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Touch marks the profile as used at t.
func (c *Command) Touch(name string, t time.Time) error {
	p, err := c.Get(name)
	if err != nil {
		return err
	}
	p.LastUsed = t
	return c.Put(p)
}
