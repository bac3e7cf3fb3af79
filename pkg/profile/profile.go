package profile

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/kamune-org/keyscope"
)

const maxNameLen = 128

// Profile is a named set of connection parameters.
type Profile struct {
	Name     string
	Host     string
	Port     int
	Secret   string
	Database int
	LastUsed time.Time
}

// Endpoint returns the connection parameters of p.
func (p Profile) Endpoint() keyscope.Endpoint {
	return keyscope.Endpoint{
		Host:     p.Host,
		Port:     p.Port,
		Secret:   p.Secret,
		Database: p.Database,
	}
}

func validateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, maxNameLen)
	case strings.ContainsFunc(name, unicode.IsControl):
		return fmt.Errorf("%w: contains control characters", ErrInvalidName)
	}
	return nil
}

func (p Profile) validate() error {
	if err := validateName(p.Name); err != nil {
		return err
	}
	switch {
	case p.Host == "":
		return fmt.Errorf("%w: empty host", ErrInvalidProfile)
	case p.Port < 1 || p.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidProfile, p.Port)
	case p.Database < 0:
		return fmt.Errorf("%w: negative database index", ErrInvalidProfile)
	}
	return nil
}

// Records are structpb.Struct messages. The secret field holds the
// encrypted secret in base64, and last_used an RFC 3339 timestamp with
// nanoseconds.
func (s *Store) marshal(p Profile) ([]byte, error) {
	fields := map[string]any{
		"host":     p.Host,
		"port":     p.Port,
		"database": p.Database,
	}
	if p.Secret != "" {
		fields["secret"] = base64.StdEncoding.EncodeToString(s.cipher.Encrypt([]byte(p.Secret)))
	}
	if !p.LastUsed.IsZero() {
		ts := timestamppb.New(p.LastUsed)
		if err := ts.CheckValid(); err != nil {
			return nil, fmt.Errorf("%w: last used: %v", ErrInvalidProfile, err)
		}
		fields["last_used"] = ts.AsTime().Format(time.RFC3339Nano)
	}
	record, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build record: %w", err)
	}
	data, err := proto.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

func (s *Store) unmarshal(name string, data []byte) (Profile, error) {
	var record structpb.Struct
	if err := proto.Unmarshal(data, &record); err != nil {
		return Profile{}, fmt.Errorf("unmarshal record: %w", err)
	}
	fields := record.GetFields()
	p := Profile{
		Name:     name,
		Host:     fields["host"].GetStringValue(),
		Port:     int(fields["port"].GetNumberValue()),
		Database: int(fields["database"].GetNumberValue()),
	}

	if enc := fields["secret"].GetStringValue(); enc != "" {
		sealed, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return Profile{}, fmt.Errorf("%w: secret encoding: %v", ErrFailedDecryption, err)
		}
		secret, err := s.cipher.Decrypt(sealed)
		if err != nil {
			return Profile{}, ErrFailedDecryption
		}
		p.Secret = string(secret)
	}

	if lu := fields["last_used"].GetStringValue(); lu != "" {
		t, err := time.Parse(time.RFC3339Nano, lu)
		if err != nil {
			return Profile{}, fmt.Errorf("last used %q: %w", lu, err)
		}
		p.LastUsed = timestamppb.New(t).AsTime()
	}
	return p, nil
}
