package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

const (
	RoleDatasetWriter = "dataset_writer"
	RoleQueryReader   = "query_reader"
)

var knownRoles = []string{RoleDatasetWriter, RoleQueryReader}

// Identity is the caller behind an API key. Name is only used in logs.
type Identity struct {
	Name  string
	Roles []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type keyEntry struct {
	digest   [sha256.Size]byte
	identity Identity
}

// StaticAPIKeyValidator checks keys from configuration. Only key digests are
// retained, and every entry is compared so lookup time does not depend on
// which key matched.
type StaticAPIKeyValidator struct {
	entries []keyEntry
}

// NewStaticAPIKeyValidator parses a comma separated list of key:name:roles
// entries where roles are joined with "|".
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{}
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		entry, err := parseKeyEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("static key entry %d: %w", len(validator.entries)+1, err)
		}
		for _, existing := range validator.entries {
			if existing.digest == entry.digest {
				return nil, fmt.Errorf("static key entry %d: duplicate key for %q", len(validator.entries)+1, entry.identity.Name)
			}
		}
		validator.entries = append(validator.entries, entry)
	}
	return validator, nil
}

func parseKeyEntry(raw string) (keyEntry, error) {
	key, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return keyEntry{}, fmt.Errorf("expected key:name:role|role")
	}
	name, roleList, ok := strings.Cut(rest, ":")
	if !ok {
		return keyEntry{}, fmt.Errorf("expected key:name:role|role")
	}
	key, name = strings.TrimSpace(key), strings.TrimSpace(name)
	if key == "" || name == "" {
		return keyEntry{}, fmt.Errorf("key and name must not be empty")
	}

	var roles []string
	for _, role := range strings.Split(roleList, "|") {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if !slices.Contains(knownRoles, role) {
			return keyEntry{}, fmt.Errorf("unknown role %q for %q", role, name)
		}
		if !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return keyEntry{}, fmt.Errorf("at least one role is required for %q", name)
	}
	slices.Sort(roles)
	return keyEntry{digest: sha256.Sum256([]byte(key)), identity: Identity{Name: name, Roles: roles}}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	digest := sha256.Sum256([]byte(apiKey))
	var (
		matched Identity
		found   bool
	)
	for _, entry := range v.entries {
		if subtle.ConstantTimeCompare(entry.digest[:], digest[:]) == 1 {
			matched, found = entry.identity, true
		}
	}
	return matched, found
}

// Fingerprint is a short, non-reversible label for an API key, safe for logs.
func Fingerprint(apiKey string) string {
	digest := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(digest[:4])
}
