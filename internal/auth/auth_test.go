package auth

import (
	"context"
	"strings"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator(" k1:analyst:query_reader|dataset_writer|query_reader, ,k2:viewer:query_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected k1 to be valid")
	}
	if identity.Name != "analyst" {
		t.Fatalf("Name = %q", identity.Name)
	}
	if got := strings.Join(identity.Roles, ","); got != "dataset_writer,query_reader" {
		t.Fatalf("Roles = %s", got)
	}
	viewer, ok := validator.Validate(context.Background(), "k2")
	if !ok || viewer.HasRole(RoleDatasetWriter) {
		t.Fatalf("viewer = %#v, ok = %v", viewer, ok)
	}
	if _, ok := validator.Validate(context.Background(), "k3"); ok {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestStaticAPIKeyValidatorEmptySpec(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("   ")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	if _, ok := validator.Validate(context.Background(), ""); ok {
		t.Fatal("expected empty key to be rejected")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	cases := map[string]string{
		"invalid":                             "expected key:name",
		"k1::query_reader":                    "must not be empty",
		"k1:a:":                               "at least one role",
		"k1:a:ops_admin":                      "unknown role",
		"k1:a:query_reader,k1:b:query_reader": "duplicate key",
	}
	for spec, want := range cases {
		_, err := NewStaticAPIKeyValidator(spec)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("NewStaticAPIKeyValidator(%q) error = %v, want %q", spec, err, want)
		}
	}
}

func TestFingerprintDoesNotLeakKey(t *testing.T) {
	fingerprint := Fingerprint("super-secret-key")
	if len(fingerprint) != 8 || strings.Contains("super-secret-key", fingerprint) {
		t.Fatalf("Fingerprint() = %q", fingerprint)
	}
	if Fingerprint("super-secret-key") != fingerprint {
		t.Fatal("expected stable fingerprint")
	}
}
