package vault

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestSealRevealRoundTrip(t *testing.T) {
	blob, err := Seal("api-key-123", "secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if parts := strings.Split(blob, ":"); len(parts) != 4 || parts[0] != Version1 {
		t.Fatalf("unexpected payload layout: %s", blob)
	}
	got, err := Reveal(blob, "secret")
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if got != "api-key-123" {
		t.Fatalf("got %q, want %q", got, "api-key-123")
	}
}

func TestRevealWrongSecret(t *testing.T) {
	blob, err := Seal("api-key-123", "secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	_, err = Reveal(blob, "other")
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestRevealTamperedTag(t *testing.T) {
	blob, err := Seal("api-key-123", "secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	parts := strings.Split(blob, ":")
	tag, _ := base64.StdEncoding.DecodeString(parts[3])
	tag[0] ^= 0xff
	parts[3] = base64.StdEncoding.EncodeToString(tag)

	_, err = Reveal(strings.Join(parts, ":"), "secret")
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *IntegrityError, got %v", err)
	}
	if ie.Reason != "tag mismatch" {
		t.Fatalf("reason = %q", ie.Reason)
	}
}

func TestRevealTooFewParts(t *testing.T) {
	for _, blob := range []string{"", "v1", "v1:aaaa:bbbb"} {
		if _, err := Reveal(blob, "secret"); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("blob %q: expected ErrIntegrity, got %v", blob, err)
		}
	}
}

func TestRevealUnknownVersion(t *testing.T) {
	blob, _ := Seal("x", "secret")
	blob = "v9" + strings.TrimPrefix(blob, Version1)
	if _, err := Reveal(blob, "secret"); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestVaultBindsSecret(t *testing.T) {
	v := New("s3")
	blob, err := v.Seal("token")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := v.Reveal(blob)
	if err != nil || got != "token" {
		t.Fatalf("reveal = %q, %v", got, err)
	}
}
