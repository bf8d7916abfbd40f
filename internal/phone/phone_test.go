package phone

import (
	"errors"
	"testing"

	"github.com/BTreeMap/FlowRouter/internal/models"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"+5213312345678", "5213312345678"},
		{"whatsapp:+52 1 33 1234 5678", "5213312345678"},
		{"52-1-33-1234-5678", "5213312345678"},
		{"123456", "123456"},
	}
	for _, c := range cases {
		got, err := Canonicalize(c.raw)
		if err != nil {
			t.Fatalf("Canonicalize(%q) unexpected error: %v", c.raw, err)
		}
		if got != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestCanonicalizeSameState(t *testing.T) {
	a, err := Canonicalize("+52 1 33 1234 5678")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Canonicalize("5213312345678")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Errorf("distinct raw strings produced distinct canonical phones: %q vs %q", a, b)
	}
}

func TestCanonicalizeInvalid(t *testing.T) {
	if _, err := Canonicalize(""); !errors.Is(err, models.ErrEmptyRecipient) {
		t.Errorf("empty input: got %v, want ErrEmptyRecipient", err)
	}
	if _, err := Canonicalize("hola"); !errors.Is(err, models.ErrInvalidPhone) {
		t.Errorf("no digits: got %v, want ErrInvalidPhone", err)
	}
	if _, err := Canonicalize("12345"); !errors.Is(err, models.ErrInvalidPhone) {
		t.Errorf("too short: got %v, want ErrInvalidPhone", err)
	}
}
