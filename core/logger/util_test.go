package logger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStatus(t *testing.T) {
	cases := map[string]error{
		"ok":        nil,
		"cancelled": fmt.Errorf("send: %w", context.Canceled),
		"error":     errors.New("boom"),
	}
	for want, err := range cases {
		if got := Status(err); got != want {
			t.Fatalf("Status(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestRoundMS(t *testing.T) {
	if got := RoundMS(1499 * time.Microsecond); got != time.Millisecond {
		t.Fatalf("RoundMS = %v", got)
	}
	if got := RoundMS(-time.Second); got != 0 {
		t.Fatalf("negative RoundMS = %v", got)
	}
}

func TestSummarizeStrings(t *testing.T) {
	files := []string{"a", "b", "c"}
	if s, cut := SummarizeStrings(files, 2); s != "a, b" || !cut {
		t.Fatalf("got %q, %v", s, cut)
	}
	if s, cut := SummarizeStrings(files, 5); s != "a, b, c" || cut {
		t.Fatalf("got %q, %v", s, cut)
	}
	if s, cut := SummarizeStrings(nil, 0); s != "" || cut {
		t.Fatalf("empty input: %q, %v", s, cut)
	}
}
