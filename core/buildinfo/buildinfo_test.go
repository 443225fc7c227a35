package buildinfo

import "testing"

func TestString(t *testing.T) {
	v, c, d := Version, Commit, Date
	defer func() { Version, Commit, Date = v, c, d }()

	Version, Commit, Date = "v1.0.0", "abc1234", ""
	if got := String(); got != "v1.0.0 (commit: abc1234)" {
		t.Fatalf("String() = %q", got)
	}
	Date = "2026-01-02T03:04:05Z"
	if got := String(); got != "v1.0.0 (commit: abc1234, built: 2026-01-02T03:04:05Z)" {
		t.Fatalf("String() = %q", got)
	}
}
