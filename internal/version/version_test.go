package version

import "testing"

func TestString(t *testing.T) {
	origV, origSHA, origT := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = origV, origSHA, origT })

	if got, want := String(), "sonar dev (unknown, built unknown)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	Version, GitSHA, BuildTime = "v0.3.0", "0123456789abcdef", "2026-03-01T12:00:00Z"
	if got, want := String(), "sonar v0.3.0 (0123456, built 2026-03-01T12:00:00Z)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
