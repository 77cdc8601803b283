package version

import "testing"

func TestString(t *testing.T) {
	old := [3]string{Version, GitSHA, BuildTime}
	t.Cleanup(func() { Version, GitSHA, BuildTime = old[0], old[1], old[2] })

	Version, GitSHA, BuildTime = "v1.2.3", "abc123", "2026-10-17T09:00:00Z"
	if got, want := String(), "v1.2.3 (abc123, built 2026-10-17T09:00:00Z)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
