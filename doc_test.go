package splists

import (
	"strings"
	"testing"
)

func TestVersionStrings(t *testing.T) {
	if !strings.HasPrefix(UserAgent(), "splists/") {
		t.Errorf("Unexpected user agent %q", UserAgent())
	}
	if !strings.Contains(GetVersion(), Version) {
		t.Errorf("Expected GetVersion to include %s, got %q", Version, GetVersion())
	}
	info := GetVersionInfo()
	for _, key := range []string{"version", "commit", "build_date", "go_version"} {
		if _, ok := info[key]; !ok {
			t.Errorf("Expected version info key %q", key)
		}
	}
}
