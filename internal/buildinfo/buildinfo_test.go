package buildinfo

import (
	"strings"
	"testing"
)

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "Furrow/") {
		t.Errorf("UserAgent() = %q, want Furrow/ prefix", ua)
	}
	if !strings.Contains(ua, Version) {
		t.Errorf("UserAgent() = %q, missing version %q", ua, Version)
	}
}

func TestInfo_Keys(t *testing.T) {
	info := Info()
	for _, k := range []string{"version", "git_commit", "go_version", "uptime"} {
		if _, ok := info[k]; !ok {
			t.Errorf("Info() missing key %q", k)
		}
	}
}
