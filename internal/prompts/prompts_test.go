package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestContextBlock(t *testing.T) {
	if got := ContextBlock(""); got != "Retrieved context: (none)" {
		t.Errorf("ContextBlock(\"\") = %q", got)
	}
	got := ContextBlock("User memory:\n- (fact) grows soybeans")
	if !strings.HasPrefix(got, "Retrieved context:\n") || !strings.HasSuffix(got, "grows soybeans") {
		t.Errorf("ContextBlock = %q", got)
	}
}

func TestLoadPolicy_Defaults(t *testing.T) {
	p, err := LoadPolicy("")
	if err != nil {
		t.Fatal(err)
	}
	if p != DefaultPolicy() {
		t.Error("empty dir should yield the default policy")
	}

	p, err = LoadPolicy(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if p.System == "" || p.Developer == "" || p.ToolUse == "" || p.RefusalStyle == "" {
		t.Errorf("default policy has empty text: %+v", p)
	}
}

func TestLoadPolicy_Overrides(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "system.md"), []byte("  Custom system.\n"), 0600)
	os.WriteFile(filepath.Join(dir, "tool_policy.md"), []byte("Custom tools."), 0600)

	p, err := LoadPolicy(dir)
	if err != nil {
		t.Fatal(err)
	}
	if p.System != "Custom system." {
		t.Errorf("System = %q", p.System)
	}
	if p.ToolUse != "Custom tools." {
		t.Errorf("ToolUse = %q", p.ToolUse)
	}
	if p.Developer != DefaultPolicy().Developer {
		t.Error("Developer should keep the default")
	}
}

func TestLoadPolicy_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "developer.md"), []byte("   \n"), 0600)

	if _, err := LoadPolicy(dir); err == nil {
		t.Fatal("empty policy file should error")
	}
}

func TestParseActivityUser(t *testing.T) {
	got := ParseActivityUser("sprayed the north field", `{"known_fields": []}`)
	if !strings.HasPrefix(got, "Transcript:\nsprayed the north field\n\nContext:\n") {
		t.Errorf("ParseActivityUser = %q", got)
	}
}
