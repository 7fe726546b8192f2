package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultSystem = `You are Furrow, an assistant for working farms. You help growers keep
accurate field records (spray, fertilizer, irrigation, harvest, labor) and
answer practical agronomy and compliance questions.

Be concise and specific. Prefer numbers with units. When a record would be
incomplete for compliance, say which details are missing.`

const defaultDeveloper = `Answer from the retrieved context and tool results when they are relevant.
Do not invent EPA registration numbers, label rates, restricted-use status,
or weather observations. If you do not know, say so and suggest where to
look. Keep answers under 200 words unless the user asks for detail.`

const defaultToolUse = `Tool use policy:
- Use get_weather for conditions at a location and time (spray drift, REI
  planning). Pass decimal lat and lon; pass an ISO 8601 timestamp when the
  user names a time.
- Use web_search for label details, regulations, or current information not
  present in the retrieved context. Keep queries short.
- Call each tool at most once per question unless a result was an error.
- If a tool returns an error, correct the arguments or answer without it.`

const defaultRefusalStyle = `If a request is unsafe or outside what you can verify (for example mixing
pesticides off-label, or applying above the label rate), decline briefly in
one sentence, state the safe alternative, and point to the product label as
the legal authority.`

// Policy holds the four fixed policy texts placed at the head of every
// chat request. A Policy is loaded once at startup and never mutated.
type Policy struct {
	System       string
	Developer    string
	ToolUse      string
	RefusalStyle string
}

// DefaultPolicy returns the built-in policy texts.
func DefaultPolicy() Policy {
	return Policy{
		System:       defaultSystem,
		Developer:    defaultDeveloper,
		ToolUse:      defaultToolUse,
		RefusalStyle: defaultRefusalStyle,
	}
}

// policyFiles maps override filenames to the Policy field they replace.
var policyFiles = []struct {
	name string
	get  func(Policy) string
	set  func(*Policy, string)
}{
	{"system.md", func(p Policy) string { return p.System }, func(p *Policy, s string) { p.System = s }},
	{"developer.md", func(p Policy) string { return p.Developer }, func(p *Policy, s string) { p.Developer = s }},
	{"tool_policy.md", func(p Policy) string { return p.ToolUse }, func(p *Policy, s string) { p.ToolUse = s }},
	{"refusal_style.md", func(p Policy) string { return p.RefusalStyle }, func(p *Policy, s string) { p.RefusalStyle = s }},
}

// Files returns the policy as the override files LoadPolicy reads,
// keyed by filename.
func (p Policy) Files() map[string]string {
	out := make(map[string]string, len(policyFiles))
	for _, f := range policyFiles {
		out[f.name] = f.get(p) + "\n"
	}
	return out
}

// LoadPolicy returns the default policy with any texts found in dir
// overriding the built-ins. A missing directory or file keeps the
// default; an empty file is an error since it would silently drop a
// policy.
func LoadPolicy(dir string) (Policy, error) {
	p := DefaultPolicy()
	if dir == "" {
		return p, nil
	}

	for _, f := range policyFiles {
		data, err := os.ReadFile(filepath.Join(dir, f.name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Policy{}, fmt.Errorf("read %s: %w", f.name, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return Policy{}, fmt.Errorf("policy file %s is empty", f.name)
		}
		f.set(&p, text)
	}
	return p, nil
}
