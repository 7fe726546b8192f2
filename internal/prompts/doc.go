// Package prompts contains the LLM prompt texts used by Furrow.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation and can be validated by
// tests. The four conversation policy texts are the exception; they may
// be overridden per deployment from a prompts directory (see LoadPolicy).
//
// Convention: each prompt category gets its own file (policy.go,
// activity.go, memory.go) with exported functions that accept the
// dynamic parts and return the fully interpolated prompt string.
package prompts
