// Package prompts builds the default system prompt shared by the Brain
// Registry's specialists: the provider-agnostic rules about workdir scope
// and working-memory usage that every specialist's own prompt is layered
// on top of (internal/specialists.Registry.ReplaceFromConfigs).
package prompts

import "strings"

const memoryInstructions = "Use the working memory and conversation history provided in context; do not ask the user to repeat information already supplied this session."

// DefaultSystemPrompt returns the base instructions every specialist
// receives before its own configured system prompt, scoping file access
// to workdir and appending extra verbatim if non-empty.
func DefaultSystemPrompt(workdir, extra string) string {
	var b strings.Builder
	b.WriteString("You are a specialist stage in a request-routing pipeline. Answer only the part of the request routed to you.")
	if strings.TrimSpace(workdir) != "" {
		b.WriteString(" Treat ")
		b.WriteString(workdir)
		b.WriteString(" as the root of any file paths you reference.")
	}
	if e := strings.TrimSpace(extra); e != "" {
		b.WriteString("\n\n")
		b.WriteString(e)
	}
	return b.String()
}

// EnsureMemoryInstructions appends the working-memory usage rule to
// system if it isn't already present.
func EnsureMemoryInstructions(system string) string {
	system = strings.TrimSpace(system)
	if strings.Contains(system, memoryInstructions) {
		return system
	}
	if system == "" {
		return memoryInstructions
	}
	return system + "\n\n" + memoryInstructions
}
