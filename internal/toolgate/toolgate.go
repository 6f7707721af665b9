// Package toolgate implements component §4.7, the Tool Gate: allow-list
// enforcement plus family-specific argument fixups, sitting in front of the
// teacher's internal/tools.Registry dispatch contract. Discovery itself
// (nearest-neighbor over a tool description index) lives in ContextFetcher
// (internal/brains), which calls SimilaritySearch against the same
// vectorindex.Index the Brain Registry uses for specialist selection.
package toolgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"cogrouter/internal/llm"
	"cogrouter/internal/tools"
)

// ErrInvalidToolArguments is returned when a required argument remains
// missing after fixups and no family default applies.
var ErrInvalidToolArguments = errors.New("toolgate: invalid tool arguments")

// Invocation is one tool call the Conductor approved for execution.
type Invocation struct {
	Name string
	Args map[string]string
}

// Approve enforces approvedTools ⊆ suggestedTools (spec.md §4.7.1): an
// invocation whose Name isn't in approved is rejected outright.
func Approve(suggested, approved []string) map[string]struct{} {
	suggestedSet := toSet(suggested)
	out := make(map[string]struct{})
	for _, a := range approved {
		if _, ok := suggestedSet[a]; ok {
			out[a] = struct{}{}
		}
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, i := range items {
		set[i] = struct{}{}
	}
	return set
}

// family classifies a tool name into one of the known fixup families, or
// "" if none apply.
func family(toolName string) string {
	lower := strings.ToLower(toolName)
	switch {
	case strings.Contains(lower, "weather"):
		return "weather"
	case strings.Contains(lower, "datetime") || strings.Contains(lower, "date") || strings.Contains(lower, "time"):
		return "datetime"
	case strings.Contains(lower, "calendar") || strings.Contains(lower, "event"):
		return "calendar"
	default:
		return ""
	}
}

var (
	cityRe      = regexp.MustCompile(`(?i)\bin\s+([A-Z][A-Za-z\s]{1,40}?)(?:[.,!?]|\s+(?:today|tomorrow|this|next)|$)`)
	relDateRe   = regexp.MustCompile(`(?i)\b(today|tomorrow|tonight|this week|next week)\b`)
	eventWordRe = regexp.MustCompile(`(?i)\b(meeting|call|appointment|event|reminder)\b[^.!?]*`)
)

var requiredFields = map[string][]string{
	"weather":  {"city"},
	"datetime": {"date"},
	"calendar": {"title"},
}

var familyDefaults = map[string]map[string]string{
	"weather":  {"city": "San Francisco"},
	"datetime": {"date": "today"},
	"calendar": {"title": "Untitled event"},
}

// Validate implements spec.md §4.7.2: drop unset-or-empty arguments, apply
// family-specific fixups by extracting missing fields from rawQuery, then
// substitute a family default or fail with ErrInvalidToolArguments if a
// required field is still missing.
func Validate(inv Invocation, rawQuery string) (Invocation, error) {
	cleaned := make(map[string]string, len(inv.Args))
	for k, v := range inv.Args {
		if strings.TrimSpace(v) != "" {
			cleaned[k] = v
		}
	}

	fam := family(inv.Name)
	if fam != "" {
		applyFixups(fam, cleaned, rawQuery)
	}

	for _, field := range requiredFields[fam] {
		if _, ok := cleaned[field]; ok {
			continue
		}
		if def, ok := familyDefaults[fam][field]; ok {
			cleaned[field] = def
			continue
		}
		return Invocation{}, ErrInvalidToolArguments
	}

	return Invocation{Name: inv.Name, Args: cleaned}, nil
}

func applyFixups(fam string, args map[string]string, rawQuery string) {
	switch fam {
	case "weather":
		if _, ok := args["city"]; !ok {
			if m := cityRe.FindStringSubmatch(rawQuery); len(m) > 1 {
				args["city"] = strings.TrimSpace(m[1])
			}
		}
	case "datetime":
		if _, ok := args["date"]; !ok {
			if m := relDateRe.FindString(rawQuery); m != "" {
				args["date"] = strings.ToLower(m)
			}
		}
	case "calendar":
		if _, ok := args["title"]; !ok {
			if m := eventWordRe.FindString(rawQuery); m != "" {
				args["title"] = strings.TrimSpace(m)
			}
		}
	}
}

// GatedRegistry wraps a tools.Registry, enforcing spec.md §4.7's full
// contract in front of it: Schemas() only exposes the approvedTools ⊆
// suggestedTools set, and Dispatch validates/fixes up arguments against
// rawQuery before delegating execution to base.
type GatedRegistry struct {
	base     tools.Registry
	allowed  map[string]struct{}
	rawQuery string
}

// NewGatedRegistry computes approvedTools ⊆ suggestedTools (via Approve)
// and returns a Registry scoped to it, validating every dispatched call's
// arguments against rawQuery (the original user message family fixups read
// from).
func NewGatedRegistry(base tools.Registry, suggested, approved []string, rawQuery string) *GatedRegistry {
	return &GatedRegistry{base: base, allowed: Approve(suggested, approved), rawQuery: rawQuery}
}

func (g *GatedRegistry) Register(t tools.Tool) { g.base.Register(t) }

func (g *GatedRegistry) Schemas() []llm.ToolSchema {
	all := g.base.Schemas()
	out := make([]llm.ToolSchema, 0, len(all))
	for _, s := range all {
		if _, ok := g.allowed[s.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (g *GatedRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	if _, ok := g.allowed[name]; !ok {
		return nil, fmt.Errorf("toolgate: %q not in approvedTools", name)
	}
	var rawArgs map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rawArgs); err != nil {
			return nil, fmt.Errorf("toolgate: invalid arguments: %w", err)
		}
	}
	strArgs := make(map[string]string, len(rawArgs))
	for k, v := range rawArgs {
		strArgs[k] = fmt.Sprint(v)
	}
	validated, err := Validate(Invocation{Name: name, Args: strArgs}, g.rawQuery)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(rawArgs))
	for k, v := range rawArgs {
		merged[k] = v
	}
	for k, v := range validated.Args {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("toolgate: re-marshal arguments: %w", err)
	}
	return g.base.Dispatch(ctx, name, out)
}
