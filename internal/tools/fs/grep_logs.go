package fs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// GrepLogsTool scans every *.log file under the locked WORKDIR for a
// pattern, returning matching lines with their file and line number. It
// backs the error_trace Query Planner strategy's declared required tool
// (spec.md §4.3).
type GrepLogsTool struct{ workdir string }

func NewGrepLogsTool(workdir string) *GrepLogsTool { return &GrepLogsTool{workdir: workdir} }

func (t *GrepLogsTool) Name() string { return "grep_logs" }

func (t *GrepLogsTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Search *.log files under the working directory for a regular expression, returning matching lines.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern":  map[string]any{"type": "string", "description": "Regular expression to search for"},
				"max_hits": map[string]any{"type": "integer", "description": "Maximum number of matching lines to return"},
			},
			"required": []string{"pattern"},
		},
	}
}

type logHit struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *GrepLogsTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Pattern string `json:"pattern"`
		MaxHits int    `json:"max_hits"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.MaxHits <= 0 {
		args.MaxHits = 20
	}
	re, err := regexp.Compile(args.Pattern)
	if err != nil {
		return map[string]any{"ok": false, "error": fmt.Sprintf("invalid pattern: %v", err)}, nil
	}

	var hits []logHit
	walkErr := filepath.Walk(t.workdir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".log" {
			return nil
		}
		if len(hits) >= args.MaxHits {
			return nil
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()
		rel, _ := filepath.Rel(t.workdir, path)
		scanner := bufio.NewScanner(f)
		lineNo := 0
		for scanner.Scan() && len(hits) < args.MaxHits {
			lineNo++
			if re.MatchString(scanner.Text()) {
				hits = append(hits, logHit{File: rel, Line: lineNo, Text: scanner.Text()})
			}
		}
		return nil
	})
	if walkErr != nil {
		return map[string]any{"ok": false, "error": walkErr.Error()}, nil
	}
	return map[string]any{"ok": true, "hits": hits}, nil
}
