package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestGrepLogsTool_Call_FindsMatches(t *testing.T) {
	td := t.TempDir()
	logPath := filepath.Join(td, "app.log")
	content := "INFO starting up\nERROR disk full\nINFO all good\nERROR disk full again\n"
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	g := NewGrepLogsTool(td)
	args := map[string]any{"pattern": "ERROR.*"}
	raw, _ := json.Marshal(args)
	res, err := g.Call(context.Background(), raw)
	if err != nil {
		t.Fatalf("Call returned err: %v", err)
	}
	m, ok := res.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T", res)
	}
	if okv, _ := m["ok"].(bool); !okv {
		t.Fatalf("expected ok true, got %v", m)
	}
	hits, ok := m["hits"].([]logHit)
	if !ok {
		t.Fatalf("expected []logHit, got %T", m["hits"])
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Line != 2 || hits[1].Line != 4 {
		t.Fatalf("unexpected line numbers: %+v", hits)
	}
}

func TestGrepLogsTool_Call_InvalidPattern(t *testing.T) {
	td := t.TempDir()
	g := NewGrepLogsTool(td)
	args := map[string]any{"pattern": "("}
	raw, _ := json.Marshal(args)
	res, err := g.Call(context.Background(), raw)
	if err != nil {
		t.Fatalf("Call returned err: %v", err)
	}
	m, _ := res.(map[string]any)
	if okv, _ := m["ok"].(bool); okv {
		t.Fatalf("expected ok false for invalid pattern, got true")
	}
}

func TestGrepLogsTool_Call_MaxHitsCaps(t *testing.T) {
	td := t.TempDir()
	var content string
	for i := 0; i < 10; i++ {
		content += "ERROR line\n"
	}
	if err := os.WriteFile(filepath.Join(td, "app.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	g := NewGrepLogsTool(td)
	args := map[string]any{"pattern": "ERROR", "max_hits": 3}
	raw, _ := json.Marshal(args)
	res, err := g.Call(context.Background(), raw)
	if err != nil {
		t.Fatalf("Call returned err: %v", err)
	}
	m := res.(map[string]any)
	hits := m["hits"].([]logHit)
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits (max_hits cap), got %d", len(hits))
	}
}
