package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedKeysRender(t *testing.T) {
	c := MustNew()
	out, err := c.Render("notify.queued", map[string]any{"Place": 2, "Ahead": 1, "Running": 1, "Workers": 2})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, "2번째") {
		t.Fatalf("unexpected render: %q", out)
	}
	for _, k := range []string{"help.text", "submit.busy", "notify.failed", "notify.vanished", "notify.batch_line", "status.idle"} {
		if !c.Has(k) {
			t.Fatalf("missing key %s", k)
		}
	}
}

func TestMissingDataIsAnError(t *testing.T) {
	c := MustNew()
	if _, err := c.Render("notify.failed", map[string]any{"JobID": "x"}); err == nil {
		t.Fatalf("expected missingkey error")
	}
	if got := c.Text("notify.failed", map[string]any{}, "fallback"); got != "fallback" {
		t.Fatalf("Text should fall back, got %q", got)
	}
	if got := c.Text("no.such.key", nil, "fb"); got != "fb" {
		t.Fatalf("unknown key should fall back, got %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("submit:\n  busy: \"custom busy\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, _ := c.Render("submit.busy", nil); got != "custom busy" {
		t.Fatalf("override not applied: %q", got)
	}
	// untouched keys keep the embedded text
	if !c.Has("notify.queued") {
		t.Fatalf("embedded keys lost")
	}
}

func TestDuplicateOverrideRejected(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("status:\n  idle: \"x\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
