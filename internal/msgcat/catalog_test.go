package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRenderEmbedded(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("session.game_over", map[string]string{"Status": "finished", "EndReason": "checkmate"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Game already over: finished (checkmate)." {
		t.Fatalf("got %q", got)
	}
	if _, err := c.Render("rejection.illegal_move", map[string]string{}); err == nil {
		t.Fatalf("missing field should fail")
	}
	if got := c.Text("nope", nil, "fallback"); got != "fallback" {
		t.Fatalf("Text fallback = %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("rejection:\n  not_your_turn: \"Wait.\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("rejection.not_your_turn", nil, ""); got != "Wait." {
		t.Fatalf("override not applied: %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte("rejection:\n  not_your_turn: \"Again.\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("duplicate override keys should fail")
	}
}
