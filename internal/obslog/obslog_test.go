package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pvp.log")
	l, err := New(Options{Level: "debug", Format: "json", ToFile: true, File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("session_move", zap.String("session_id", "s1"))
	_ = l.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"session_move"`) || !strings.Contains(string(raw), `"session_id":"s1"`) {
		t.Fatalf("unexpected log line: %s", raw)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{"debug": zapcore.DebugLevel, "WARN": zapcore.WarnLevel, "bogus": zapcore.InfoLevel}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetAndOr(t *testing.T) {
	defer Set(nil)
	l := zap.NewExample()
	Set(l)
	if L() != l || Or(nil) != l {
		t.Fatalf("global logger not replaced")
	}
	other := zap.NewNop()
	if Or(other) != other {
		t.Fatalf("Or should prefer the explicit logger")
	}
}
