package obslog

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetAndRestore(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))
	defer Set(nil)

	L().Info("session_created", zap.String("session_id", "abc"))
	if logs.Len() != 1 {
		t.Fatalf("expected one entry, got %d", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["session_id"]; got != "abc" {
		t.Fatalf("unexpected field %v", got)
	}

	Set(nil)
	L().Info("dropped")
	if logs.Len() != 1 {
		t.Fatalf("nop logger must not write to the old core")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestInitFromEnvWritesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("LOG_FILE", dir+"/logs/server.log")
	t.Setenv("LOG_FORMAT", "json")
	defer Set(nil)

	if err := InitFromEnv(); err != nil {
		t.Fatalf("init: %v", err)
	}
	L().Info("hello")
	Sync()
}
