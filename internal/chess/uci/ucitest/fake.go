// Package ucitest writes scripted UCI engines for tests.
package ucitest

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

type Mode int

const (
	// Answers every go with BestMove.
	Reply Mode = iota
	// Exits while searching.
	Crash
	// Never answers go.
	Hang
	// Answers go with "bestmove (none)".
	NoMove
)

type Engine struct {
	Mode     Mode
	BestMove string
	// NoStrengthLimit hides UCI_Elo and UCI_LimitStrength from the option list.
	NoStrengthLimit bool
}

// Fake is a scripted engine on disk.
type Fake struct {
	Path string
	Log  string
}

// Write creates an executable engine script under t.TempDir.
func Write(t *testing.T, e Engine) Fake {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("scripted engine needs /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("scripted engine needs /bin/sh")
	}

	dir := t.TempDir()
	f := Fake{
		Path: filepath.Join(dir, "fakefish"),
		Log:  filepath.Join(dir, "commands.log"),
	}
	if err := os.WriteFile(f.Path, []byte(script(e, f.Log)), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return f
}

// Commands returns every line the engine received, in order.
func (f Fake) Commands(t *testing.T) []string {
	t.Helper()
	raw, err := os.ReadFile(f.Log)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read fake engine log: %v", err)
	}
	var out []string
	for _, line := range strings.Split(string(raw), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func script(e Engine, logPath string) string {
	move := e.BestMove
	if move == "" {
		move = "e2e4"
	}

	var opts strings.Builder
	opts.WriteString("      echo \"option name Threads type spin default 1 min 1 max 512\"\n")
	opts.WriteString("      echo \"option name Hash type spin default 16 min 1 max 1024\"\n")
	opts.WriteString("      echo \"option name Skill Level type spin default 20 min 0 max 20\"\n")
	if !e.NoStrengthLimit {
		opts.WriteString("      echo \"option name UCI_LimitStrength type check default false\"\n")
		opts.WriteString("      echo \"option name UCI_Elo type spin default 1320 min 1320 max 3190\"\n")
	}

	var search string
	switch e.Mode {
	case Crash:
		search = "exit 3"
	case Hang:
		search = "exec sleep 30"
	case NoMove:
		search = "echo \"bestmove (none)\""
	default:
		search = fmt.Sprintf("echo \"info depth 1 score cp 13 pv %s\"; echo \"bestmove %s\"", move, move)
	}

	return fmt.Sprintf(`#!/bin/sh
log=%q
while IFS= read -r line; do
  printf '%%s\n' "$line" >> "$log"
  case "$line" in
    uci)
      echo "id name fakefish"
%s      echo "uciok"
      ;;
    isready)
      echo "readyok"
      ;;
    go*)
      %s
      ;;
    quit)
      exit 0
      ;;
  esac
done
`, logPath, opts.String(), search)
}
