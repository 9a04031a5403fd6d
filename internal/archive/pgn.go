package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-chess-server/internal/chess/openingbook"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
)

// ResultToken is the PGN result for a finished snapshot.
func ResultToken(snap session.Snapshot) string {
	switch snap.Status {
	case session.Checkmate:
		if c, _ := snap.Winner(); c == rules.White {
			return "1-0"
		}
		return "0-1"
	case session.Stalemate, session.Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// BuildPGN renders the game as PGN text with SAN movetext.
func BuildPGN(snap session.Snapshot) string {
	result := ResultToken(snap)
	date := snap.EndedAt
	if date.IsZero() {
		date = snap.UpdatedAt
	}
	if date.IsZero() {
		date = time.Now()
	}

	var b strings.Builder
	b.WriteString("[Event \"Cheese Chess\"]\n")
	b.WriteString("[Site \"cheese-chess-server\"]\n")
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(playerName(snap.White)))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(playerName(snap.Black)))
	fmt.Fprintf(&b, "[Result \"%s\"]\n", result)
	if eco, title, ok := openingbook.Classify(snap.MovesUCI); ok {
		fmt.Fprintf(&b, "[ECO \"%s\"]\n", eco)
		fmt.Fprintf(&b, "[Opening \"%s\"]\n", sanitizePGN(title))
	}
	if term := termination(snap); term != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(term))
	}
	b.WriteString("\n")

	for i := 0; i < len(snap.MovesSAN); i += 2 {
		fmt.Fprintf(&b, "%d. %s", i/2+1, strings.TrimSpace(snap.MovesSAN[i]))
		if i+1 < len(snap.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(snap.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func termination(snap session.Snapshot) string {
	if snap.Status == session.Abandoned {
		return "abandoned"
	}
	if snap.Method != "" {
		return snap.Method
	}
	if snap.Status.Terminal() {
		return snap.Status.String()
	}
	return ""
}

func playerName(id session.Identity) string {
	if id == "" {
		return "?"
	}
	return string(id)
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
