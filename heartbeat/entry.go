package heartbeat

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Origin marks which schedule document an entry came from.
type Origin string

const (
	// OriginBuiltin entries ship with the deployment and are read-only.
	OriginBuiltin Origin = "builtin"
	// OriginUser entries are managed through AddEntry/RemoveEntry.
	OriginUser Origin = "user"
)

// CadenceKind distinguishes the two cadence grammars.
type CadenceKind int

const (
	// CadencePeriodic fires every fixed duration.
	CadencePeriodic CadenceKind = iota
	// CadenceDaily fires once per calendar day at a fixed time.
	CadenceDaily
)

// Cadence is a parsed schedule expression.
type Cadence struct {
	Kind   CadenceKind
	Every  time.Duration // periodic entries
	Hour   int           // daily entries
	Minute int
}

// Entry is one schedule definition: a heading (the cadence) and its body (the
// verbatim prompt). Entries are re-created from the documents on every tick;
// only the last-fired timestamps persist across ticks, keyed by ID.
type Entry struct {
	ID          string
	CadenceText string
	Cadence     Cadence
	Prompt      string
	Origin      Origin
}

var (
	hoursRE   = regexp.MustCompile(`^every\s+(\d+)\s+hours?$`)
	minutesRE = regexp.MustCompile(`^every\s+(\d+)\s+minutes?$`)
	dailyRE   = regexp.MustCompile(`^every\s+day\s+at\s+(\d{1,2}):(\d{2})$`)
)

// ParseCadence parses one of the three supported grammars:
// "Every <N> hours", "Every <N> minutes", "Every day at HH:MM".
func ParseCadence(s string) (Cadence, error) {
	norm := strings.Join(strings.Fields(strings.ToLower(s)), " ")

	if m := hoursRE.FindStringSubmatch(norm); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n == 0 {
			return Cadence{}, fmt.Errorf("cadence %q: period must be positive", s)
		}
		return Cadence{Kind: CadencePeriodic, Every: time.Duration(n) * time.Hour}, nil
	}
	if m := minutesRE.FindStringSubmatch(norm); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n == 0 {
			return Cadence{}, fmt.Errorf("cadence %q: period must be positive", s)
		}
		return Cadence{Kind: CadencePeriodic, Every: time.Duration(n) * time.Minute}, nil
	}
	if m := dailyRE.FindStringSubmatch(norm); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return Cadence{}, fmt.Errorf("cadence %q: invalid time of day", s)
		}
		return Cadence{Kind: CadenceDaily, Hour: hour, Minute: minute}, nil
	}
	return Cadence{}, fmt.Errorf("unknown cadence format: %q", s)
}

// EntryID derives the stable identifier for a heading: lowercased with
// whitespace collapsed, so "Every  2 Hours" and "every 2 hours" are one
// entry.
func EntryID(heading string) string {
	return strings.Join(strings.Fields(strings.ToLower(heading)), " ")
}

// rawEntry is a heading/body pair before cadence validation.
type rawEntry struct {
	heading string
	prompt  string
}

// parseDocument splits a schedule document into heading/body pairs. Headings
// of any level start a new entry; the body is the verbatim prompt. Entries
// with an empty prompt are dropped, matching how the documents are authored.
func parseDocument(text string) []rawEntry {
	var entries []rawEntry
	var heading string
	var lines []string

	flush := func() {
		prompt := strings.TrimSpace(strings.Join(lines, "\n"))
		if heading != "" && prompt != "" {
			entries = append(entries, rawEntry{heading: heading, prompt: prompt})
		}
		lines = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "#") {
			flush()
			heading = strings.TrimSpace(strings.TrimLeft(line, "#"))
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return entries
}

// shouldFire reports whether an entry's cadence is satisfied at now given its
// last fire. A zero lastFired means the entry has never fired this process
// lifetime: periodic entries then fire immediately (the single catch-up fire)
// and daily entries fire if today's target time has passed. At most one fire
// per entry per tick follows from the caller updating lastFired on fire.
func shouldFire(c Cadence, lastFired, now time.Time) bool {
	switch c.Kind {
	case CadencePeriodic:
		if lastFired.IsZero() {
			return true
		}
		return now.Sub(lastFired) >= c.Every
	case CadenceDaily:
		if !lastFired.IsZero() && sameDay(lastFired, now) {
			return false
		}
		target := time.Date(now.Year(), now.Month(), now.Day(), c.Hour, c.Minute, 0, 0, now.Location())
		return !now.Before(target)
	default:
		return false
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
