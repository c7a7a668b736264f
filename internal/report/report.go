// Package report checks request results against the orders that actually
// happened and renders the outcome.
package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"golang.org/x/term"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/oracle"
)

// Measure compares one client against a queried window.
// Distances are in seconds; Distance is zero when the client bought
// inside the window.
type Measure struct {
	ClientID     string    `json:"clientId"`
	Date         time.Time `json:"date,omitempty"`
	Distance     int64     `json:"distance"`
	DistanceFrom int64     `json:"distanceFrom"`
	DistanceTo   int64     `json:"distanceTo"`
	Confidence   float64   `json:"confidence,omitempty"`

	// Bought is false for predicted clients without any matching order
	Bought bool `json:"bought"`
}

// Outcome classifies a measure
type Outcome string

const (
	OutcomeHit    Outcome = "hit"
	OutcomeNear   Outcome = "near"
	OutcomeMissed Outcome = "missed"
)

// Outcome returns hit when a predicted client bought in the window and near
// when it bought elsewhere or not at all. Buyers nobody predicted, and
// predictions without confidence, are missed.
func (m Measure) Outcome() Outcome {
	if m.Confidence == 0 {
		return OutcomeMissed
	}
	if m.Bought && FormatDistance(m.Distance) == 0 {
		return OutcomeHit
	}
	return OutcomeNear
}

// Compare builds one measure per predicted client, followed by the clients
// that bought in the window without being predicted. Order days are taken in
// loc.
func Compare(orders []core.Order, agentType core.AgentType, window core.TargetWindow, results []core.QueryResult, loc *time.Location) []Measure {
	if loc == nil {
		loc = time.UTC
	}

	closest := make(map[string]Measure)
	for _, order := range orders {
		if !order.TouchesSlug(agentType, window.Target) {
			continue
		}
		ts := oracle.StartOfDay(order.Date, loc)
		m := Measure{
			ClientID:     order.ClientID,
			Date:         order.Date,
			DistanceFrom: ts - window.From,
			DistanceTo:   ts - window.To,
			Bought:       true,
		}
		if sign(m.DistanceFrom)*sign(m.DistanceTo) == 1 {
			if m.DistanceTo > 0 {
				m.Distance = m.DistanceTo
			} else {
				m.Distance = -m.DistanceFrom
			}
		}
		if prev, ok := closest[order.ClientID]; !ok || m.Distance < prev.Distance {
			closest[order.ClientID] = m
		}
	}

	measures := make([]Measure, 0, len(results)+len(closest))
	predicted := make(map[string]bool, len(results))
	for _, r := range results {
		m, ok := closest[r.ClientID]
		if !ok {
			m = Measure{ClientID: r.ClientID}
		}
		m.Confidence = r.Confidence
		measures = append(measures, m)
		predicted[r.ClientID] = true
	}

	var unexpected []Measure
	for clientID, m := range closest {
		if m.Distance == 0 && !predicted[clientID] {
			unexpected = append(unexpected, m)
		}
	}
	sort.Slice(unexpected, func(i, j int) bool { return unexpected[i].ClientID < unexpected[j].ClientID })

	return append(measures, unexpected...)
}

// Summary counts outcomes
type Summary struct {
	Hits   int `json:"hits"`
	Near   int `json:"near"`
	Missed int `json:"missed"`
}

// Summarize counts the outcomes of measures
func Summarize(measures []Measure) Summary {
	var s Summary
	for _, m := range measures {
		switch m.Outcome() {
		case OutcomeHit:
			s.Hits++
		case OutcomeNear:
			s.Near++
		default:
			s.Missed++
		}
	}
	return s
}

// FormatDistance converts a distance in seconds to a number of weeks,
// rounded up
func FormatDistance(distance int64) int64 {
	if distance < 0 {
		distance = -distance
	}
	return int64(math.Ceil(float64(distance) / float64(oracle.Week)))
}

const (
	red    = "\x1b[31m"
	green  = "\x1b[32m"
	yellow = "\x1b[33m"
	reset  = "\x1b[0m"
)

// Printer renders measures, one line each
type Printer struct {
	w     io.Writer
	Color bool
}

// NewPrinter creates a printer that colours its output when w is a terminal
func NewPrinter(w io.Writer) *Printer {
	p := &Printer{w: w}
	if f, ok := w.(*os.File); ok {
		p.Color = term.IsTerminal(int(f.Fd()))
	}
	return p
}

// Header prints the window a group of measures belongs to
func (p *Printer) Header(name string, window core.TargetWindow) {
	fmt.Fprintf(p.w, "%s / %s [%s, %s)\n", name, window.Target,
		time.Unix(window.From, 0).UTC().Format("2006-01-02"),
		time.Unix(window.To, 0).UTC().Format("2006-01-02"))
}

// Print writes one measure
func (p *Printer) Print(m Measure) {
	date := "-"
	if m.Bought {
		date = m.Date.Format("2006-01-02")
	}

	switch m.Outcome() {
	case OutcomeMissed:
		p.line(red, "⚡ ", fmt.Sprintf("%s %s (not found)", m.ClientID, date))
	case OutcomeHit:
		p.line(green, "✔️ ", fmt.Sprintf("%s %s (%.2f%%)", m.ClientID, date, 100*m.Confidence))
	default:
		if !m.Bought {
			p.line(yellow, "⚠️ ", fmt.Sprintf("%s %s (no order, %.2f%%)", m.ClientID, date, 100*m.Confidence))
			return
		}
		p.line(yellow, "⚠️ ", fmt.Sprintf("%s %s (-%d, +%d, %.2f%%)", m.ClientID, date,
			FormatDistance(m.DistanceFrom), FormatDistance(m.DistanceTo), 100*m.Confidence))
	}
}

// PrintSummary writes the outcome counts
func (p *Printer) PrintSummary(s Summary) {
	fmt.Fprintf(p.w, "  %d hit, %d near, %d missed\n", s.Hits, s.Near, s.Missed)
}

func (p *Printer) line(color, icon, text string) {
	if p.Color {
		fmt.Fprintf(p.w, "  %s%s %s%s\n", color, icon, text, reset)
		return
	}
	fmt.Fprintf(p.w, "  %s %s\n", icon, text)
}

func sign(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
