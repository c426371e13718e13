package harness

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

// WriteReport renders rep as human-readable text. When color is true lines
// are wrapped in ANSI color escapes.
func WriteReport(w io.Writer, rep *Report, color bool) error {
	p := &printer{w: w, color: color}

	p.line(ansiBlue, "\nRunning hello-mcp verification against %s\n", rep.Server)
	for _, res := range rep.Results {
		if res.Passed {
			p.line(ansiGreen, "✓ %s", res.Name)
			if res.Message != "" {
				p.line(ansiGreen, "  %s", res.Message)
			}
			continue
		}
		p.line(ansiRed, "✗ %s", res.Name)
		if res.Message != "" {
			p.line(ansiRed, "  %s", res.Message)
		}
		if s := strings.TrimSpace(res.Stderr); s != "" {
			for _, l := range strings.Split(s, "\n") {
				p.line(ansiYellow, "  | %s", l)
			}
		}
	}

	p.line(ansiBlue, "\n%s", strings.Repeat("=", 50))
	summary := ansiYellow
	if rep.OK() {
		summary = ansiGreen
	}
	p.line(summary, "Results: %d passed, %d failed (%s)", rep.Passed(), rep.Failed(), rep.Duration.Round(time.Millisecond))
	if rep.OK() {
		p.line(ansiGreen, "\nAll checks passed.")
	} else {
		p.line(ansiYellow, "\nFix the failing checks and run mcp-verify again.")
	}
	return p.err
}

type printer struct {
	w     io.Writer
	color bool
	err   error
}

func (p *printer) line(color, format string, a ...any) {
	if p.err != nil {
		return
	}
	s := fmt.Sprintf(format, a...)
	if p.color {
		s = color + s + ansiReset
	}
	_, p.err = fmt.Fprintln(p.w, s)
}
