// Package progress renders a live, redrawable block of status lines.
// Every line is timestamped and has embedded passwords removed.
package progress

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/block/pgcutover/pkg/dbconn"
	"github.com/mattn/go-isatty"
)

// TimeFormat is the timestamp put in front of every line.
const TimeFormat = "Mon Jan 02 2006 15:04:05"

const (
	cursorUp  = "\x1b[1A"
	eraseLine = "\x1b[2K"
)

// Reporter is safe for concurrent use.
//
// On a terminal the live block is redrawn in place. Otherwise only
// finalized blocks (Done, Log) are printed, so CI logs do not fill up with
// every intermediate update.
type Reporter struct {
	mu    sync.Mutex
	out   io.Writer
	tty   bool
	now   func() time.Time
	block []string
	drawn int
}

// New returns a Reporter writing to out. Redrawing is enabled when out is
// a terminal.
func New(out io.Writer) *Reporter {
	return &Reporter{
		out: out,
		tty: isTerminal(out),
		now: time.Now,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Update replaces the live block with lines.
func (r *Reporter) Update(lines ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.erase()
	r.block = r.render(lines)
	r.draw()
}

// Clear removes the live block from the screen.
func (r *Reporter) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.erase()
	r.block = nil
}

// Done keeps the live block on screen and starts a new one.
func (r *Reporter) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done()
}

// Log prints msg as a finalized line of its own.
func (r *Reporter) Log(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done()
	r.block = r.render([]string{msg})
	r.draw()
	r.done()
}

// Write prints p above the live block. It lets a slog handler share the
// screen with the reporter.
func (r *Reporter) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.erase()
	if _, err := io.WriteString(r.out, dbconn.Redact(string(p))); err != nil {
		return 0, err
	}
	r.draw()
	return len(p), nil
}

func (r *Reporter) render(lines []string) []string {
	prefix := "[" + r.now().Format(TimeFormat) + "] "
	text := dbconn.Redact(strings.Join(lines, "\n"))
	rendered := strings.Split(text, "\n")
	for i, l := range rendered {
		rendered[i] = prefix + l
	}
	return rendered
}

func (r *Reporter) done() {
	if !r.tty {
		r.writeLines(r.block)
	}
	r.block = nil
	r.drawn = 0
}

func (r *Reporter) draw() {
	if !r.tty {
		return
	}
	r.writeLines(r.block)
	r.drawn = len(r.block)
}

func (r *Reporter) erase() {
	if !r.tty || r.drawn == 0 {
		return
	}
	_, _ = io.WriteString(r.out, strings.Repeat(cursorUp+eraseLine, r.drawn))
	r.drawn = 0
}

func (r *Reporter) writeLines(lines []string) {
	if len(lines) == 0 {
		return
	}
	_, _ = io.WriteString(r.out, strings.Join(lines, "\n")+"\n")
}

// Discard is a Reporter that prints nothing.
var Discard = &Reporter{out: io.Discard, now: time.Now}
