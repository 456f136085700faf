package shell

import (
	"fmt"
	"io"
)

// IO is the output side of one shell line.
//
// Regular output goes to out. Warnings raised while a line runs (a history
// file that cannot be saved, a temp dir left behind) are queued and shown on
// errOut twice: once just ahead of the line's first regular output, and
// again by [IO.Finish]. A long listing therefore cannot push them out of
// sight.
type IO struct {
	out    io.Writer
	errOut io.Writer

	pending []string
	shown   bool
}

func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Warn queues "issue: action" for errOut. It does not fail the line by
// itself, but [IO.Finish] turns any queued warning into exit code 1.
func (o *IO) Warn(issue, action string) {
	o.pending = append(o.pending, issue+": "+action)
}

// Out is for commands like cat that copy bytes straight to stdout.
func (o *IO) Out() io.Writer {
	o.showOnce()

	return o.out
}

func (o *IO) Println(a ...any) {
	o.showOnce()
	_, _ = fmt.Fprintln(o.out, a...)
}

func (o *IO) Printf(format string, a ...any) {
	o.showOnce()
	_, _ = fmt.Fprintf(o.out, format, a...)
}

func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish ends the line. It repeats the queued warnings, clears them for the
// next line and reports 1 when there were any.
func (o *IO) Finish() int {
	o.showOnce()
	o.printPending()

	code := 0
	if len(o.pending) > 0 {
		code = 1
	}

	o.pending = nil
	o.shown = false

	return code
}

// showOnce prints the queue ahead of the first regular output of a line.
func (o *IO) showOnce() {
	if o.shown || len(o.pending) == 0 {
		return
	}

	o.printPending()
	o.shown = true
}

func (o *IO) printPending() {
	for _, w := range o.pending {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}
}
