package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one vfsh builtin. The help listing, "help <name>" and
// "<name> --help" are all rendered from these fields.
type Command struct {
	// Flags defines command-specific flags. A fresh set is built for every
	// invocation, so values never leak between lines.
	Flags *flag.FlagSet

	// Usage is the command name followed by its arguments, e.g. "mkdir [-p] <dir>...".
	Usage string

	// Short is a one-line description for the help listing.
	Short string

	// Long is the full description shown by "help <cmd>". Falls back to Short.
	Long string

	// Aliases are alternative names ("quit" for "exit").
	Aliases []string

	// Exec receives the arguments left over after flag parsing.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name is the word a line has to start with to reach this command.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine is the command's row in the "help" table.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-30s %s", c.Usage, c.Short)
}

func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage:", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println(desc)

	if len(c.Aliases) > 0 {
		o.Println()
		o.Println("Aliases:", strings.Join(c.Aliases, ", "))
	}

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")
		o.Printf("%s", c.Flags.FlagUsages())
	}
}

// Run executes one invocation and maps the outcome to an exit code. Parse
// and Exec failures go to stderr as "error: ..." and yield 1; --help prints
// the command help and yields 0.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	if c.Flags == nil {
		c.Flags = flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	}

	c.Flags.SetOutput(io.Discard)

	err := c.Flags.Parse(args)

	switch {
	case errors.Is(err, flag.ErrHelp):
		c.PrintHelp(o)

		return 0
	case err != nil:
		o.ErrPrintln("error:", err)
		o.ErrPrintln("usage:", c.Usage)

		return 1
	}

	if err := c.Exec(ctx, o, c.Flags.Args()); err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return 0
}
