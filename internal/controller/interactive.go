package controller

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/fediverse-devnet/feditest-sub000/internal/outcome"
	"github.com/fediverse-devnet/feditest-sub000/pkg/logging"
)

// Level is the level of the run a decision is made at.
type Level int

const (
	LevelSession Level = iota
	LevelTest
	LevelStep
)

func (l Level) String() string {
	switch l {
	case LevelSession:
		return "session"
	case LevelTest:
		return "test"
	default:
		return "step"
	}
}

// LineReader is the part of *readline.Instance the controller uses.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// Interactive asks the operator what to do at every level.
type Interactive struct {
	rl  LineReader
	out io.Writer
}

var _ Controller = (*Interactive)(nil)

// NewInteractive returns a controller reading directives from rl and
// writing help and listings to out.
func NewInteractive(rl LineReader, out io.Writer) *Interactive {
	return &Interactive{rl: rl, out: out}
}

// NewTerminal sets up readline on the terminal. The returned close function
// must be called when the run is over.
func NewTerminal() (*Interactive, func() error, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       filepath.Join(os.TempDir(), ".feditest_history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "quit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create readline instance: %w", err)
	}
	return NewInteractive(rl, rl.Stdout()), rl.Close, nil
}

func (c *Interactive) NextSessionIndex(names []string, last int) (int, error) {
	return c.ask(LevelSession, names, last)
}

func (c *Interactive) NextTestIndex(names []string, last int) (int, error) {
	return c.ask(LevelTest, names, last)
}

func (c *Interactive) NextStepIndex(names []string, last int) (int, error) {
	return c.ask(LevelStep, names, last)
}

func (c *Interactive) ask(level Level, names []string, last int) (int, error) {
	if last >= 0 && last < len(names) {
		fmt.Fprintf(c.out, "Finished %s %d: %s\n", level, last, names[last])
	}
	if last+1 < len(names) {
		fmt.Fprintf(c.out, "Next %s %d: %s\n", level, last+1, names[last+1])
	} else {
		fmt.Fprintf(c.out, "No more %ss at this level\n", level)
	}
	c.rl.SetPrompt(fmt.Sprintf("%s [next] > ", level))

	for {
		line, err := c.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return -1, outcome.AbortRun("end of input")
		}
		if err != nil {
			return -1, outcome.AbortRun(fmt.Sprintf("readline error: %v", err))
		}

		d, err := ParseDirective(level, line)
		if err != nil {
			fmt.Fprintf(c.out, "%v. Type 'help' for the list of commands.\n", err)
			continue
		}

		switch d.Kind {
		case DirectiveHelp:
			c.help(level, names)
		case DirectiveNext:
			return last + 1, nil
		case DirectiveRepeat:
			if last < 0 {
				fmt.Fprintf(c.out, "Nothing to repeat yet\n")
				continue
			}
			return last, nil
		case DirectiveJump:
			if d.Index < 0 || d.Index >= len(names) {
				fmt.Fprintf(c.out, "No %s with index %d (0..%d)\n", level, d.Index, len(names)-1)
				continue
			}
			return d.Index, nil
		case DirectiveCancelTest:
			logging.Info("Controller", "Operator cancelled the test")
			return -1, outcome.AbortTest("cancelled by operator")
		case DirectiveAbortSession:
			logging.Info("Controller", "Operator aborted the session")
			return -1, outcome.AbortSession("aborted by operator")
		case DirectiveQuit:
			logging.Info("Controller", "Operator quit the run")
			return -1, outcome.AbortRun("quit by operator")
		}
	}
}

func (c *Interactive) help(level Level, names []string) {
	fmt.Fprintf(c.out, "Commands at the %s level:\n", level)
	fmt.Fprintf(c.out, "  next, n, <enter>   run the next %s\n", level)
	fmt.Fprintf(c.out, "  repeat, r          run the last %s again\n", level)
	fmt.Fprintf(c.out, "  jump N, j N, N     run %s N\n", level)
	switch level {
	case LevelStep:
		fmt.Fprintf(c.out, "  cancel             stop this test\n")
		fmt.Fprintf(c.out, "  abort              stop this session\n")
	case LevelTest:
		fmt.Fprintf(c.out, "  abort              stop this session\n")
	}
	fmt.Fprintf(c.out, "  quit, q            stop the run\n")
	fmt.Fprintf(c.out, "Available %ss:\n", level)
	for i, n := range names {
		fmt.Fprintf(c.out, "  %3d  %s\n", i, n)
	}
}

// DirectiveKind is what the operator asked for.
type DirectiveKind int

const (
	DirectiveNext DirectiveKind = iota
	DirectiveRepeat
	DirectiveJump
	DirectiveCancelTest
	DirectiveAbortSession
	DirectiveQuit
	DirectiveHelp
)

// Directive is a parsed operator command.
type Directive struct {
	Kind  DirectiveKind
	Index int
}

// ParseDirective parses one line of operator input at level.
func ParseDirective(level Level, line string) (Directive, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Directive{Kind: DirectiveNext}, nil
	}
	cmd, args := fields[0], fields[1:]

	if n, err := strconv.Atoi(cmd); err == nil && len(args) == 0 {
		return Directive{Kind: DirectiveJump, Index: n}, nil
	}

	noArgs := func(d Directive) (Directive, error) {
		if len(args) > 0 {
			return Directive{}, fmt.Errorf("%q takes no arguments", cmd)
		}
		return d, nil
	}

	switch cmd {
	case "next", "n":
		return noArgs(Directive{Kind: DirectiveNext})
	case "repeat", "r":
		return noArgs(Directive{Kind: DirectiveRepeat})
	case "jump", "j":
		if len(args) != 1 {
			return Directive{}, fmt.Errorf("%q needs exactly one index", cmd)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return Directive{}, fmt.Errorf("%q is not an index", args[0])
		}
		return Directive{Kind: DirectiveJump, Index: n}, nil
	case "cancel":
		if level != LevelStep {
			return Directive{}, fmt.Errorf("%q is only available between steps", cmd)
		}
		return noArgs(Directive{Kind: DirectiveCancelTest})
	case "abort":
		if level == LevelSession {
			return noArgs(Directive{Kind: DirectiveQuit})
		}
		return noArgs(Directive{Kind: DirectiveAbortSession})
	case "quit", "q", "exit":
		return noArgs(Directive{Kind: DirectiveQuit})
	case "help", "h", "?":
		return Directive{Kind: DirectiveHelp}, nil
	}
	return Directive{}, fmt.Errorf("unknown command %q", cmd)
}
