// Package selector presents numbered device menus at the interactive
// boundary of the pipeline.
package selector

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/sigreer/metalforge/internal/blockdev"
)

// ErrNotATerminal means stdin is not a tty, so there is nobody to prompt.
var ErrNotATerminal = errors.New("stdin is not a terminal")

// Selector reads menu choices from in and writes prompts to out.
type Selector struct {
	in  *bufio.Reader
	out io.Writer
}

func New(in io.Reader, out io.Writer) *Selector {
	return &Selector{in: bufio.NewReader(in), out: out}
}

// Interactive returns a selector bound to the terminal, or
// ErrNotATerminal when there isn't one.
func Interactive() (*Selector, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return nil, ErrNotATerminal
	}
	return New(os.Stdin, os.Stderr), nil
}

// Choose presents a 1-indexed menu of candidates and re-prompts until a
// valid choice is entered. With allowNone, entry 0 skips and returns nil.
// The returned device is always one of the candidates. An empty candidate
// list is an error, and so is input running out (a closed stdin would
// otherwise loop forever).
func (s *Selector) Choose(prompt string, candidates []blockdev.BlockDevice, allowNone bool) (*blockdev.BlockDevice, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no candidate devices to choose from")
	}

	fmt.Fprintln(s.out, prompt)
	for i, d := range candidates {
		fmt.Fprintf(s.out, "  %d) %-14s %-10s %s\n",
			i+1, d.Path, humanize.IBytes(d.SizeBytes), d.Model)
	}
	if allowNone {
		fmt.Fprintln(s.out, "  0) none")
	}

	for {
		fmt.Fprint(s.out, "> ")
		line, err := s.in.ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("reading selection: %w", err)
		}

		n, convErr := strconv.Atoi(strings.TrimSpace(line))
		switch {
		case convErr != nil:
			fmt.Fprintln(s.out, "enter a number from the list")
		case allowNone && n == 0:
			return nil, nil
		case n >= 1 && n <= len(candidates):
			return &candidates[n-1], nil
		default:
			fmt.Fprintf(s.out, "enter a number between 1 and %d\n", len(candidates))
		}

		if err != nil {
			// Partial final line with no newline: nothing more to read.
			return nil, fmt.Errorf("reading selection: %w", err)
		}
	}
}
