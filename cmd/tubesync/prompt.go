package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// promptConfirmer asks on the terminal. Without an answer (EOF) it declines.
type promptConfirmer struct {
	in        *bufio.Reader
	out       io.Writer
	assumeYes bool
}

func newPromptConfirmer(in io.Reader, out io.Writer, assumeYes bool) *promptConfirmer {
	return &promptConfirmer{
		in:        bufio.NewReader(in),
		out:       out,
		assumeYes: assumeYes,
	}
}

func (p *promptConfirmer) Confirm(prompt string) bool {
	question := color.New(color.FgYellow)
	if p.assumeYes {
		question.Fprintf(p.out, "%s (y/N): ", prompt)
		fmt.Fprintln(p.out, "y")
		return true
	}

	question.Fprintf(p.out, "%s (y/N): ", prompt)
	answer, err := p.in.ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(p.out)
		return false
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
