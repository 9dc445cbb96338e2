// Package sysrun abstracts external command execution so destructive disk
// operations can be exercised in tests with a scripted runner.
package sysrun

import (
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes external commands.
type Runner interface {
	// Run executes name with args and returns combined stdout/stderr.
	Run(name string, args ...string) ([]byte, error)
	// LookPath reports where name resolves to, or an error if it is not
	// installed.
	LookPath(name string) (string, error)
}

// Exec is the real Runner backed by os/exec.
type Exec struct{}

func (Exec) Run(name string, args ...string) ([]byte, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s",
			name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func (Exec) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
