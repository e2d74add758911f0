// Package executortest provides a fake executor.Runner which records the
// commands it is asked to run instead of running them.
package executortest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/linaro/imagetools/internal/executor"
)

// Handler simulates a program. It may produce side effects (such as creating
// output files) and returns the program's standard output.
type Handler func(c *executor.Command) ([]byte, error)

// Recorder implements executor.Runner.
type Recorder struct {
	mu       sync.Mutex
	commands []executor.Command

	// Handlers maps a program base name (e.g. "losetup") to its simulation.
	// Programs without a handler succeed with empty output.
	Handlers map[string]Handler
}

var _ executor.Runner = (*Recorder)(nil)

// Handle registers h for program.
func (r *Recorder) Handle(program string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Handlers == nil {
		r.Handlers = make(map[string]Handler)
	}
	r.Handlers[program] = h
}

func (r *Recorder) Run(ctx context.Context, c *executor.Command) ([]byte, error) {
	r.mu.Lock()
	cp := *c
	cp.Args = append([]string(nil), c.Args...)
	r.commands = append(r.commands, cp)
	h := r.Handlers[filepath.Base(c.Args[0])]
	r.mu.Unlock()
	if h == nil {
		return nil, nil
	}
	return h(&cp)
}

// Commands returns a copy of all recorded commands, in order.
func (r *Recorder) Commands() []executor.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]executor.Command(nil), r.commands...)
}

// Lines returns the recorded commands rendered as shell-like lines, with
// "sudo " prepended to privileged commands.
func (r *Recorder) Lines() []string {
	var lines []string
	for _, c := range r.Commands() {
		lines = append(lines, c.String())
	}
	return lines
}

// Program returns the recorded invocations of program.
func (r *Recorder) Program(program string) []executor.Command {
	var cmds []executor.Command
	for _, c := range r.Commands() {
		if filepath.Base(c.Args[0]) == program {
			cmds = append(cmds, c)
		}
	}
	return cmds
}

// Contains reports whether some recorded line has prefix as a prefix.
func (r *Recorder) Contains(prefix string) bool {
	for _, l := range r.Lines() {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}
