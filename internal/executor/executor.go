// Package executor runs the external tools the image builder depends on
// (sfdisk, mkfs.*, losetup, mount, dd, mkimage and friends), optionally
// escalating privileges via sudo.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/linaro/imagetools/internal/failure"
	"github.com/sirupsen/logrus"
)

// Command describes a single external process invocation.
type Command struct {
	Args   []string
	Stdin  []byte
	Env    []string // appended to the current environment
	AsRoot bool
}

func (c *Command) String() string {
	s := strings.Join(c.Args, " ")
	if c.AsRoot {
		s = "sudo " + s
	}
	return s
}

// Runner executes commands. It returns the command's standard output. A
// command that exits non-zero yields a *failure.SubprocessError.
type Runner interface {
	Run(ctx context.Context, c *Command) ([]byte, error)
}

// SudoPolicy controls whether AsRoot commands are prefixed with sudo.
type SudoPolicy string

const (
	SudoAuto   SudoPolicy = "auto"   // use sudo unless running as root
	SudoAlways SudoPolicy = "always" // always use sudo
	SudoNever  SudoPolicy = "never"  // never use sudo
)

// ParseSudoPolicy validates a --sudo flag value. The empty string means
// SudoAuto.
func ParseSudoPolicy(s string) (SudoPolicy, error) {
	switch SudoPolicy(s) {
	case "", SudoAuto:
		return SudoAuto, nil
	case SudoAlways, SudoNever:
		return SudoPolicy(s), nil
	}
	return "", fmt.Errorf("invalid sudo policy %q (valid: auto, always, never)", s)
}

// Host runs commands on the local machine.
type Host struct {
	Policy SudoPolicy

	once    sync.Once
	sudoErr error
}

func (h *Host) useSudo() bool {
	switch h.Policy {
	case SudoAlways:
		return true
	case SudoNever:
		return false
	}
	return os.Geteuid() != 0
}

func (h *Host) checkSudo() error {
	h.once.Do(func() {
		if _, err := exec.LookPath("sudo"); err != nil {
			h.sudoErr = failure.New(failure.KindPrivilegeEscalationFailed, "sudo", err)
		}
	})
	return h.sudoErr
}

func (h *Host) Run(ctx context.Context, c *Command) ([]byte, error) {
	if len(c.Args) == 0 {
		return nil, fmt.Errorf("BUG: empty command")
	}
	args := c.Args
	sudo := c.AsRoot && h.useSudo()
	if sudo {
		if err := h.checkSudo(); err != nil {
			return nil, err
		}
		// Use --preserve-env so that LC_ALL and friends survive escalation.
		args = append([]string{"sudo", "--preserve-env"}, args...)
	}
	logrus.Debugf("running %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			serr := &failure.SubprocessError{
				Args:       c.Args,
				ExitStatus: ee.ExitCode(),
				Stderr:     stderr.String(),
			}
			if sudo && sudoRefused(stderr.String()) {
				return stdout.Bytes(), failure.New(failure.KindPrivilegeEscalationFailed, c.String(), serr)
			}
			return stdout.Bytes(), serr
		}
		if sudo {
			return nil, failure.New(failure.KindPrivilegeEscalationFailed, c.String(), err)
		}
		return nil, fmt.Errorf("%s: %v", c.String(), err)
	}
	return stdout.Bytes(), nil
}

// sudoRefused reports whether stderr came from sudo itself rather than from
// the escalated command.
func sudoRefused(stderr string) bool {
	return strings.HasPrefix(stderr, "sudo: ") ||
		strings.Contains(stderr, "is not in the sudoers file")
}

// Run is a convenience wrapper that discards standard output.
func Run(ctx context.Context, r Runner, args ...string) error {
	_, err := r.Run(ctx, &Command{Args: args})
	return err
}

// Sudo runs args with root privileges, discarding standard output.
func Sudo(ctx context.Context, r Runner, args ...string) error {
	_, err := r.Run(ctx, &Command{Args: args, AsRoot: true})
	return err
}

// SudoOutput runs args with root privileges and returns trimmed standard
// output.
func SudoOutput(ctx context.Context, r Runner, args ...string) (string, error) {
	out, err := r.Run(ctx, &Command{Args: args, AsRoot: true})
	return strings.TrimSpace(string(out)), err
}
