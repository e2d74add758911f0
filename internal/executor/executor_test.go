package executor_test

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/linaro/imagetools/internal/executor"
	"github.com/linaro/imagetools/internal/failure"
)

func TestParseSudoPolicy(t *testing.T) {
	for _, tt := range []struct {
		in      string
		want    executor.SudoPolicy
		wantErr bool
	}{
		{"", executor.SudoAuto, false},
		{"auto", executor.SudoAuto, false},
		{"always", executor.SudoAlways, false},
		{"never", executor.SudoNever, false},
		{"sometimes", "", true},
	} {
		t.Run(tt.in, func(t *testing.T) {
			got, err := executor.ParseSudoPolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSudoPolicy(%q): err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSudoPolicy(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHostRun(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx := context.Background()
	h := &executor.Host{Policy: executor.SudoNever}

	out, err := h.Run(ctx, &executor.Command{
		Args:  []string{"sh", "-c", "cat; echo $GREETING"},
		Stdin: []byte("hello "),
		Env:   []string{"GREETING=world"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(out), "hello world\n"; got != want {
		t.Errorf("unexpected output: got %q, want %q", got, want)
	}

	_, err = h.Run(ctx, &executor.Command{
		Args: []string{"sh", "-c", "echo oops >&2; exit 3"},
	})
	var se *failure.SubprocessError
	if !errors.As(err, &se) {
		t.Fatalf("Run: got %v, want *failure.SubprocessError", err)
	}
	if se.ExitStatus != 3 {
		t.Errorf("ExitStatus = %d, want 3", se.ExitStatus)
	}
	if se.Stderr != "oops\n" {
		t.Errorf("Stderr = %q, want %q", se.Stderr, "oops\n")
	}
}

func TestCommandString(t *testing.T) {
	c := &executor.Command{Args: []string{"losetup", "-d", "/dev/loop0"}, AsRoot: true}
	if got, want := c.String(), "sudo losetup -d /dev/loop0"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
