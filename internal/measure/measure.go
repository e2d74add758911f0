// Package measure prints progress lines for long-running build phases.
package measure

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Output receives the progress lines.
var Output io.Writer = os.Stdout

// Interactively prints status and returns a function that, when called,
// overwrites it with the elapsed time and fragment.
func Interactively(status string) (done func(fragment string)) {
	status = "[" + status + "]"
	fmt.Fprint(Output, status)
	start := time.Now()
	return func(fragment string) {
		took := time.Since(start)
		fmt.Fprintf(Output, "\r[done] in %.2fs%s"+strings.Repeat(" ", len(status))+"\n",
			took.Seconds(),
			fragment)
	}
}

// Phase runs fn between the status line and its completion line. When fn
// fails, the completion line names the failure.
func Phase(status string, fn func() error) error {
	done := Interactively(status)
	if err := fn(); err != nil {
		done(", " + status + " failed")
		return err
	}
	done(", " + status)
	return nil
}
