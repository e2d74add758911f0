// Package failure defines the error kinds shared by the image and hwpack
// builders. Every fatal error that reaches the command line can be traced back
// to exactly one kind, which determines the exit code.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a category of fatal failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindRecipeInvalid
	KindPackageMissing
	KindPackageChecksumMismatch
	KindMediaSetupFailed
	KindLoopbackBindFailed
	KindPartitionLayoutUnexpected
	KindArtifactLookupAmbiguous
	KindRawWriteFailed
	KindSubprocessNonZero
	KindPrivilegeEscalationFailed
)

var kindNames = map[Kind]string{
	KindUnknown:                   "Failure",
	KindRecipeInvalid:             "RecipeInvalid",
	KindPackageMissing:            "PackageMissing",
	KindPackageChecksumMismatch:   "PackageChecksumMismatch",
	KindMediaSetupFailed:          "MediaSetupFailed",
	KindLoopbackBindFailed:        "LoopbackBindFailed",
	KindPartitionLayoutUnexpected: "PartitionLayoutUnexpected",
	KindArtifactLookupAmbiguous:   "ArtifactLookupAmbiguous",
	KindRawWriteFailed:            "RawWriteFailed",
	KindSubprocessNonZero:         "SubprocessNonZero",
	KindPrivilegeEscalationFailed: "PrivilegeEscalationFailed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ExitCode returns the process exit status for the kind. Codes start at 10 so
// that they never collide with the generic status 1 used by cobra for usage
// errors.
func (k Kind) ExitCode() int {
	if k == KindUnknown {
		return 1
	}
	return 10 + int(k)
}

type sentinel struct{ kind Kind }

func (s *sentinel) Error() string { return s.kind.String() }

// Sentinels for use with errors.Is.
var (
	ErrRecipeInvalid             error = &sentinel{KindRecipeInvalid}
	ErrPackageMissing            error = &sentinel{KindPackageMissing}
	ErrPackageChecksumMismatch   error = &sentinel{KindPackageChecksumMismatch}
	ErrMediaSetupFailed          error = &sentinel{KindMediaSetupFailed}
	ErrLoopbackBindFailed        error = &sentinel{KindLoopbackBindFailed}
	ErrPartitionLayoutUnexpected error = &sentinel{KindPartitionLayoutUnexpected}
	ErrArtifactLookupAmbiguous   error = &sentinel{KindArtifactLookupAmbiguous}
	ErrRawWriteFailed            error = &sentinel{KindRawWriteFailed}
	ErrSubprocessNonZero         error = &sentinel{KindSubprocessNonZero}
	ErrPrivilegeEscalationFailed error = &sentinel{KindPrivilegeEscalationFailed}
)

func sentinelFor(k Kind) error {
	switch k {
	case KindRecipeInvalid:
		return ErrRecipeInvalid
	case KindPackageMissing:
		return ErrPackageMissing
	case KindPackageChecksumMismatch:
		return ErrPackageChecksumMismatch
	case KindMediaSetupFailed:
		return ErrMediaSetupFailed
	case KindLoopbackBindFailed:
		return ErrLoopbackBindFailed
	case KindPartitionLayoutUnexpected:
		return ErrPartitionLayoutUnexpected
	case KindArtifactLookupAmbiguous:
		return ErrArtifactLookupAmbiguous
	case KindRawWriteFailed:
		return ErrRawWriteFailed
	case KindSubprocessNonZero:
		return ErrSubprocessNonZero
	case KindPrivilegeEscalationFailed:
		return ErrPrivilegeEscalationFailed
	}
	return nil
}

// Error is a tagged failure. Param names the user-actionable parameter (a
// path, a package name, a glob or a recipe locator).
type Error struct {
	Kind  Kind
	Param string
	Err   error
}

// New returns an *Error of the given kind.
func New(kind Kind, param string, err error) *Error {
	return &Error{Kind: kind, Param: param, Err: err}
}

// Errorf is like New, but formats the underlying error.
func Errorf(kind Kind, param, format string, args ...interface{}) *Error {
	return New(kind, param, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Param != "" {
		b.WriteString(": ")
		b.WriteString(e.Param)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	s := sentinelFor(e.Kind)
	return s != nil && target == s
}

// SubprocessError is returned by the executor when a command exits with a
// non-zero status.
type SubprocessError struct {
	Args       []string
	ExitStatus int
	Stderr     string
}

func (e *SubprocessError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", strings.Join(e.Args, " "), e.ExitStatus)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *SubprocessError) Is(target error) bool { return target == ErrSubprocessNonZero }

// KindOf returns the kind of the outermost tagged failure in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var se *SubprocessError
	if errors.As(err, &se) {
		return KindSubprocessNonZero
	}
	return KindUnknown
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}

// Describe renders the single line printed to the user on failure.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Error()
	}
	var se *SubprocessError
	if errors.As(err, &se) {
		return KindSubprocessNonZero.String() + ": " + se.Error()
	}
	return err.Error()
}
