// Package cleanup provides a LIFO stack of teardown actions. Every resource
// the image builder acquires (loopback devices, mounts, temporary directories,
// replaced files) pushes its release onto a Stack, so that both success and
// failure paths unwind in reverse acquisition order.
package cleanup

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Stack is safe for concurrent use.
type Stack struct {
	mu     sync.Mutex
	tasks  []task
	failed *multierror.Error
}

type task struct {
	name string
	fn   func() error
}

func NewStack() *Stack { return &Stack{} }

// Push registers fn to run during Cleanup. name is used in log messages.
func (s *Stack) Push(name string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task{name: name, fn: fn})
}

// Len returns the number of pending tasks.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Cleanup runs all pending tasks in LIFO order. Every task runs, even when an
// earlier one failed. Task failures are logged and recorded (see Err) but
// never returned: Cleanup always returns err, the error of the operation
// being cleaned up after.
//
// Typical use:
//
//	st := cleanup.NewStack()
//	defer func() { err = st.Cleanup(err) }()
func (s *Stack) Cleanup(err error) error {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	for i := len(tasks) - 1; i >= 0; i-- {
		t := tasks[i]
		logrus.Debugf("cleanup: %s", t.name)
		if cerr := t.fn(); cerr != nil {
			logrus.Warnf("cleanup: %s: %v", t.name, cerr)
			s.mu.Lock()
			s.failed = multierror.Append(s.failed, fmt.Errorf("%s: %w", t.name, cerr))
			s.mu.Unlock()
		}
	}
	return err
}

// Err returns the combined errors of all failed teardown tasks so far, or nil.
func (s *Stack) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed.ErrorOrNil()
}
