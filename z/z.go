package z

import (
	"os"
	"sync"

	"github.com/elliotcourant/timber"
	"github.com/pkg/errors"
)

const (
	// Sync indicates that O_DSYNC should be set on the underlying file, ensuring that data writes
	// do not return until the data is flushed to disk.
	Sync = 1 << iota
	// ReadOnly opens the underlying file on a read-only basis.
	ReadOnly
)

type (
	// Closer holds the two things we need to close a goroutine and wait for it to finish: a chan
	// to tell the goroutine to shut down, and a WaitGroup with which to wait for it to finish
	// shutting down.
	Closer struct {
		closed  chan struct{}
		waiting sync.WaitGroup
	}
)

// NewCloser constructs a closer with the provided number of goroutines already marked as running.
func NewCloser(initial int) *Closer {
	closer := &Closer{
		closed: make(chan struct{}),
	}
	closer.waiting.Add(initial)
	return closer
}

// AddRunning adds delta to the number of goroutines the closer will wait on.
func (c *Closer) AddRunning(delta int) {
	c.waiting.Add(delta)
}

// Signal tells all of the goroutines watching this closer to shut down.
func (c *Closer) Signal() {
	close(c.closed)
}

// HasBeenClosed returns a channel that is closed once Signal has been called.
func (c *Closer) HasBeenClosed() <-chan struct{} {
	return c.closed
}

// Done should be called by every goroutine that was registered with the closer once it has
// finished shutting down.
func (c *Closer) Done() {
	c.waiting.Done()
}

// Wait blocks until every registered goroutine has called Done.
func (c *Closer) Wait() {
	c.waiting.Wait()
}

// SignalAndWait tells all of the watching goroutines to shut down and then waits for them to
// finish doing so.
func (c *Closer) SignalAndWait() {
	c.Signal()
	c.Wait()
}

// OpenExistingFile opens an existing file, errors if it doesn't exist.
func OpenExistingFile(fileName string, flags uint32) (*os.File, error) {
	openFlags := os.O_RDWR
	if flags&ReadOnly != 0 {
		openFlags = os.O_RDONLY
	}

	if flags&Sync != 0 {
		openFlags |= dataSyncFileFlag
	}
	return os.OpenFile(fileName, openFlags, 0)
}

// OpenTruncFile opens the file with O_RDWR | O_CREATE | O_TRUNC
func OpenTruncFile(fileName string, sync bool) (*os.File, error) {
	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if sync {
		flags |= dataSyncFileFlag
	}
	return os.OpenFile(fileName, flags, 0600)
}

// Check fails the process when err is not nil. Reserved for invariant violations that leave no
// sane recovery path.
func Check(err error) {
	if err != nil {
		timber.Fatalf("check failed: %+v", err)
	}
}

// AssertTrue panics when the condition does not hold.
func AssertTrue(condition bool) {
	if !condition {
		panic(errors.New("assertion failed"))
	}
}

// Wrap annotates an error with a stack trace, returning nil for a nil error.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

// Wrapf annotates an error with a message and stack trace, returning nil for a nil error.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}
