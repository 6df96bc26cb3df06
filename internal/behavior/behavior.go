// Package behavior supervises side-effecting work started on behalf of a
// tree node.
//
// A Behavior runs synchronously, as a single-shot goroutine, or as a stream
// that emits several values before terminating. Every run is bound to an
// owner; cancelling the owner cancels the work and marks its Resolution
// cancelled before the call returns. Results never touch tree state directly:
// they are handed to a Dispatcher, which re-serializes them onto the
// runtime's single writer.
package behavior

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
)

// ID names a behavior. Interception and logging key on it.
type ID string

// Mode selects how a behavior executes.
type Mode int

const (
	// ModeSync runs inline when the handle starts.
	ModeSync Mode = iota + 1
	// ModeAsync runs once on its own goroutine.
	ModeAsync
	// ModeStream runs on its own goroutine and may emit many values.
	ModeStream
)

func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	case ModeStream:
		return "stream"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Func is the body of a sync or async behavior. ctx is cancelled when the
// owner is disposed.
type Func func(ctx context.Context, input any) (any, error)

// StreamFunc is the body of a stream behavior. emit may be called any
// number of times before returning; the returned error decides the terminal
// state.
type StreamFunc func(ctx context.Context, input any, emit func(any)) error

// Behavior is a unit of supervised work.
type Behavior struct {
	ID     ID
	Mode   Mode
	Run    Func
	Stream StreamFunc
}

// Sync declares a behavior that runs inline.
func Sync(id ID, fn Func) Behavior {
	return Behavior{ID: resolveID(id), Mode: ModeSync, Run: fn}
}

// Async declares a single-shot behavior on its own goroutine.
func Async(id ID, fn Func) Behavior {
	return Behavior{ID: resolveID(id), Mode: ModeAsync, Run: fn}
}

// Stream declares a multi-emission behavior.
func Stream(id ID, fn StreamFunc) Behavior {
	return Behavior{ID: resolveID(id), Mode: ModeStream, Stream: fn}
}

// resolveID derives an id from the declaring call site when id is empty.
func resolveID(id ID) ID {
	if id != "" {
		return id
	}
	return CallerID(3)
}

// CallerID derives a behavior id from the call site skip frames above the
// caller, as "file.go:line". Two declarations on different lines never
// share an id.
func CallerID(skip int) ID {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return ID(fmt.Sprintf("%s:%d", filepath.Base(file), line))
}

func (b Behavior) validate() error {
	switch b.Mode {
	case ModeSync, ModeAsync:
		if b.Run == nil {
			return fmt.Errorf("behavior %s: %s mode requires Run", b.ID, b.Mode)
		}
	case ModeStream:
		if b.Stream == nil {
			return fmt.Errorf("behavior %s: stream mode requires Stream", b.ID)
		}
	default:
		return fmt.Errorf("behavior %s: unknown mode %d", b.ID, int(b.Mode))
	}
	return nil
}
