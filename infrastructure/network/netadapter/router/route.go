package router

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/protocolerrors"
	"github.com/voltgrid/relayd/app/wireformat"
)

const (
	// DefaultMaxFrames is the default capacity of a route.
	DefaultMaxFrames = 1000
)

var (
	// ErrTimeout signifies that one of the router functions had a timeout.
	ErrTimeout = protocolerrors.New(protocolerrors.Timeout, "timeout expired")

	// ErrRouteClosed indicates that a route was closed while reading/writing.
	ErrRouteClosed = errors.New("route is closed")

	// ErrRouteCapacityReached indicates that route's capacity has been reached
	ErrRouteCapacityReached = protocolerrors.New(protocolerrors.TransportFailure, "route capacity has been reached")
)

// Route is a bounded queue of frames between a connection and the node.
type Route struct {
	name    string
	channel chan wireformat.Frame
	// closed and closeLock are used to protect us from writing to a closed channel
	// reads use the channel's built-in mechanism to check if the channel is closed
	closed    bool
	closeLock sync.Mutex
	capacity  int
}

// NewRoute create a new Route
func NewRoute(name string) *Route {
	return newRouteWithCapacity(name, DefaultMaxFrames)
}

func newRouteWithCapacity(name string, capacity int) *Route {
	return &Route{
		name:     name,
		channel:  make(chan wireformat.Frame, capacity),
		closed:   false,
		capacity: capacity,
	}
}

// Enqueue enqueues a frame to the Route. It never blocks: a full route
// returns ErrRouteCapacityReached.
func (r *Route) Enqueue(frame wireformat.Frame) error {
	r.closeLock.Lock()
	defer r.closeLock.Unlock()

	if r.closed {
		return errors.WithStack(ErrRouteClosed)
	}
	if len(r.channel) == r.capacity {
		return errors.Wrapf(ErrRouteCapacityReached, "route '%s' reached capacity of %d", r.name, r.capacity)
	}
	r.channel <- frame
	return nil
}

// Dequeue dequeues a frame from the Route
func (r *Route) Dequeue() (wireformat.Frame, error) {
	frame, isOpen := <-r.channel
	if !isOpen {
		return wireformat.Frame{}, errors.Wrapf(ErrRouteClosed, "route '%s' is closed", r.name)
	}
	return frame, nil
}

// DequeueWithTimeout attempts to dequeue a frame from the Route
// and returns an error if the given timeout expires first.
func (r *Route) DequeueWithTimeout(timeout time.Duration) (wireformat.Frame, error) {
	select {
	case <-time.After(timeout):
		return wireformat.Frame{}, errors.Wrapf(ErrTimeout, "route '%s' got timeout after %s", r.name, timeout)
	case frame, isOpen := <-r.channel:
		if !isOpen {
			return wireformat.Frame{}, errors.WithStack(ErrRouteClosed)
		}
		return frame, nil
	}
}

// DequeueWithContext attempts to dequeue a frame from the Route until ctx
// is done.
func (r *Route) DequeueWithContext(ctx context.Context) (wireformat.Frame, error) {
	select {
	case <-ctx.Done():
		return wireformat.Frame{}, errors.Wrapf(ctx.Err(), "route '%s'", r.name)
	case frame, isOpen := <-r.channel:
		if !isOpen {
			return wireformat.Frame{}, errors.WithStack(ErrRouteClosed)
		}
		return frame, nil
	}
}

// Close closes this route. Closing it a second time does nothing.
func (r *Route) Close() {
	r.closeLock.Lock()
	defer r.closeLock.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.channel)
}
