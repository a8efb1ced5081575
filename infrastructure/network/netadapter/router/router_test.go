package router

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/protocolerrors"
	"github.com/voltgrid/relayd/app/wireformat"
)

func TestRouteCapacity(t *testing.T) {
	route := newRouteWithCapacity("test", 2)
	for i := 0; i < 2; i++ {
		err := route.Enqueue(wireformat.Frame{Data: []byte{byte(i)}})
		if err != nil {
			t.Fatalf("TestRouteCapacity: Enqueue %d: %s", i, err)
		}
	}
	err := route.Enqueue(wireformat.Frame{Data: []byte{2}})
	if !errors.Is(err, ErrRouteCapacityReached) {
		t.Fatalf("TestRouteCapacity: expected ErrRouteCapacityReached but got %v", err)
	}
	if !protocolerrors.Is(err, protocolerrors.TransportFailure) {
		t.Fatalf("TestRouteCapacity: expected a transport failure but got %+v", err)
	}

	frame, err := route.Dequeue()
	if err != nil {
		t.Fatalf("TestRouteCapacity: Dequeue: %s", err)
	}
	if frame.Data[0] != 0 {
		t.Fatalf("TestRouteCapacity: frames are not dequeued in order")
	}
}

func TestRouteTimeouts(t *testing.T) {
	route := NewRoute("test")
	_, err := route.DequeueWithTimeout(10 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("TestRouteTimeouts: expected ErrTimeout but got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = route.DequeueWithContext(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("TestRouteTimeouts: expected context.Canceled but got %v", err)
	}
}

func TestRouterClose(t *testing.T) {
	router := NewRouter("test")
	err := router.EnqueueIncomingFrame(wireformat.Frame{Data: []byte("[2]")})
	if err != nil {
		t.Fatalf("TestRouterClose: EnqueueIncomingFrame: %s", err)
	}
	router.Close()
	router.Close()

	// Frames enqueued before closing are still delivered.
	_, err = router.IncomingRoute().Dequeue()
	if err != nil {
		t.Fatalf("TestRouterClose: Dequeue: %s", err)
	}
	_, err = router.IncomingRoute().Dequeue()
	if !errors.Is(err, ErrRouteClosed) {
		t.Fatalf("TestRouterClose: expected ErrRouteClosed but got %v", err)
	}
	err = router.OutgoingRoute().Enqueue(wireformat.Frame{})
	if !errors.Is(err, ErrRouteClosed) {
		t.Fatalf("TestRouterClose: expected ErrRouteClosed but got %v", err)
	}
	_, err = router.OutgoingRoute().DequeueWithTimeout(time.Second)
	if !errors.Is(err, ErrRouteClosed) {
		t.Fatalf("TestRouterClose: expected ErrRouteClosed from DequeueWithTimeout but got %v", err)
	}
}
