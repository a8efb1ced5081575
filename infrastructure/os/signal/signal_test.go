package signal

import (
	"testing"
	"time"
)

func TestShutdownRequest(t *testing.T) {
	interrupt := InterruptListener()
	if InterruptRequested(interrupt) {
		t.Fatalf("TestShutdownRequest: interrupted before any request")
	}

	ShutdownRequestChannel <- struct{}{}
	select {
	case <-interrupt:
	case <-time.After(5 * time.Second):
		t.Fatalf("TestShutdownRequest: the shutdown request was not noticed")
	}
	if !InterruptRequested(interrupt) {
		t.Fatalf("TestShutdownRequest: InterruptRequested is false after the interrupt")
	}
}
