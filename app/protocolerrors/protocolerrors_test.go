package protocolerrors

import (
	"testing"

	"github.com/pkg/errors"
)

func TestKindOf(t *testing.T) {
	base := errors.New("connection reset")
	err := Wrapf(TransportFailure, base, "sending to %s", "cs-1")

	kind, ok := KindOf(err)
	if !ok || kind != TransportFailure {
		t.Fatalf("TestKindOf: expected TransportFailure but got (%s, %t)", kind, ok)
	}
	if !errors.Is(err, base) {
		t.Fatalf("TestKindOf: the cause must stay reachable")
	}
	if err.Error() != "sending to cs-1: connection reset" {
		t.Fatalf("TestKindOf: unexpected message %q", err)
	}

	wrappedTwice := errors.Wrap(err, "forwarding")
	if kind, ok := KindOf(wrappedTwice); !ok || kind != TransportFailure {
		t.Fatalf("TestKindOf: kind must be found through plain wrapping")
	}
	if _, ok := KindOf(base); ok {
		t.Fatalf("TestKindOf: plain errors have no kind")
	}
}

func TestIsNestedKinds(t *testing.T) {
	inner := New(NoSignatures, "no signatures present")
	outer := Wrap(PolicyRejection, inner, "verification failed")

	if !Is(outer, PolicyRejection) || !Is(outer, NoSignatures) {
		t.Fatalf("TestIsNestedKinds: both kinds must be found")
	}
	if Is(outer, Timeout) {
		t.Fatalf("TestIsNestedKinds: unexpected kind found")
	}
	if Errorf(FormatError, "bad %s", "frame").Error() != "bad frame" {
		t.Fatalf("TestIsNestedKinds: Errorf must format its message")
	}
}
