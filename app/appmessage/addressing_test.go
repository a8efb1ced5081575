package appmessage

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		input         string
		expected      NodeID
		expectedValid bool
	}{
		{"cs-001", "cs-001", true},
		{"  relay-7\t", "relay-7", true},
		{"", "", false},
		{"   ", "", false},
	}
	for _, test := range tests {
		nodeID, ok := TryParseNodeID(test.input)
		if ok != test.expectedValid || nodeID != test.expected {
			t.Errorf("TestParseNodeID: %q: expected (%s, %t) but got (%s, %t)",
				test.input, test.expected, test.expectedValid, nodeID, ok)
		}
		_, err := ParseNodeID(test.input)
		if (err == nil) != test.expectedValid {
			t.Errorf("TestParseNodeID: %q: unexpected error state: %v", test.input, err)
		}
	}
}

func TestNodeIDCaseInsensitivity(t *testing.T) {
	a := NodeID("Station-A")
	b := NodeID("station-a")
	if !a.Equal(b) || a.Compare(b) != 0 || a.Key() != b.Key() {
		t.Fatalf("TestNodeIDCaseInsensitivity: %s and %s must be equal", a, b)
	}
	if NodeID("alpha").Compare("BETA") != -1 {
		t.Fatalf("TestNodeIDCaseInsensitivity: ordering must ignore case")
	}
	if !NodeID("csms").Equal(CSMSNodeID) {
		t.Fatalf("TestNodeIDCaseInsensitivity: reserved ids must compare case-insensitively")
	}
	if !ZeroNodeID.IsZero() || !NodeID("").IsZero() || CSMSNodeID.IsZero() {
		t.Fatalf("TestNodeIDCaseInsensitivity: unexpected IsZero results")
	}
}

func TestNetworkPathAppendDoesNotAlias(t *testing.T) {
	base := NewNetworkPath("cs-1", "relay-1")
	left := base.Append("relay-2")
	right := base.Append("relay-3")

	if base.Len() != 2 {
		t.Fatalf("TestNetworkPathAppendDoesNotAlias: base was modified: %s", base)
	}
	if left.Last() != "relay-2" || right.Last() != "relay-3" {
		t.Fatalf("TestNetworkPathAppendDoesNotAlias: sibling paths share storage: %s / %s", left, right)
	}
	if !left.Contains("RELAY-1") || left.Contains("relay-3") {
		t.Fatalf("TestNetworkPathAppendDoesNotAlias: unexpected Contains results on %s", left)
	}

	hops := left.Hops()
	hops[0] = "tampered"
	if left.Source() != "cs-1" {
		t.Fatalf("TestNetworkPathAppendDoesNotAlias: Hops must return a copy")
	}
}

func TestNetworkPathReverseAndJSON(t *testing.T) {
	path := NewNetworkPath("cs-1", "relay-1", "csms")
	reversed := path.Reverse()
	if !reversed.Equal(NewNetworkPath("CSMS", "relay-1", "cs-1")) {
		t.Fatalf("TestNetworkPathReverseAndJSON: unexpected reverse %s", reversed)
	}

	encoded, err := json.Marshal(path)
	if err != nil {
		t.Fatalf("TestNetworkPathReverseAndJSON: Marshal: %+v", err)
	}
	if string(encoded) != `["cs-1","relay-1","csms"]` {
		t.Fatalf("TestNetworkPathReverseAndJSON: unexpected encoding %s", encoded)
	}
	var decoded NetworkPath
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("TestNetworkPathReverseAndJSON: Unmarshal: %+v", err)
	}
	if !decoded.Equal(path) {
		t.Fatalf("TestNetworkPathReverseAndJSON: expected %s but got %s", path, decoded)
	}
	if err := json.Unmarshal([]byte(`["cs-1",""]`), &decoded); err == nil {
		t.Fatalf("TestNetworkPathReverseAndJSON: empty hop accepted")
	}

	empty, err := json.Marshal(EmptyNetworkPath)
	if err != nil || string(empty) != "[]" {
		t.Fatalf("TestNetworkPathReverseAndJSON: empty path encoded as %s (%v)", empty, err)
	}
	if EmptyNetworkPath.Source() != ZeroNodeID {
		t.Fatalf("TestNetworkPathReverseAndJSON: empty path must have the zero source")
	}
}

func TestRequestEnvelopeRemainingTimeout(t *testing.T) {
	start := time.Now()
	envelope := &RequestEnvelope{RequestTimestamp: start, RequestTimeout: 10 * time.Second}

	if remaining := envelope.RemainingTimeout(start.Add(4 * time.Second)); remaining != 6*time.Second {
		t.Fatalf("TestRequestEnvelopeRemainingTimeout: expected 6s but got %s", remaining)
	}
	if remaining := envelope.RemainingTimeout(start.Add(time.Minute)); remaining != 0 {
		t.Fatalf("TestRequestEnvelopeRemainingTimeout: expired envelope has %s left", remaining)
	}

	noTimeout := &RequestEnvelope{RequestTimestamp: start}
	if noTimeout.Deadline() != start.Add(DefaultRequestTimeout) {
		t.Fatalf("TestRequestEnvelopeRemainingTimeout: missing timeout must fall back to the default")
	}
}
