package appmessage

import (
	"strings"

	"github.com/pkg/errors"
)

// NodeID identifies a participant of the network: a field device, a
// networking node or a management system. Comparison is case-insensitive, so
// use Equal, Compare and Key rather than the == operator.
type NodeID string

const (
	// ZeroNodeID means "no further routing" when used as a destination.
	ZeroNodeID NodeID = "-"

	// CSMSNodeID is the well-known identifier of the management system.
	CSMSNodeID NodeID = "CSMS"
)

// ParseNodeID trims the given text and returns it as a NodeID. Empty text
// is rejected.
func ParseNodeID(text string) (NodeID, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", errors.Errorf("invalid node id %q: must not be empty", text)
	}
	return NodeID(trimmed), nil
}

// TryParseNodeID is ParseNodeID reporting failure as false.
func TryParseNodeID(text string) (NodeID, bool) {
	nodeID, err := ParseNodeID(text)
	if err != nil {
		return "", false
	}
	return nodeID, true
}

// Equal compares two node ids ignoring case.
func (id NodeID) Equal(other NodeID) bool {
	return strings.EqualFold(string(id), string(other))
}

// Compare orders node ids ignoring case. It returns -1, 0 or 1.
func (id NodeID) Compare(other NodeID) int {
	return strings.Compare(id.Key(), other.Key())
}

// Key returns the normalized form used as a map key.
func (id NodeID) Key() string {
	return strings.ToLower(string(id))
}

// IsZero reports whether id is empty or the ZeroNodeID sentinel.
func (id NodeID) IsZero() bool {
	return id == "" || id.Equal(ZeroNodeID)
}

func (id NodeID) String() string {
	return string(id)
}
