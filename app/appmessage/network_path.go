package appmessage

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// NetworkPath is the ordered list of hops an envelope traveled through. It is
// immutable: Append returns a new path and never writes into the receiver's
// backing array, so paths can be shared between goroutines freely.
type NetworkPath struct {
	hops []NodeID
}

// EmptyNetworkPath has no hops.
var EmptyNetworkPath = NetworkPath{}

// NewNetworkPath creates a path from the given hops.
func NewNetworkPath(hops ...NodeID) NetworkPath {
	if len(hops) == 0 {
		return EmptyNetworkPath
	}
	copied := make([]NodeID, len(hops))
	copy(copied, hops)
	return NetworkPath{hops: copied}
}

// Append returns a new path with hop added at the end.
func (p NetworkPath) Append(hop NodeID) NetworkPath {
	// The three-index slice caps capacity at the current length, forcing
	// append to allocate instead of sharing the tail with sibling paths.
	return NetworkPath{hops: append(p.hops[:len(p.hops):len(p.hops)], hop)}
}

// Len returns the number of hops.
func (p NetworkPath) Len() int {
	return len(p.hops)
}

// IsEmpty reports whether the path has no hops.
func (p NetworkPath) IsEmpty() bool {
	return len(p.hops) == 0
}

// Source returns the first hop, or ZeroNodeID for an empty path.
func (p NetworkPath) Source() NodeID {
	if len(p.hops) == 0 {
		return ZeroNodeID
	}
	return p.hops[0]
}

// Last returns the most recent hop, or ZeroNodeID for an empty path.
func (p NetworkPath) Last() NodeID {
	if len(p.hops) == 0 {
		return ZeroNodeID
	}
	return p.hops[len(p.hops)-1]
}

// Contains reports whether hop already appears on the path.
func (p NetworkPath) Contains(hop NodeID) bool {
	for _, existing := range p.hops {
		if existing.Equal(hop) {
			return true
		}
	}
	return false
}

// Reverse returns the hops in reverse order, the route a response travels.
func (p NetworkPath) Reverse() NetworkPath {
	reversed := make([]NodeID, len(p.hops))
	for i, hop := range p.hops {
		reversed[len(p.hops)-1-i] = hop
	}
	return NetworkPath{hops: reversed}
}

// Hops returns a copy of the hops.
func (p NetworkPath) Hops() []NodeID {
	hops := make([]NodeID, len(p.hops))
	copy(hops, p.hops)
	return hops
}

// Equal compares two paths hop by hop, ignoring case.
func (p NetworkPath) Equal(other NetworkPath) bool {
	if len(p.hops) != len(other.hops) {
		return false
	}
	for i := range p.hops {
		if !p.hops[i].Equal(other.hops[i]) {
			return false
		}
	}
	return true
}

func (p NetworkPath) String() string {
	hops := make([]string, len(p.hops))
	for i, hop := range p.hops {
		hops[i] = string(hop)
	}
	return strings.Join(hops, " -> ")
}

// MarshalJSON encodes the path as an array of node ids.
func (p NetworkPath) MarshalJSON() ([]byte, error) {
	hops := p.hops
	if hops == nil {
		hops = []NodeID{}
	}
	return json.Marshal(hops)
}

// UnmarshalJSON decodes an array of node ids. Empty entries are rejected.
func (p *NetworkPath) UnmarshalJSON(data []byte) error {
	var texts []string
	err := json.Unmarshal(data, &texts)
	if err != nil {
		return errors.Wrap(err, "network path must be an array of node ids")
	}
	hops := make([]NodeID, 0, len(texts))
	for _, text := range texts {
		hop, err := ParseNodeID(text)
		if err != nil {
			return errors.Wrap(err, "invalid network path")
		}
		hops = append(hops, hop)
	}
	*p = NetworkPath{hops: hops}
	return nil
}
