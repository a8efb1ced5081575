package appmessage

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// SignatureSetHash is the aggregate hash of a SignatureSet.
type SignatureSetHash [32]byte

// SignatureSet is the set of signatures attached to a message. Adding a
// signature that is already present is a no-op. The aggregate hash is
// recomputed on every mutation. All access goes through the methods, which
// lock the set.
type SignatureSet struct {
	lock       sync.RWMutex
	signatures []*Signature
	keys       map[string]struct{}
	hash       SignatureSetHash
}

// NewSignatureSet creates a set holding the given signatures.
func NewSignatureSet(signatures ...*Signature) *SignatureSet {
	set := &SignatureSet{keys: make(map[string]struct{})}
	for _, signature := range signatures {
		set.addNoLock(signature)
	}
	set.rehashNoLock()
	return set
}

// Add adds signature and reports whether it was not already present.
func (s *SignatureSet) Add(signature *Signature) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.addNoLock(signature) {
		return false
	}
	s.rehashNoLock()
	return true
}

// Remove removes the signature equal to signature and reports whether it
// was present.
func (s *SignatureSet) Remove(signature *Signature) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	key := signature.key()
	if _, ok := s.keys[key]; !ok {
		return false
	}
	delete(s.keys, key)
	for i, existing := range s.signatures {
		if existing.key() == key {
			s.signatures = append(s.signatures[:i:i], s.signatures[i+1:]...)
			break
		}
	}
	s.rehashNoLock()
	return true
}

// Snapshot returns the signatures in insertion order. The returned slice is
// a copy, the signatures themselves are shared so that statuses set during
// verification are visible through the set.
func (s *SignatureSet) Snapshot() []*Signature {
	s.lock.RLock()
	defer s.lock.RUnlock()

	snapshot := make([]*Signature, len(s.signatures))
	copy(snapshot, s.signatures)
	return snapshot
}

// Len returns the number of signatures.
func (s *SignatureSet) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return len(s.signatures)
}

// Contains reports whether a signature equal to signature is present.
func (s *SignatureSet) Contains(signature *Signature) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	_, ok := s.keys[signature.key()]
	return ok
}

// Hash returns the aggregate hash. Equal sets have equal hashes regardless
// of insertion order.
func (s *SignatureSet) Hash() SignatureSetHash {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.hash
}

func (s *SignatureSet) addNoLock(signature *Signature) bool {
	if s.keys == nil {
		s.keys = make(map[string]struct{})
	}
	key := signature.key()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.signatures = append(s.signatures, signature)
	return true
}

func (s *SignatureSet) rehashNoLock() {
	keys := make([]string, 0, len(s.keys))
	for key := range s.keys {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	hasher := sha3.New256()
	for _, key := range keys {
		_, _ = hasher.Write([]byte(key))
		_, _ = hasher.Write([]byte{0})
	}
	copy(s.hash[:], hasher.Sum(nil))
}

// MarshalJSON encodes the set as an array of signatures.
func (s *SignatureSet) MarshalJSON() ([]byte, error) {
	snapshot := s.Snapshot()
	if snapshot == nil {
		snapshot = []*Signature{}
	}
	return json.Marshal(snapshot)
}

// UnmarshalJSON replaces the content of the set with the decoded array.
func (s *SignatureSet) UnmarshalJSON(data []byte) error {
	var signatures []*Signature
	err := json.Unmarshal(data, &signatures)
	if err != nil {
		return errors.Wrap(err, "signatures must be an array of signature objects")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.signatures = nil
	s.keys = make(map[string]struct{}, len(signatures))
	for _, signature := range signatures {
		if signature == nil {
			continue
		}
		s.addNoLock(signature)
	}
	s.rehashNoLock()
	return nil
}
