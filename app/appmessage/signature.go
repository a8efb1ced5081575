package appmessage

import (
	"fmt"
	"sync/atomic"
	"time"
)

// VerificationStatus is the outcome of verifying one signature.
type VerificationStatus int32

// Verification statuses.
const (
	Unverified VerificationStatus = iota
	ValidSignature
	InvalidSignature
)

var verificationStatusToString = map[VerificationStatus]string{
	Unverified:       "Unverified",
	ValidSignature:   "ValidSignature",
	InvalidSignature: "InvalidSignature",
}

func (s VerificationStatus) String() string {
	text, ok := verificationStatusToString[s]
	if !ok {
		return fmt.Sprintf("VerificationStatus(%d)", int32(s))
	}
	return text
}

// Signature is one cryptographic signature attached to a signable message.
// KeyID carries the serialized public key and Value the signature, both
// encoded per EncodingMethod. The verification status is local state and is
// never serialized.
type Signature struct {
	KeyID          string     `json:"keyId"`
	Value          string     `json:"value"`
	Algorithm      string     `json:"algorithm,omitempty"`
	SigningMethod  string     `json:"signingMethod,omitempty"`
	EncodingMethod string     `json:"encodingMethod,omitempty"`
	Name           string     `json:"name,omitempty"`
	Description    string     `json:"description,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`

	status int32
}

// Status returns the verification status.
func (s *Signature) Status() VerificationStatus {
	return VerificationStatus(atomic.LoadInt32(&s.status))
}

// SetStatus records the verification status in place.
func (s *Signature) SetStatus(status VerificationStatus) {
	atomic.StoreInt32(&s.status, int32(status))
}

// key identifies a signature for set membership. Descriptive fields and the
// status do not take part.
func (s *Signature) key() string {
	return s.Algorithm + "\x00" + s.SigningMethod + "\x00" + s.EncodingMethod + "\x00" + s.KeyID + "\x00" + s.Value
}

func (s *Signature) String() string {
	keyID := s.KeyID
	if len(keyID) > 16 {
		keyID = keyID[:16] + "..."
	}
	return fmt.Sprintf("%s signature by %s [%s]", s.Algorithm, keyID, s.Status())
}
