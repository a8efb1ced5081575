package signing

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/protocolerrors"
)

// VerificationAction decides how the signatures of a message are judged.
type VerificationAction int

// Verification actions.
const (
	// VerifyAll requires every signature to validate.
	VerifyAll VerificationAction = iota
	// VerifyAny requires at least one signature to validate.
	VerifyAny
	// AcceptUnverified accepts messages without signatures. Signatures that
	// are present must all validate.
	AcceptUnverified
)

var verificationActionToString = map[VerificationAction]string{
	VerifyAll:        "VerifyAll",
	VerifyAny:        "VerifyAny",
	AcceptUnverified: "AcceptUnverified",
}

func (a VerificationAction) String() string {
	text, ok := verificationActionToString[a]
	if !ok {
		return fmt.Sprintf("VerificationAction(%d)", int(a))
	}
	return text
}

// ParseVerificationAction parses the textual form of a VerificationAction,
// ignoring case.
func ParseVerificationAction(text string) (VerificationAction, error) {
	for action, name := range verificationActionToString {
		if strings.EqualFold(strings.TrimSpace(text), name) {
			return action, nil
		}
	}
	return 0, errors.Errorf("unknown verification action %q", text)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *VerificationAction) UnmarshalText(text []byte) error {
	parsed, err := ParseVerificationAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a VerificationAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// SignatureInfo holds the descriptive fields of a new signature.
type SignatureInfo struct {
	Name        string
	Description string
	Timestamp   *time.Time
}

// Sign signs the canonical form of message under context and adds the
// resulting signature to the message's signature set.
func Sign(message appmessage.Signable, context string, keyPair *KeyPair, info *SignatureInfo) (*appmessage.Signature, error) {
	if !keyPair.CanSign() {
		return nil, errors.New("the key pair holds no usable private key")
	}
	canonical, err := Canonicalize(message, context)
	if err != nil {
		return nil, err
	}
	value, err := keyPair.sign(keyPair.algorithm.hash(canonical))
	if err != nil {
		return nil, err
	}

	signature := &appmessage.Signature{
		KeyID:          keyPair.PublicKey,
		Value:          encode(value, keyPair.Encoding),
		Algorithm:      keyPair.Algorithm,
		SigningMethod:  keyPair.algorithm.signingMethod,
		EncodingMethod: keyPair.Encoding,
	}
	if info != nil {
		signature.Name = info.Name
		signature.Description = info.Description
		signature.Timestamp = info.Timestamp
	}
	message.Signatures().Add(signature)
	log.Debugf("Signed %T under %s with %s", message, context, signature)
	return signature, nil
}

// Verify checks the signatures of message under context and records each
// signature's status in place. The returned error explains a false result.
func Verify(message appmessage.Signable, context string, action VerificationAction) (bool, error) {
	return verify(message, context, action, nil)
}

func verify(message appmessage.Signable, context string, action VerificationAction,
	accept func(signature *appmessage.Signature) bool) (bool, error) {

	signatures := message.Signatures().Snapshot()
	if accept != nil {
		accepted := signatures[:0]
		for _, signature := range signatures {
			if accept(signature) {
				accepted = append(accepted, signature)
			}
		}
		signatures = accepted
	}
	if len(signatures) == 0 {
		if action == AcceptUnverified {
			return true, nil
		}
		return false, protocolerrors.New(protocolerrors.NoSignatures, "no signatures present")
	}

	canonical, err := Canonicalize(message, context)
	if err != nil {
		return false, protocolerrors.Wrap(protocolerrors.SignatureInvalid, err, "failed canonicalizing the message")
	}

	valid := 0
	var firstFailure error
	for _, signature := range signatures {
		err := verifySignature(signature, canonical)
		if err != nil {
			signature.SetStatus(appmessage.InvalidSignature)
			if firstFailure == nil {
				firstFailure = err
			}
			continue
		}
		signature.SetStatus(appmessage.ValidSignature)
		valid++
	}

	if action == VerifyAny {
		if valid > 0 {
			return true, nil
		}
		return false, protocolerrors.Wrap(protocolerrors.SignatureInvalid, firstFailure,
			"none of the signatures is valid")
	}
	if valid == len(signatures) {
		return true, nil
	}
	return false, protocolerrors.Wrapf(protocolerrors.SignatureInvalid, firstFailure,
		"%d of %d signatures are invalid", len(signatures)-valid, len(signatures))
}

func verifySignature(signature *appmessage.Signature, canonical []byte) error {
	keyPair, err := ParsePublicKey(signature.Algorithm, signature.EncodingMethod, signature.KeyID)
	if err != nil {
		return errors.Wrapf(err, "unusable key in %s", signature)
	}
	value, err := decode(signature.Value, keyPair.Encoding)
	if err != nil {
		return errors.Wrapf(err, "malformed value in %s", signature)
	}
	ok, err := keyPair.verify(keyPair.algorithm.hash(canonical), value)
	if err != nil {
		return errors.Wrapf(err, "failed verifying %s", signature)
	}
	if !ok {
		return errors.Errorf("%s does not match the message", signature)
	}
	return nil
}
