package signing

import (
	"crypto"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// Supported curve names.
const (
	Secp256r1 = "secp256r1"
	Secp384r1 = "secp384r1"
	Secp521r1 = "secp521r1"
	Secp256k1 = "secp256k1"
)

// DefaultAlgorithm is used for unrecognized algorithm names.
const DefaultAlgorithm = Secp256r1

// Signing methods recorded on signatures.
const (
	SigningMethodECDSA   = "ECDSA"
	SigningMethodSchnorr = "Schnorr"
)

// Encodings of key material and signature values.
const (
	EncodingBase64 = "base64"
	EncodingHex    = "hex"
)

// algorithm binds a curve to the digest it is used with. Wider curves use a
// wider digest.
type algorithm struct {
	name          string
	curve         elliptic.Curve
	digest        crypto.Hash
	signingMethod string
}

var algorithms = map[string]*algorithm{
	Secp256r1: {name: Secp256r1, curve: elliptic.P256(), digest: crypto.SHA256, signingMethod: SigningMethodECDSA},
	Secp384r1: {name: Secp384r1, curve: elliptic.P384(), digest: crypto.SHA384, signingMethod: SigningMethodECDSA},
	Secp521r1: {name: Secp521r1, curve: elliptic.P521(), digest: crypto.SHA512, signingMethod: SigningMethodECDSA},
	Secp256k1: {name: Secp256k1, digest: crypto.SHA256, signingMethod: SigningMethodSchnorr},
}

var algorithmAliases = map[string]string{
	"p-256":      Secp256r1,
	"p256":       Secp256r1,
	"prime256v1": Secp256r1,
	"p-384":      Secp384r1,
	"p384":       Secp384r1,
	"p-521":      Secp521r1,
	"p521":       Secp521r1,
}

// lookupAlgorithm resolves an algorithm name, falling back to
// DefaultAlgorithm for names it does not recognize.
func lookupAlgorithm(name string) *algorithm {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := algorithmAliases[normalized]; ok {
		normalized = alias
	}
	if found, ok := algorithms[normalized]; ok {
		return found
	}
	return algorithms[DefaultAlgorithm]
}

// NormalizeAlgorithm returns the canonical name of the algorithm name
// resolves to.
func NormalizeAlgorithm(name string) string {
	return lookupAlgorithm(name).name
}

func (a *algorithm) isSchnorr() bool {
	return a.curve == nil
}

func (a *algorithm) hash(data []byte) []byte {
	switch a.digest {
	case crypto.SHA384:
		sum := sha512.Sum384(data)
		return sum[:]
	case crypto.SHA512:
		sum := sha512.Sum512(data)
		return sum[:]
	default:
		sum := sha256.Sum256(data)
		return sum[:]
	}
}

func (a *algorithm) privateKeySize() int {
	if a.isSchnorr() {
		return 32
	}
	return (a.curve.Params().BitSize + 7) / 8
}

func encode(data []byte, encoding string) string {
	if strings.EqualFold(encoding, EncodingHex) {
		return hex.EncodeToString(data)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func decode(text string, encoding string) ([]byte, error) {
	if strings.EqualFold(encoding, EncodingHex) {
		data, err := hex.DecodeString(text)
		return data, errors.Wrap(err, "invalid hex")
	}
	data, err := base64.StdEncoding.DecodeString(text)
	return data, errors.Wrap(err, "invalid base64")
}

func normalizeEncoding(encoding string) string {
	if strings.EqualFold(encoding, EncodingHex) {
		return EncodingHex
	}
	return EncodingBase64
}
