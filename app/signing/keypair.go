package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"

	"github.com/kaspanet/go-secp256k1"
	"github.com/pkg/errors"
)

// KeyPair holds key material in both serialized and parsed form. A key pair
// with only a public key can verify but not sign.
type KeyPair struct {
	Algorithm  string
	Encoding   string
	PrivateKey string
	PublicKey  string

	algorithm      *algorithm
	ecdsaPrivate   *ecdsa.PrivateKey
	ecdsaPublic    *ecdsa.PublicKey
	schnorrPrivate *secp256k1.SchnorrKeyPair
	schnorrPublic  *secp256k1.SchnorrPublicKey
}

// GenerateKeyPair creates a random key pair for the given algorithm, encoded
// as base64.
func GenerateKeyPair(algorithmName string) (*KeyPair, error) {
	alg := lookupAlgorithm(algorithmName)
	if alg.isSchnorr() {
		// Random scalars outside the curve order are rejected by the
		// deserializer, so draw until one is accepted.
		for attempt := 0; attempt < 16; attempt++ {
			privateKeyBytes := make([]byte, alg.privateKeySize())
			_, err := rand.Read(privateKeyBytes)
			if err != nil {
				return nil, errors.Wrap(err, "failed reading random bytes")
			}
			_, err = secp256k1.DeserializeSchnorrPrivateKeyFromSlice(privateKeyBytes)
			if err == nil {
				return ParseKeyPair(alg.name, EncodingBase64, encode(privateKeyBytes, EncodingBase64), "")
			}
		}
		return nil, errors.New("failed generating a secp256k1 key pair")
	}

	privateKey, err := ecdsa.GenerateKey(alg.curve, rand.Reader)
	if err != nil {
		return nil, errors.Wrapf(err, "failed generating a %s key pair", alg.name)
	}
	return ParseKeyPair(alg.name, EncodingBase64, encode(serializeECDSAPrivateKey(alg, privateKey), EncodingBase64), "")
}

// ParseKeyPair parses serialized key material. The public key may be empty,
// in which case it is derived from the private key; if both are given they
// must match.
func ParseKeyPair(algorithmName, encoding, privateKey, publicKey string) (*KeyPair, error) {
	alg := lookupAlgorithm(algorithmName)
	keyPair := &KeyPair{
		Algorithm: alg.name,
		Encoding:  normalizeEncoding(encoding),
		algorithm: alg,
	}
	if privateKey == "" {
		return nil, errors.New("private key must not be empty")
	}
	privateKeyBytes, err := decode(privateKey, keyPair.Encoding)
	if err != nil {
		return nil, errors.Wrap(err, "malformed private key")
	}
	if len(privateKeyBytes) != alg.privateKeySize() {
		return nil, errors.Errorf("malformed private key: expected %d bytes for %s but got %d",
			alg.privateKeySize(), alg.name, len(privateKeyBytes))
	}

	var derivedPublicKey []byte
	if alg.isSchnorr() {
		keyPair.schnorrPrivate, err = secp256k1.DeserializeSchnorrPrivateKeyFromSlice(privateKeyBytes)
		if err != nil {
			return nil, errors.Wrap(err, "malformed secp256k1 private key")
		}
		keyPair.schnorrPublic, err = keyPair.schnorrPrivate.SchnorrPublicKey()
		if err != nil {
			return nil, errors.Wrap(err, "failed deriving the secp256k1 public key")
		}
		serializedPublicKey, err := keyPair.schnorrPublic.Serialize()
		if err != nil {
			return nil, errors.Wrap(err, "failed serializing the secp256k1 public key")
		}
		derivedPublicKey = serializedPublicKey[:]
	} else {
		d := new(big.Int).SetBytes(privateKeyBytes)
		if d.Sign() == 0 || d.Cmp(alg.curve.Params().N) >= 0 {
			return nil, errors.Errorf("malformed private key: scalar out of range for %s", alg.name)
		}
		keyPair.ecdsaPrivate = &ecdsa.PrivateKey{D: d}
		keyPair.ecdsaPrivate.Curve = alg.curve
		keyPair.ecdsaPrivate.X, keyPair.ecdsaPrivate.Y = alg.curve.ScalarBaseMult(privateKeyBytes)
		keyPair.ecdsaPublic = &keyPair.ecdsaPrivate.PublicKey
		derivedPublicKey = elliptic.Marshal(alg.curve, keyPair.ecdsaPublic.X, keyPair.ecdsaPublic.Y)
	}

	keyPair.PrivateKey = encode(privateKeyBytes, keyPair.Encoding)
	keyPair.PublicKey = encode(derivedPublicKey, keyPair.Encoding)
	if publicKey != "" && publicKey != keyPair.PublicKey {
		return nil, errors.Errorf("the public key does not belong to the private key")
	}
	return keyPair, nil
}

// ParsePublicKey parses a verification-only key pair.
func ParsePublicKey(algorithmName, encoding, publicKey string) (*KeyPair, error) {
	alg := lookupAlgorithm(algorithmName)
	keyPair := &KeyPair{
		Algorithm: alg.name,
		Encoding:  normalizeEncoding(encoding),
		PublicKey: publicKey,
		algorithm: alg,
	}
	publicKeyBytes, err := decode(publicKey, keyPair.Encoding)
	if err != nil {
		return nil, errors.Wrap(err, "malformed public key")
	}
	err = keyPair.parsePublicKeyBytes(publicKeyBytes)
	if err != nil {
		return nil, err
	}
	return keyPair, nil
}

func (kp *KeyPair) parsePublicKeyBytes(publicKeyBytes []byte) error {
	if kp.algorithm.isSchnorr() {
		publicKey, err := secp256k1.DeserializeSchnorrPubKey(publicKeyBytes)
		if err != nil {
			return errors.Wrap(err, "malformed secp256k1 public key")
		}
		kp.schnorrPublic = publicKey
		return nil
	}
	x, y := elliptic.Unmarshal(kp.algorithm.curve, publicKeyBytes)
	if x == nil {
		return errors.Errorf("malformed public key: not a point on %s", kp.algorithm.name)
	}
	kp.ecdsaPublic = &ecdsa.PublicKey{Curve: kp.algorithm.curve, X: x, Y: y}
	return nil
}

// CanSign reports whether both serialized and parsed private key material
// is present.
func (kp *KeyPair) CanSign() bool {
	return kp != nil && kp.PrivateKey != "" && kp.PublicKey != "" &&
		(kp.ecdsaPrivate != nil || kp.schnorrPrivate != nil)
}

// CanVerify reports whether public key material is present.
func (kp *KeyPair) CanVerify() bool {
	return kp != nil && kp.PublicKey != "" && (kp.ecdsaPublic != nil || kp.schnorrPublic != nil)
}

// PublicOnly returns a copy of kp without the private key.
func (kp *KeyPair) PublicOnly() *KeyPair {
	return &KeyPair{
		Algorithm:     kp.Algorithm,
		Encoding:      kp.Encoding,
		PublicKey:     kp.PublicKey,
		algorithm:     kp.algorithm,
		ecdsaPublic:   kp.ecdsaPublic,
		schnorrPublic: kp.schnorrPublic,
	}
}

func (kp *KeyPair) sign(digest []byte) ([]byte, error) {
	if kp.algorithm.isSchnorr() {
		var hash secp256k1.Hash
		copy(hash[:], digest)
		signature, err := kp.schnorrPrivate.SchnorrSign(&hash)
		if err != nil {
			return nil, errors.Wrap(err, "secp256k1 signing failed")
		}
		serialized := signature.Serialize()
		return serialized[:], nil
	}
	signature, err := ecdsa.SignASN1(rand.Reader, kp.ecdsaPrivate, digest)
	if err != nil {
		return nil, errors.Wrapf(err, "%s signing failed", kp.algorithm.name)
	}
	return signature, nil
}

func (kp *KeyPair) verify(digest []byte, signature []byte) (bool, error) {
	if kp.algorithm.isSchnorr() {
		parsedSignature, err := secp256k1.DeserializeSchnorrSignatureFromSlice(signature)
		if err != nil {
			return false, errors.Wrap(err, "malformed secp256k1 signature")
		}
		var hash secp256k1.Hash
		copy(hash[:], digest)
		return kp.schnorrPublic.SchnorrVerify(&hash, parsedSignature), nil
	}
	return ecdsa.VerifyASN1(kp.ecdsaPublic, digest, signature), nil
}

func serializeECDSAPrivateKey(alg *algorithm, privateKey *ecdsa.PrivateKey) []byte {
	serialized := make([]byte, alg.privateKeySize())
	privateKey.D.FillBytes(serialized)
	return serialized
}
