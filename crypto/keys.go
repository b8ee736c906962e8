package crypto

import (
	"crypto/rand"
	"encoding/hex"

	"filippo.io/edwards25519"
	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/util/binaryserializer"
)

// KeySize is the byte size of public keys, secret keys and key images.
const KeySize = 32

// PublicKey is a compressed edwards25519 point.
type PublicKey [KeySize]byte

// SecretKey is an edwards25519 scalar.
type SecretKey [KeySize]byte

// KeyImage is the double-spend tag of a spent output: x * Hp(P) for the
// output's one-time key pair (x, P).
type KeyImage [KeySize]byte

func (pub PublicKey) String() string { return hex.EncodeToString(pub[:]) }
func (ki KeyImage) String() string   { return hex.EncodeToString(ki[:]) }

// ErrInvalidKey is returned when a byte string does not decode to a valid
// curve point or scalar.
var ErrInvalidKey = errors.New("invalid key encoding")

// GenerateKeys returns a fresh random key pair.
func GenerateKeys() (PublicKey, SecretKey, error) {
	var seed [64]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return PublicKey{}, SecretKey{}, errors.WithStack(err)
	}
	sec, err := edwards25519.NewScalar().SetUniformBytes(seed[:])
	if err != nil {
		return PublicKey{}, SecretKey{}, errors.WithStack(err)
	}
	return keysFromScalar(sec)
}

func keysFromScalar(sec *edwards25519.Scalar) (PublicKey, SecretKey, error) {
	var secretKey SecretKey
	var publicKey PublicKey
	copy(secretKey[:], sec.Bytes())
	point := new(edwards25519.Point).ScalarBaseMult(sec)
	copy(publicKey[:], point.Bytes())
	return publicKey, secretKey, nil
}

// PublicFromSecret derives the public key of the given secret key.
func PublicFromSecret(sec SecretKey) (PublicKey, error) {
	scalar, err := sec.scalar()
	if err != nil {
		return PublicKey{}, err
	}
	var pub PublicKey
	copy(pub[:], new(edwards25519.Point).ScalarBaseMult(scalar).Bytes())
	return pub, nil
}

// CheckKey returns whether the public key decodes to a valid curve point.
func CheckKey(pub PublicKey) bool {
	_, err := pub.point()
	return err == nil
}

func (sec SecretKey) scalar() (*edwards25519.Scalar, error) {
	scalar, err := edwards25519.NewScalar().SetCanonicalBytes(sec[:])
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, "non-canonical scalar")
	}
	return scalar, nil
}

func (pub PublicKey) point() (*edwards25519.Point, error) {
	point, err := new(edwards25519.Point).SetBytes(pub[:])
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, "not a curve point")
	}
	return point, nil
}

func (ki KeyImage) point() (*edwards25519.Point, error) {
	point, err := new(edwards25519.Point).SetBytes(ki[:])
	if err != nil {
		return nil, errors.Wrap(ErrInvalidKey, "key image is not a curve point")
	}
	return point, nil
}

// hashToScalar reduces the Keccak hash chain of data to a scalar.
func hashToScalar(data []byte) *edwards25519.Scalar {
	h1 := FastHash(data)
	h2 := FastHash(h1[:])
	var wide [64]byte
	copy(wide[:32], h1[:])
	copy(wide[32:], h2[:])
	scalar, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		// SetUniformBytes cannot fail on a 64-byte input.
		panic(err)
	}
	return scalar
}

// HashToScalar reduces the Keccak hash chain of data to a canonical scalar
// encoding. It is the Hs() of the signature scheme.
func HashToScalar(data []byte) SecretKey {
	var out SecretKey
	copy(out[:], hashToScalar(data).Bytes())
	return out
}

// hashToPoint maps arbitrary data onto the prime-order subgroup. It hashes
// with an incrementing counter until the digest decodes as a point, then
// clears the cofactor. The Hp() of the key image construction.
func hashToPoint(data []byte) *edwards25519.Point {
	buf := make([]byte, 0, len(data)+binaryserializer.MaxVarIntPayload)
	buf = append(buf, data...)
	for counter := uint64(0); ; counter++ {
		attempt := buf
		for v := counter; ; v >>= 7 {
			if v < 0x80 {
				attempt = append(attempt, byte(v))
				break
			}
			attempt = append(attempt, byte(v)|0x80)
		}
		digest := FastHash(attempt)
		point, err := new(edwards25519.Point).SetBytes(digest[:])
		if err != nil {
			continue
		}
		return point.MultByCofactor(point)
	}
}

// GenerateKeyImage computes the key image x * Hp(P) of the one-time key pair.
func GenerateKeyImage(pub PublicKey, sec SecretKey) (KeyImage, error) {
	scalar, err := sec.scalar()
	if err != nil {
		return KeyImage{}, err
	}
	point := hashToPoint(pub[:])
	var image KeyImage
	copy(image[:], point.ScalarMult(scalar, point).Bytes())
	return image, nil
}

// randomScalar returns a uniformly random scalar.
func randomScalar() (*edwards25519.Scalar, error) {
	var seed [64]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, errors.WithStack(err)
	}
	return edwards25519.NewScalar().SetUniformBytes(seed[:])
}

// KeyDerivation is the shared secret point of a transaction key and an
// address view key, used to derive one-time output keys.
type KeyDerivation [KeySize]byte

// GenerateKeyDerivation computes the shared derivation 8 * sec * pub.
func GenerateKeyDerivation(pub PublicKey, sec SecretKey) (KeyDerivation, error) {
	point, err := pub.point()
	if err != nil {
		return KeyDerivation{}, err
	}
	scalar, err := sec.scalar()
	if err != nil {
		return KeyDerivation{}, err
	}
	point.ScalarMult(scalar, point)
	point.MultByCofactor(point)
	var derivation KeyDerivation
	copy(derivation[:], point.Bytes())
	return derivation, nil
}

// derivationToScalar hashes (derivation, outputIndex) to a scalar.
func derivationToScalar(derivation KeyDerivation, outputIndex uint64) *edwards25519.Scalar {
	buf := make([]byte, 0, KeySize+binaryserializer.MaxVarIntPayload)
	buf = append(buf, derivation[:]...)
	for v := outputIndex; ; v >>= 7 {
		if v < 0x80 {
			buf = append(buf, byte(v))
			break
		}
		buf = append(buf, byte(v)|0x80)
	}
	return hashToScalar(buf)
}

// DerivePublicKey computes the one-time destination key
// Hs(derivation, outputIndex)*G + base for an output.
func DerivePublicKey(derivation KeyDerivation, outputIndex uint64, base PublicKey) (PublicKey, error) {
	basePoint, err := base.point()
	if err != nil {
		return PublicKey{}, err
	}
	scalar := derivationToScalar(derivation, outputIndex)
	point := new(edwards25519.Point).ScalarBaseMult(scalar)
	point.Add(point, basePoint)
	var derived PublicKey
	copy(derived[:], point.Bytes())
	return derived, nil
}

// DeriveSecretKey computes the one-time secret key
// Hs(derivation, outputIndex) + base for an output owned by the caller.
func DeriveSecretKey(derivation KeyDerivation, outputIndex uint64, base SecretKey) (SecretKey, error) {
	baseScalar, err := base.scalar()
	if err != nil {
		return SecretKey{}, err
	}
	scalar := derivationToScalar(derivation, outputIndex)
	scalar.Add(scalar, baseScalar)
	var derived SecretKey
	copy(derived[:], scalar.Bytes())
	return derived, nil
}
