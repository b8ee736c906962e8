package crypto

import (
	"filippo.io/edwards25519"
	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// SignatureSize is the byte size of a single ring member signature: the
// challenge scalar c followed by the response scalar r.
const SignatureSize = 64

// Signature is one ring member's (c, r) pair.
type Signature [SignatureSize]byte

// ErrRingSignature is returned for a structurally invalid ring signature
// input: an empty ring or a secret index out of range. Malformed keys are
// reported as ErrInvalidKey.
var ErrRingSignature = errors.New("invalid ring signature input")

// ringChallenge hashes the signed prefix followed by all (L, R) commitment
// pairs into the aggregate challenge scalar.
func ringChallenge(prefixHash cryptohash.Hash, commitments []byte) *edwards25519.Scalar {
	buf := make([]byte, 0, cryptohash.HashSize+len(commitments))
	buf = append(buf, prefixHash[:]...)
	buf = append(buf, commitments...)
	return hashToScalar(buf)
}

// GenerateRingSignature produces a ring signature over prefixHash proving
// that the signer owns the output behind one of the ring member keys, without
// revealing which. secIndex is the position of the signer's key in pubs and
// sec its one-time secret key. The key image must be the one generated for
// (pubs[secIndex], sec).
func GenerateRingSignature(prefixHash cryptohash.Hash, keyImage KeyImage,
	pubs []PublicKey, sec SecretKey, secIndex int) ([]Signature, error) {

	if len(pubs) == 0 || secIndex < 0 || secIndex >= len(pubs) {
		return nil, errors.WithStack(ErrRingSignature)
	}

	secScalar, err := sec.scalar()
	if err != nil {
		return nil, err
	}
	imagePoint, err := keyImage.point()
	if err != nil {
		return nil, err
	}

	sigs := make([]Signature, len(pubs))
	challenges := make([]*edwards25519.Scalar, len(pubs))
	responses := make([]*edwards25519.Scalar, len(pubs))
	commitments := make([]byte, 0, len(pubs)*2*KeySize)
	sum := edwards25519.NewScalar()

	var q *edwards25519.Scalar
	for i, pub := range pubs {
		if i == secIndex {
			q, err = randomScalar()
			if err != nil {
				return nil, err
			}
			// L = q*G, R = q*Hp(P).
			l := new(edwards25519.Point).ScalarBaseMult(q)
			hp := hashToPoint(pub[:])
			r := new(edwards25519.Point).ScalarMult(q, hp)
			commitments = append(commitments, l.Bytes()...)
			commitments = append(commitments, r.Bytes()...)
			continue
		}

		pubPoint, err := pub.point()
		if err != nil {
			return nil, err
		}
		challenges[i], err = randomScalar()
		if err != nil {
			return nil, err
		}
		responses[i], err = randomScalar()
		if err != nil {
			return nil, err
		}

		// L = r*G + c*P, R = r*Hp(P) + c*I.
		l := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(challenges[i], pubPoint, responses[i])
		hp := hashToPoint(pub[:])
		r := new(edwards25519.Point).ScalarMult(responses[i], hp)
		r.Add(r, new(edwards25519.Point).ScalarMult(challenges[i], imagePoint))
		commitments = append(commitments, l.Bytes()...)
		commitments = append(commitments, r.Bytes()...)
		sum.Add(sum, challenges[i])
	}

	// Close the ring: c_s = H(prefix, L.., R..) - sum, r_s = q - c_s*x.
	c := ringChallenge(prefixHash, commitments)
	challenges[secIndex] = edwards25519.NewScalar().Subtract(c, sum)
	responses[secIndex] = edwards25519.NewScalar().Subtract(q,
		edwards25519.NewScalar().Multiply(challenges[secIndex], secScalar))

	for i := range pubs {
		copy(sigs[i][:KeySize], challenges[i].Bytes())
		copy(sigs[i][KeySize:], responses[i].Bytes())
	}
	return sigs, nil
}

// CheckRingSignature verifies a ring signature over prefixHash for the given
// ring member keys and key image.
func CheckRingSignature(prefixHash cryptohash.Hash, keyImage KeyImage,
	pubs []PublicKey, sigs []Signature) bool {

	if len(pubs) == 0 || len(sigs) != len(pubs) {
		return false
	}
	imagePoint, err := keyImage.point()
	if err != nil {
		return false
	}
	if imagePoint.Equal(edwards25519.NewIdentityPoint()) == 1 {
		return false
	}

	commitments := make([]byte, 0, len(pubs)*2*KeySize)
	sum := edwards25519.NewScalar()
	for i, pub := range pubs {
		pubPoint, err := pub.point()
		if err != nil {
			return false
		}
		c, err := edwards25519.NewScalar().SetCanonicalBytes(sigs[i][:KeySize])
		if err != nil {
			return false
		}
		r, err := edwards25519.NewScalar().SetCanonicalBytes(sigs[i][KeySize:])
		if err != nil {
			return false
		}

		l := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(c, pubPoint, r)
		hp := hashToPoint(pub[:])
		rp := new(edwards25519.Point).ScalarMult(r, hp)
		rp.Add(rp, new(edwards25519.Point).ScalarMult(c, imagePoint))
		commitments = append(commitments, l.Bytes()...)
		commitments = append(commitments, rp.Bytes()...)
		sum.Add(sum, c)
	}

	expected := ringChallenge(prefixHash, commitments)
	return expected.Equal(sum) == 1
}
