package crypto

import (
	"testing"
)

func testRing(t *testing.T, ringSize, secIndex int) ([]PublicKey, SecretKey, KeyImage) {
	t.Helper()
	pubs := make([]PublicKey, ringSize)
	var sec SecretKey
	for i := range pubs {
		pub, memberSec, err := GenerateKeys()
		if err != nil {
			t.Fatalf("GenerateKeys: %v", err)
		}
		pubs[i] = pub
		if i == secIndex {
			sec = memberSec
		}
	}
	image, err := GenerateKeyImage(pubs[secIndex], sec)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %v", err)
	}
	return pubs, sec, image
}

func TestRingSignatureRoundTrip(t *testing.T) {
	prefix := FastHash([]byte("spend"))

	for _, ringSize := range []int{1, 2, 5, 11} {
		secIndex := ringSize / 2
		pubs, sec, image := testRing(t, ringSize, secIndex)

		sigs, err := GenerateRingSignature(prefix, image, pubs, sec, secIndex)
		if err != nil {
			t.Fatalf("ring size %d: GenerateRingSignature: %v", ringSize, err)
		}
		if len(sigs) != ringSize {
			t.Fatalf("ring size %d: got %d signatures", ringSize, len(sigs))
		}
		if !CheckRingSignature(prefix, image, pubs, sigs) {
			t.Errorf("ring size %d: valid signature rejected", ringSize)
		}
	}
}

func TestRingSignatureRejections(t *testing.T) {
	prefix := FastHash([]byte("spend"))
	pubs, sec, image := testRing(t, 4, 1)
	sigs, err := GenerateRingSignature(prefix, image, pubs, sec, 1)
	if err != nil {
		t.Fatalf("GenerateRingSignature: %v", err)
	}

	// Wrong signed prefix.
	otherPrefix := FastHash([]byte("other"))
	if CheckRingSignature(otherPrefix, image, pubs, sigs) {
		t.Error("signature verified against a different prefix")
	}

	// Tampered response scalar.
	tampered := make([]Signature, len(sigs))
	copy(tampered, sigs)
	tampered[2][KeySize] ^= 0x01
	if CheckRingSignature(prefix, image, pubs, tampered) {
		t.Error("tampered signature verified")
	}

	// Key image swapped for another output's image.
	otherPubs, otherSec, otherImage := testRing(t, 4, 0)
	_ = otherPubs
	_ = otherSec
	if CheckRingSignature(prefix, otherImage, pubs, sigs) {
		t.Error("signature verified under a foreign key image")
	}

	// Ring/signature length mismatch.
	if CheckRingSignature(prefix, image, pubs, sigs[:3]) {
		t.Error("short signature list verified")
	}
}

// TestKeyImageDeterminism checks that the key image depends only on the key
// pair, which is what makes it usable as a double-spend tag.
func TestKeyImageDeterminism(t *testing.T) {
	pub, sec, err := GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	first, err := GenerateKeyImage(pub, sec)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %v", err)
	}
	second, err := GenerateKeyImage(pub, sec)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %v", err)
	}
	if first != second {
		t.Fatalf("key image not deterministic: %s != %s", first, second)
	}
}

func TestDerivedOutputKeys(t *testing.T) {
	// Receiver address keys.
	viewPub, viewSec, err := GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	spendPub, spendSec, err := GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	// Sender's per-transaction key.
	txPub, txSec, err := GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}

	senderDerivation, err := GenerateKeyDerivation(viewPub, txSec)
	if err != nil {
		t.Fatalf("GenerateKeyDerivation(sender): %v", err)
	}
	receiverDerivation, err := GenerateKeyDerivation(txPub, viewSec)
	if err != nil {
		t.Fatalf("GenerateKeyDerivation(receiver): %v", err)
	}
	if senderDerivation != receiverDerivation {
		t.Fatal("sender and receiver derived different shared secrets")
	}

	const outputIndex = 3
	outPub, err := DerivePublicKey(senderDerivation, outputIndex, spendPub)
	if err != nil {
		t.Fatalf("DerivePublicKey: %v", err)
	}
	outSec, err := DeriveSecretKey(receiverDerivation, outputIndex, spendSec)
	if err != nil {
		t.Fatalf("DeriveSecretKey: %v", err)
	}
	recovered, err := PublicFromSecret(outSec)
	if err != nil {
		t.Fatalf("PublicFromSecret: %v", err)
	}
	if recovered != outPub {
		t.Fatalf("derived secret does not open the derived output key: %s != %s",
			recovered, outPub)
	}
}
