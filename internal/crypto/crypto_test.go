package crypto

import (
	"crypto/ed25519"
	"testing"
)

func TestXChaCha20RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("op_net cipher session payload")
	blob, err := Encrypt(key, plaintext, []byte("aad"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	got, err := Decrypt(key, blob, []byte("aad"))
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, plaintext)
	}

	if _, err := Decrypt(key, blob, []byte("wrong-aad")); err == nil {
		t.Fatalf("expected AEAD failure on mismatched aad")
	}
}

func TestX25519SharedSecretAgrees(t *testing.T) {
	a, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair a: %v", err)
	}
	b, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair b: %v", err)
	}
	s1, err := SharedSecret(a.Private, b.Public[:])
	if err != nil {
		t.Fatalf("SharedSecret a->b: %v", err)
	}
	s2, err := SharedSecret(b.Private, a.Public[:])
	if err != nil {
		t.Fatalf("SharedSecret b->a: %v", err)
	}
	if string(s1) != string(s2) {
		t.Fatalf("shared secrets disagree")
	}
}

func TestVerifyChallengeRejectsWrongNonce(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	challenge := []byte("128-byte-challenge-placeholder")
	sig := SignChallenge(priv, challenge)
	if !VerifyChallenge(pub, challenge, sig) {
		t.Fatalf("expected valid challenge to verify")
	}
	if VerifyChallenge(pub, []byte("different-challenge"), sig) {
		t.Fatalf("expected mismatched challenge to fail verification")
	}
}

func TestMLDSARoundTripAllLevels(t *testing.T) {
	for _, level := range []MLDSALevel{MLDSA44, MLDSA65, MLDSA87} {
		level := level
		t.Run(mldsaLevelName(level), func(t *testing.T) {
			pub, priv, err := MLDSAKeypair(level)
			if err != nil {
				t.Fatalf("MLDSAKeypair: %v", err)
			}
			msg := []byte("plugin metadata||bytecode||proto digest")
			sig, err := MLDSASign(level, priv, msg)
			if err != nil {
				t.Fatalf("MLDSASign: %v", err)
			}
			ok, err := MLDSAVerify(level, pub, msg, sig)
			if err != nil {
				t.Fatalf("MLDSAVerify: %v", err)
			}
			if !ok {
				t.Fatalf("expected signature to verify")
			}
			if ok, _ := MLDSAVerify(level, pub, []byte("tampered"), sig); ok {
				t.Fatalf("expected tampered message to fail verification")
			}
		})
	}
}

func mldsaLevelName(l MLDSALevel) string {
	switch l {
	case MLDSA44:
		return "mldsa44"
	case MLDSA65:
		return "mldsa65"
	case MLDSA87:
		return "mldsa87"
	default:
		return "unknown"
	}
}
