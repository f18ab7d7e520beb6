// Package crypto collects the cryptographic primitives shared by the cipher
// session (C3), the peer authentication state machine (C4), and the plugin
// file codec (C7): X25519 key agreement, XChaCha20-Poly1305 AEAD, Ed25519
// challenge signatures, and MLDSA (ML-DSA / Dilithium) plugin signatures.
package crypto

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode2"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/cloudflare/circl/sign/dilithium/mode5"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// MLDSALevel identifies one of the three NIST ML-DSA security levels, named
// in the plugin file format (§4.7) by the historical Dilithium parameter
// set it corresponds to.
type MLDSALevel uint8

const (
	MLDSA44 MLDSALevel = 44
	MLDSA65 MLDSALevel = 65
	MLDSA87 MLDSALevel = 87
)

// PublicKeySize and SignatureSize return the wire sizes for a given level, as
// used by the plugin file codec to compute L_pk and L_sig.
func PublicKeySize(level MLDSALevel) (int, error) {
	switch level {
	case MLDSA44:
		return mode2.PublicKeySize, nil
	case MLDSA65:
		return mode3.PublicKeySize, nil
	case MLDSA87:
		return mode5.PublicKeySize, nil
	default:
		return 0, fmt.Errorf("crypto: unknown mldsa level %d", level)
	}
}

func SignatureSize(level MLDSALevel) (int, error) {
	switch level {
	case MLDSA44:
		return mode2.SignatureSize, nil
	case MLDSA65:
		return mode3.SignatureSize, nil
	case MLDSA87:
		return mode5.SignatureSize, nil
	default:
		return 0, fmt.Errorf("crypto: unknown mldsa level %d", level)
	}
}

// MLDSAVerify verifies sig over msg under pub at the given security level.
func MLDSAVerify(level MLDSALevel, pub, msg, sig []byte) (bool, error) {
	switch level {
	case MLDSA44:
		var pk mode2.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return false, err
		}
		return mode2.Verify(&pk, msg, sig), nil
	case MLDSA65:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return false, err
		}
		return mode3.Verify(&pk, msg, sig), nil
	case MLDSA87:
		var pk mode5.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return false, err
		}
		return mode5.Verify(&pk, msg, sig), nil
	default:
		return false, fmt.Errorf("crypto: unknown mldsa level %d", level)
	}
}

// MLDSAKeypair generates a fresh keypair at the given level, mainly used by
// plugin signing tooling and tests.
func MLDSAKeypair(level MLDSALevel) (pub, priv []byte, err error) {
	switch level {
	case MLDSA44:
		pk, sk, err := mode2.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return pk.Bytes(), sk.Bytes(), nil
	case MLDSA65:
		pk, sk, err := mode3.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return pk.Bytes(), sk.Bytes(), nil
	case MLDSA87:
		pk, sk, err := mode5.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return pk.Bytes(), sk.Bytes(), nil
	default:
		return nil, nil, fmt.Errorf("crypto: unknown mldsa level %d", level)
	}
}

// MLDSASign signs msg with a packed private key at the given level.
func MLDSASign(level MLDSALevel, priv, msg []byte) ([]byte, error) {
	switch level {
	case MLDSA44:
		var sk mode2.PrivateKey
		if err := sk.UnmarshalBinary(priv); err != nil {
			return nil, err
		}
		return sk.Sign(rand.Reader, msg, crypto.Hash(0))
	case MLDSA65:
		var sk mode3.PrivateKey
		if err := sk.UnmarshalBinary(priv); err != nil {
			return nil, err
		}
		return sk.Sign(rand.Reader, msg, crypto.Hash(0))
	case MLDSA87:
		var sk mode5.PrivateKey
		if err := sk.UnmarshalBinary(priv); err != nil {
			return nil, err
		}
		return sk.Sign(rand.Reader, msg, crypto.Hash(0))
	default:
		return nil, fmt.Errorf("crypto: unknown mldsa level %d", level)
	}
}

//---------------------------------------------------------------------
// X25519 key agreement
//---------------------------------------------------------------------

// KeyPair is an X25519 keypair used for the cipher session ECDH exchange.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair creates a fresh X25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Public[:], pub)
	return &kp, nil
}

// SharedSecret computes the X25519 shared secret between a local private key
// and a remote public key.
func SharedSecret(priv [32]byte, peerPub []byte) ([]byte, error) {
	if len(peerPub) != 32 {
		return nil, errors.New("crypto: peer public key must be 32 bytes")
	}
	return curve25519.X25519(priv[:], peerPub)
}

//---------------------------------------------------------------------
// XChaCha20-Poly1305 AEAD
//---------------------------------------------------------------------

// Encrypt returns nonce || ciphertext || tag using XChaCha20-Poly1305.
func Encrypt(key, plaintext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("crypto: key must be 32 bytes")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, plaintext, aad)
	return append(nonce, ct...), nil
}

// Decrypt verifies and opens a blob produced by Encrypt.
func Decrypt(key, blob, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("crypto: key must be 32 bytes")
	}
	minLen := chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(blob) < minLen {
		return nil, errors.New("crypto: ciphertext too short")
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}

//---------------------------------------------------------------------
// Ed25519 challenge signatures
//---------------------------------------------------------------------

// SignChallenge signs a challenge nonce with an Ed25519 private key.
func SignChallenge(priv ed25519.PrivateKey, challenge []byte) []byte {
	return ed25519.Sign(priv, challenge)
}

// VerifyChallenge verifies a challenge-response signature in constant time
// with respect to the comparison step performed by ed25519.Verify itself;
// failure paths never branch on secret data.
func VerifyChallenge(pub ed25519.PublicKey, challenge, response []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, challenge, response)
}

// ConstantTimeEqual reports whether a and b are equal using a constant-time
// comparison, for any secondary identity/checksum checks on the auth path.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
