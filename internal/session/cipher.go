// Package session implements the per-peer cipher session and authentication
// state machine of the P2P wire protocol (§4.3, §4.4).
package session

import (
	"crypto/ed25519"
	"crypto/subtle"
	"errors"

	"github.com/btc-vision/opnet-node/internal/crypto"
)

// ChallengeSize is the length in bytes of the CSPRNG challenge issued during
// authentication (§4.4 step 1: "128-byte CSPRNG challenge").
const ChallengeSize = 128

// IdentitySize is the expected length of a peer identity digest (§4.4 step
// 2: "64 bytes (SHA-512 size)").
const IdentitySize = 64

// ClientAuthCipherSize is the fixed length of the client signature public
// key presented during Authentication (§4.4 step 1).
const ClientAuthCipherSize = 32

// ErrBadEncryption is returned when encrypt/decrypt is called before
// startEncryption has completed (§4.3 contract).
var ErrBadEncryption = errors.New("BadEncryption: encryption not started")

// ErrBadAuthCipher is returned when the signature public key presented in
// the cipher-exchange packet does not match the one stored during
// Authentication (§4.3 contract, §4.4 step 2).
var ErrBadAuthCipher = errors.New("BadAuthCipher: signature public key mismatch")

// Cipher holds the per-direction AEAD state for one peer connection (C3).
// It is not safe for concurrent use from multiple goroutines without
// external synchronization, matching how PeerSession serializes frame
// processing.
type Cipher struct {
	serverKeyPair *crypto.KeyPair
	clientPubKey  []byte
	clientSigKey  []byte
	sharedSecret  []byte
	encryptionOn  bool
}

// NewCipher returns a zero-value Cipher; no key material exists until
// generateServerCipherKeyPair is called.
func NewCipher() *Cipher {
	return &Cipher{}
}

// GenerateServerCipherKeyPair creates the server's ephemeral X25519 keypair,
// used during ChallengeIssued (§4.4 step 1).
func (c *Cipher) GenerateServerCipherKeyPair() error {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	c.serverKeyPair = kp
	return nil
}

// GetServerPublicKey returns the server's encryption public key, sent as
// serverKeyCipher in ServerKeyCipherExchange.
func (c *Cipher) GetServerPublicKey() []byte {
	return c.serverKeyPair.Public[:]
}

// GetServerSignaturePublicKey returns the server's signature public key,
// sent as serverSigningCipher in ServerKeyCipherExchange. The session
// reuses the encryption keypair's public half as the signing identity,
// matching the single X25519 keypair the cipher exchange carries.
func (c *Cipher) GetServerSignaturePublicKey() []byte {
	return c.serverKeyPair.Public[:]
}

// SetClientSignaturePublicKey stores the client's signature public key,
// presented as clientAuthCipher during Authentication (§4.4 step 1).
func (c *Cipher) SetClientSignaturePublicKey(key []byte) {
	c.clientSigKey = append([]byte(nil), key...)
}

// AuthenticateKeyData verifies that presented equals the signature public
// key stored by SetClientSignaturePublicKey, failing with ErrBadAuthCipher
// otherwise (§4.3 contract).
func (c *Cipher) AuthenticateKeyData(presented []byte) error {
	if len(presented) != len(c.clientSigKey) || subtle.ConstantTimeCompare(presented, c.clientSigKey) != 1 {
		return ErrBadAuthCipher
	}
	return nil
}

// SetClientPublicKey stores the client's X25519 encryption public key,
// presented in ClientCipherExchange (§4.4 step 2).
func (c *Cipher) SetClientPublicKey(key []byte) {
	c.clientPubKey = append([]byte(nil), key...)
}

// VerifyChallenge checks response against the challenge the session issued,
// using pubKey (the stored client signature key) to verify the signature.
// Comparison of the underlying bytes is constant-time via crypto.VerifyChallenge
// (§4.3 "Challenge verification must be constant-time").
func (c *Cipher) VerifyChallenge(identity, challenge, response, pubKey []byte) bool {
	return crypto.VerifyChallenge(ed25519.PublicKey(pubKey), challenge, response)
}

// StartEncryption derives the shared secret from the stored client public
// key and the server keypair, enabling encrypt/decrypt (§4.4 step 2: "start
// AEAD encryption").
func (c *Cipher) StartEncryption() error {
	if len(c.clientPubKey) == 0 {
		return errors.New("cannot start encryption: client public key not set")
	}
	secret, err := crypto.SharedSecret(c.serverKeyPair.Private, c.clientPubKey)
	if err != nil {
		return err
	}
	c.sharedSecret = secret
	c.encryptionOn = true
	return nil
}

// Encrypt seals plaintext under the session's shared secret. It fails with
// ErrBadEncryption if StartEncryption has not yet completed.
func (c *Cipher) Encrypt(plaintext, aad []byte) ([]byte, error) {
	if !c.encryptionOn {
		return nil, ErrBadEncryption
	}
	return crypto.Encrypt(c.sharedSecret, plaintext, aad)
}

// Decrypt opens ciphertext under the session's shared secret. It fails with
// ErrBadEncryption if StartEncryption has not yet completed.
func (c *Cipher) Decrypt(ciphertext, aad []byte) ([]byte, error) {
	if !c.encryptionOn {
		return nil, ErrBadEncryption
	}
	return crypto.Decrypt(c.sharedSecret, ciphertext, aad)
}

// EncryptionStarted reports whether StartEncryption has completed.
func (c *Cipher) EncryptionStarted() bool {
	return c.encryptionOn
}
