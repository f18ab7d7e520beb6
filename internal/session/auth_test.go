package session

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/btc-vision/opnet-node/internal/crypto"
)

func testIdentity() LocalIdentity {
	return LocalIdentity{
		MajorVersion:  1,
		MinorVersion:  0,
		Network:       "mainnet",
		ChainId:       "0",
		VerifyNetwork: true,
		TrustedChecksums: TrustedChecksums{
			"1.0.0": "checksum-abc",
		},
		AuthTimeout: time.Hour,
	}
}

func clientAuthCipher(t *testing.T) (pub ed25519.PublicKey, priv ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519 keygen: %v", err)
	}
	return pub, priv
}

// TestHappyPathAuthentication exercises S3: full handshake to Authenticated.
func TestHappyPathAuthentication(t *testing.T) {
	var discCode DisconnectCode
	s := NewPeerSession(testIdentity(), func(code DisconnectCode, reason string) { discCode = code })

	clientSigPub, clientSigPriv := clientAuthCipher(t)
	status, err := s.HandleAuthentication(AuthenticationPacket{
		Version:          "1.0.0",
		TrustedChecksum:  "checksum-abc",
		Network:          "mainnet",
		ChainId:          "0",
		ClientAuthCipher: clientSigPub,
	})
	if err != nil {
		t.Fatalf("HandleAuthentication: %v", err)
	}
	if !status.Success || len(status.Challenge) != ChallengeSize {
		t.Fatalf("unexpected status: %+v", status)
	}
	if s.Phase() != PhaseAwaitCipher {
		t.Fatalf("expected AwaitCipher, got %v", s.Phase())
	}

	clientKP, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("client keypair: %v", err)
	}
	response := crypto.SignChallenge(clientSigPriv, status.Challenge)
	identity := make([]byte, IdentitySize)

	exchange, err := s.HandleClientCipherExchange(ClientCipherExchangePacket{
		Identity:         identity,
		ClientKeyCipher:  clientKP.Public[:],
		ClientAuthCipher: clientSigPub,
		Challenge:        response,
	})
	if err != nil {
		t.Fatalf("HandleClientCipherExchange: %v", err)
	}
	if !exchange.EncryptionEnabled {
		t.Fatalf("expected encryption enabled")
	}
	if s.Phase() != PhaseAuthenticated {
		t.Fatalf("expected Authenticated, got %v", s.Phase())
	}
	if discCode != "" {
		t.Fatalf("unexpected disconnect: %v", discCode)
	}
}

// TestBadChallengeDisconnects exercises S4: wrong challenge signature.
func TestBadChallengeDisconnects(t *testing.T) {
	var discCode DisconnectCode
	s := NewPeerSession(testIdentity(), func(code DisconnectCode, reason string) { discCode = code })

	clientSigPub, _ := clientAuthCipher(t)
	status, err := s.HandleAuthentication(AuthenticationPacket{
		Version:          "1.0.0",
		TrustedChecksum:  "checksum-abc",
		Network:          "mainnet",
		ChainId:          "0",
		ClientAuthCipher: clientSigPub,
	})
	if err != nil {
		t.Fatalf("HandleAuthentication: %v", err)
	}

	_, otherPriv := clientAuthCipher(t)
	wrongResponse := crypto.SignChallenge(otherPriv, status.Challenge)

	_, err = s.HandleClientCipherExchange(ClientCipherExchangePacket{
		Identity:         make([]byte, IdentitySize),
		ClientKeyCipher:  make([]byte, 32),
		ClientAuthCipher: clientSigPub,
		Challenge:        wrongResponse,
	})
	if err == nil {
		t.Fatalf("expected error for mismatched challenge signature")
	}
	if discCode != BadChallenge {
		t.Fatalf("expected BadChallenge, got %v", discCode)
	}
	if s.Phase() != PhaseTerminated {
		t.Fatalf("expected Terminated, got %v", s.Phase())
	}
}

func TestBadVersionRejected(t *testing.T) {
	var discCode DisconnectCode
	s := NewPeerSession(testIdentity(), func(code DisconnectCode, reason string) { discCode = code })

	_, err := s.HandleAuthentication(AuthenticationPacket{
		Version:          "2.0.0",
		TrustedChecksum:  "checksum-abc",
		ClientAuthCipher: make([]byte, 32),
	})
	if err == nil {
		t.Fatalf("expected error for major version mismatch")
	}
	if discCode != BadVersion {
		t.Fatalf("expected BadVersion, got %v", discCode)
	}
}

func TestBadTrustedChecksumRejected(t *testing.T) {
	var discCode DisconnectCode
	s := NewPeerSession(testIdentity(), func(code DisconnectCode, reason string) { discCode = code })

	_, err := s.HandleAuthentication(AuthenticationPacket{
		Version:          "1.0.0",
		TrustedChecksum:  "wrong-checksum",
		ClientAuthCipher: make([]byte, 32),
	})
	if err == nil {
		t.Fatalf("expected error for bad checksum")
	}
	if discCode != BadTrustedChecksum {
		t.Fatalf("expected BadTrustedChecksum, got %v", discCode)
	}
}

func TestBadAuthCipherSizeRejected(t *testing.T) {
	var discCode DisconnectCode
	s := NewPeerSession(testIdentity(), func(code DisconnectCode, reason string) { discCode = code })

	_, err := s.HandleAuthentication(AuthenticationPacket{
		Version:          "1.0.0",
		TrustedChecksum:  "checksum-abc",
		ClientAuthCipher: []byte{1, 2, 3},
	})
	if err == nil {
		t.Fatalf("expected error for short auth cipher")
	}
	if discCode != BadAuthCipher {
		t.Fatalf("expected BadAuthCipher, got %v", discCode)
	}
}

func TestBadNetworkAndChainIdRejected(t *testing.T) {
	t.Run("network", func(t *testing.T) {
		var discCode DisconnectCode
		s := NewPeerSession(testIdentity(), func(code DisconnectCode, reason string) { discCode = code })
		pub, _ := clientAuthCipher(t)
		_, err := s.HandleAuthentication(AuthenticationPacket{
			Version:          "1.0.0",
			TrustedChecksum:  "checksum-abc",
			Network:          "testnet",
			ChainId:          "0",
			ClientAuthCipher: pub,
		})
		if err == nil || discCode != BadNetwork {
			t.Fatalf("expected BadNetwork, got err=%v code=%v", err, discCode)
		}
	})

	t.Run("chainId", func(t *testing.T) {
		var discCode DisconnectCode
		s := NewPeerSession(testIdentity(), func(code DisconnectCode, reason string) { discCode = code })
		pub, _ := clientAuthCipher(t)
		_, err := s.HandleAuthentication(AuthenticationPacket{
			Version:          "1.0.0",
			TrustedChecksum:  "checksum-abc",
			Network:          "mainnet",
			ChainId:          "99",
			ClientAuthCipher: pub,
		})
		if err == nil || discCode != BadChainId {
			t.Fatalf("expected BadChainId, got err=%v code=%v", err, discCode)
		}
	})
}

func TestSecondAuthenticationInAwaitCipherIsFatal(t *testing.T) {
	var discCode DisconnectCode
	s := NewPeerSession(testIdentity(), func(code DisconnectCode, reason string) { discCode = code })
	pub, _ := clientAuthCipher(t)

	if _, err := s.HandleAuthentication(AuthenticationPacket{
		Version: "1.0.0", TrustedChecksum: "checksum-abc", Network: "mainnet", ChainId: "0", ClientAuthCipher: pub,
	}); err != nil {
		t.Fatalf("first Authentication: %v", err)
	}

	_, err := s.HandleAuthentication(AuthenticationPacket{
		Version: "1.0.0", TrustedChecksum: "checksum-abc", Network: "mainnet", ChainId: "0", ClientAuthCipher: pub,
	})
	if err == nil || discCode != BadVersion {
		t.Fatalf("expected fatal BadVersion on second Authentication, got err=%v code=%v", err, discCode)
	}
}

func TestAuthenticationPacketWhileAuthenticatedIsIgnored(t *testing.T) {
	var discCode DisconnectCode
	s := NewPeerSession(testIdentity(), func(code DisconnectCode, reason string) { discCode = code })

	clientSigPub, clientSigPriv := clientAuthCipher(t)
	status, err := s.HandleAuthentication(AuthenticationPacket{
		Version: "1.0.0", TrustedChecksum: "checksum-abc", Network: "mainnet", ChainId: "0", ClientAuthCipher: clientSigPub,
	})
	if err != nil {
		t.Fatalf("first Authentication: %v", err)
	}

	clientKP, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("client keypair: %v", err)
	}
	response := crypto.SignChallenge(clientSigPriv, status.Challenge)
	if _, err := s.HandleClientCipherExchange(ClientCipherExchangePacket{
		Identity:         make([]byte, IdentitySize),
		ClientKeyCipher:  clientKP.Public[:],
		ClientAuthCipher: clientSigPub,
		Challenge:        response,
	}); err != nil {
		t.Fatalf("HandleClientCipherExchange: %v", err)
	}
	if s.Phase() != PhaseAuthenticated {
		t.Fatalf("expected Authenticated, got %v", s.Phase())
	}

	status, err = s.HandleAuthentication(AuthenticationPacket{
		Version: "1.0.0", TrustedChecksum: "checksum-abc", Network: "mainnet", ChainId: "0", ClientAuthCipher: clientSigPub,
	})
	if err != nil || status != nil {
		t.Fatalf("expected Authentication packet to be silently ignored, got status=%+v err=%v", status, err)
	}
	if discCode != "" {
		t.Fatalf("expected no disconnect, got %v", discCode)
	}
	if s.Phase() != PhaseAuthenticated {
		t.Fatalf("expected phase to remain Authenticated, got %v", s.Phase())
	}
}

func TestPingOnlyAnsweredWhenAuthenticated(t *testing.T) {
	s := NewPeerSession(testIdentity(), func(code DisconnectCode, reason string) {})
	if _, err := s.HandlePing(100); err == nil {
		t.Fatalf("expected ping to fail before authentication")
	}
}

func TestAuthTimeoutWatchdogFires(t *testing.T) {
	identity := testIdentity()
	identity.AuthTimeout = 20 * time.Millisecond
	done := make(chan DisconnectCode, 1)
	NewPeerSession(identity, func(code DisconnectCode, reason string) { done <- code })

	select {
	case code := <-done:
		if code != AuthTimedOut {
			t.Fatalf("expected AuthTimedOut, got %v", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watchdog did not fire")
	}
}
