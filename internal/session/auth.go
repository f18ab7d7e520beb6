package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/btc-vision/opnet-node/pkg/logging"
)

// Phase is the peer session lifecycle state (§4 "PeerSession").
type Phase int

const (
	PhaseAwaitAuth Phase = iota
	PhaseAwaitCipher
	PhaseAuthenticated
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitAuth:
		return "AwaitAuth"
	case PhaseAwaitCipher:
		return "AwaitCipher"
	case PhaseAuthenticated:
		return "Authenticated"
	case PhaseTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// DisconnectCode enumerates the wire protocol's disconnection reasons (§4.4,
// GLOSSARY/P2P wire section).
type DisconnectCode string

const (
	AuthTimedOut       DisconnectCode = "AuthTimedOut"
	BadEncryption      DisconnectCode = "BadEncryption"
	BadPacket          DisconnectCode = "BadPacket"
	BadVersion         DisconnectCode = "BadVersion"
	BadTrustedChecksum DisconnectCode = "BadTrustedChecksum"
	BadAuthCipher      DisconnectCode = "BadAuthCipher"
	BadChallenge       DisconnectCode = "BadChallenge"
	BadIdentity        DisconnectCode = "BadIdentity"
	BadNetwork         DisconnectCode = "BadNetwork"
	BadChainId         DisconnectCode = "BadChainId"
)

// DisconnectError pairs a disconnection code with a human-readable reason,
// passed to disconnectPeer.
type DisconnectError struct {
	Code   DisconnectCode
	Reason string
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// AuthenticationPacket is the payload of an inbound Authentication opcode.
type AuthenticationPacket struct {
	Version          string
	TrustedChecksum  string
	Network          string
	ChainId          string
	ClientAuthCipher []byte
}

// ClientCipherExchangePacket is the payload of an inbound ClientCipherExchange
// opcode.
type ClientCipherExchangePacket struct {
	Identity         []byte
	ClientKeyCipher  []byte
	ClientAuthCipher []byte
	Challenge        []byte
}

// AuthenticationStatus is emitted on successful version/policy checks,
// carrying the freshly generated challenge.
type AuthenticationStatus struct {
	Success   bool
	Challenge []byte
}

// ServerKeyCipherExchange is emitted once the cipher exchange succeeds.
type ServerKeyCipherExchange struct {
	ServerKeyCipher     []byte
	ServerSigningCipher []byte
	EncryptionEnabled   bool
}

// PongPacket answers a Ping with the server timestamp and the last observed
// ping time (§4.4 phase 3).
type PongPacket struct {
	Timestamp int64
	LastPing  int64
}

// TrustedChecksums maps a protocol version string to its expected checksum,
// consulted during Authentication (§4.4 step 1 "trusted checksum").
type TrustedChecksums map[string]string

// LocalIdentity describes this node's own protocol identity, checked
// against an inbound Authentication packet.
type LocalIdentity struct {
	MajorVersion       int
	MinorVersion       int
	Network            string
	ChainId            string
	VerifyNetwork      bool
	TrustedChecksums   TrustedChecksums
	AuthTimeout        time.Duration
}

// DefaultAuthTimeout is the watchdog duration for a session that has not
// yet completed the Authentication step. HandleAuthentication stops the
// watchdog on success, so it does not bound the AwaitCipher phase.
const DefaultAuthTimeout = 30 * time.Second

// DisconnectFunc is invoked once a session is terminated for cause.
type DisconnectFunc func(code DisconnectCode, reason string)

// PeerSession implements the C4 authentication state machine for a single
// inbound peer connection.
type PeerSession struct {
	mu sync.Mutex

	identity LocalIdentity
	cipher   *Cipher
	onDisc   DisconnectFunc
	logger   *logrus.Entry

	phase            Phase
	passVersionCheck bool
	challenge        []byte
	peerIdentity     []byte
	lastPing         int64

	watchdog *time.Timer
}

// NewPeerSession creates a session in AwaitAuth with a running 30s watchdog.
func NewPeerSession(identity LocalIdentity, onDisconnect DisconnectFunc) *PeerSession {
	if identity.AuthTimeout == 0 {
		identity.AuthTimeout = DefaultAuthTimeout
	}
	s := &PeerSession{
		identity: identity,
		cipher:   NewCipher(),
		onDisc:   onDisconnect,
		logger:   logging.For("peer-session"),
		phase:    PhaseAwaitAuth,
	}
	s.watchdog = time.AfterFunc(identity.AuthTimeout, func() {
		s.disconnect(AuthTimedOut, "authentication watchdog expired")
	})
	return s
}

// Phase returns the current lifecycle phase.
func (s *PeerSession) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *PeerSession) disconnect(code DisconnectCode, reason string) {
	s.mu.Lock()
	if s.phase == PhaseTerminated {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseTerminated
	s.mu.Unlock()

	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.logger.WithFields(logrus.Fields{"code": code, "reason": reason}).Warn("disconnecting peer")
	if s.onDisc != nil {
		s.onDisc(code, reason)
	}
}

// Destroy idempotently transitions the session to Terminated (§4.4 phase 4).
func (s *PeerSession) Destroy() {
	s.disconnect("", "destroyed")
}

// HandleAuthentication processes an inbound Authentication opcode (§4.4
// step 1). It returns the AuthenticationStatus to send on success, or a
// DisconnectError describing why the peer was dropped.
func (s *PeerSession) HandleAuthentication(pkt AuthenticationPacket) (*AuthenticationStatus, error) {
	s.mu.Lock()
	phase := s.phase
	alreadyPassed := s.passVersionCheck
	s.mu.Unlock()

	if phase == PhaseTerminated {
		return nil, &DisconnectError{Code: BadPacket, Reason: "session terminated"}
	}
	if phase == PhaseAuthenticated {
		return nil, nil
	}
	if phase != PhaseAwaitAuth {
		err := &DisconnectError{Code: BadVersion, Reason: "already passed"}
		s.disconnect(err.Code, err.Reason)
		return nil, err
	}
	if alreadyPassed {
		err := &DisconnectError{Code: BadVersion, Reason: "already passed"}
		s.disconnect(err.Code, err.Reason)
		return nil, err
	}

	major, minor, err := parseMajorMinor(pkt.Version)
	if err != nil || major != s.identity.MajorVersion || minor < s.identity.MinorVersion {
		e := &DisconnectError{Code: BadVersion, Reason: "incompatible client version " + pkt.Version}
		s.disconnect(e.Code, e.Reason)
		return nil, e
	}

	expected, known := s.identity.TrustedChecksums[pkt.Version]
	if !known || expected != pkt.TrustedChecksum {
		e := &DisconnectError{Code: BadTrustedChecksum, Reason: "checksum mismatch for version " + pkt.Version}
		s.disconnect(e.Code, e.Reason)
		return nil, e
	}

	if len(pkt.ClientAuthCipher) != ClientAuthCipherSize {
		e := &DisconnectError{Code: BadAuthCipher, Reason: "clientAuthCipher must be 32 bytes"}
		s.disconnect(e.Code, e.Reason)
		return nil, e
	}

	if s.identity.VerifyNetwork {
		if pkt.Network != s.identity.Network {
			e := &DisconnectError{Code: BadNetwork, Reason: "network mismatch"}
			s.disconnect(e.Code, e.Reason)
			return nil, e
		}
		if pkt.ChainId != s.identity.ChainId {
			e := &DisconnectError{Code: BadChainId, Reason: "chainId mismatch"}
			s.disconnect(e.Code, e.Reason)
			return nil, e
		}
	}

	s.cipher.SetClientSignaturePublicKey(pkt.ClientAuthCipher)

	challenge := make([]byte, ChallengeSize)
	if _, err := rand.Read(challenge); err != nil {
		e := &DisconnectError{Code: BadPacket, Reason: "failed to generate challenge"}
		s.disconnect(e.Code, e.Reason)
		return nil, e
	}
	if err := s.cipher.GenerateServerCipherKeyPair(); err != nil {
		e := &DisconnectError{Code: BadPacket, Reason: "failed to generate server cipher keypair"}
		s.disconnect(e.Code, e.Reason)
		return nil, e
	}

	s.mu.Lock()
	s.challenge = challenge
	s.passVersionCheck = true
	s.phase = PhaseAwaitCipher
	s.mu.Unlock()

	s.watchdog.Stop()

	return &AuthenticationStatus{Success: true, Challenge: challenge}, nil
}

// HandleClientCipherExchange processes an inbound ClientCipherExchange
// opcode (§4.4 step 2).
func (s *PeerSession) HandleClientCipherExchange(pkt ClientCipherExchangePacket) (*ServerKeyCipherExchange, error) {
	s.mu.Lock()
	phase := s.phase
	challenge := s.challenge
	s.mu.Unlock()

	if phase != PhaseAwaitCipher {
		e := &DisconnectError{Code: BadPacket, Reason: "unexpected ClientCipherExchange in phase " + phase.String()}
		s.disconnect(e.Code, e.Reason)
		return nil, e
	}

	if len(pkt.Identity) != IdentitySize {
		e := &DisconnectError{Code: BadIdentity, Reason: "identity must be 64 bytes"}
		s.disconnect(e.Code, e.Reason)
		return nil, e
	}

	if err := s.cipher.AuthenticateKeyData(pkt.ClientAuthCipher); err != nil {
		e := &DisconnectError{Code: BadAuthCipher, Reason: err.Error()}
		s.disconnect(e.Code, e.Reason)
		return nil, e
	}

	if !s.cipher.VerifyChallenge(pkt.Identity, challenge, pkt.Challenge, pkt.ClientAuthCipher) {
		e := &DisconnectError{Code: BadChallenge, Reason: "challenge response verification failed"}
		s.disconnect(e.Code, e.Reason)
		return nil, e
	}

	s.cipher.SetClientPublicKey(pkt.ClientKeyCipher)
	if err := s.cipher.StartEncryption(); err != nil {
		e := &DisconnectError{Code: BadEncryption, Reason: err.Error()}
		s.disconnect(e.Code, e.Reason)
		return nil, e
	}

	s.mu.Lock()
	s.peerIdentity = pkt.Identity
	s.phase = PhaseAuthenticated
	s.mu.Unlock()

	return &ServerKeyCipherExchange{
		ServerKeyCipher:     s.cipher.GetServerPublicKey(),
		ServerSigningCipher: s.cipher.GetServerSignaturePublicKey(),
		EncryptionEnabled:   true,
	}, nil
}

// HandlePing answers an inbound Ping with a Pong carrying the server
// timestamp and the last observed ping (§4.4 phase 3). now is passed in so
// callers control the clock source for tests.
func (s *PeerSession) HandlePing(now int64) (*PongPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAuthenticated {
		return nil, errors.New("ping received outside Authenticated phase")
	}
	last := s.lastPing
	s.lastPing = now
	return &PongPacket{Timestamp: now, LastPing: last}, nil
}

// Encrypt/Decrypt expose the session's cipher for frame processing once
// Authenticated (§4.4 step 2: "every subsequent frame is decrypted via C3").
func (s *PeerSession) Encrypt(plaintext, aad []byte) ([]byte, error) {
	return s.cipher.Encrypt(plaintext, aad)
}

func (s *PeerSession) Decrypt(ciphertext, aad []byte) ([]byte, error) {
	return s.cipher.Decrypt(ciphertext, aad)
}

func parseMajorMinor(version string) (major, minor int, err error) {
	n, err := fmt.Sscanf(version, "%d.%d", &major, &minor)
	if err != nil || n < 2 {
		return 0, 0, fmt.Errorf("malformed version %q", version)
	}
	return major, minor, nil
}
