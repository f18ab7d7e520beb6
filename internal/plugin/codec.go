// Package plugin implements the signed plugin file format (C7), the plugin
// registry (C8), the wasmer-backed worker pool (C9), and the hook
// dispatcher (C10).
package plugin

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btc-vision/opnet-node/internal/crypto"
)

// Magic is the fixed 4-byte prefix of every plugin file (§4.7).
var Magic = [4]byte{'O', 'P', 'N', 'T'}

// SupportedVersions is the set of format versions this codec accepts.
var SupportedVersions = map[uint32]bool{1: true}

// ChecksumSize is the trailing SHA-256 digest width.
const ChecksumSize = 32

// minHeaderSize is magic + version + level + the three 4-byte length
// prefixes (metadata, bytecode, proto) + checksum, used for the
// FileTooSmall fast-reject before any field is read.
const minHeaderSize = 4 + 4 + 1 + 4 + 4 + 4 + ChecksumSize

// PluginType is the deployment shape declared by a plugin's metadata
// (§3 PluginFile.metadata).
type PluginType string

const (
	PluginTypeStandalone PluginType = "standalone"
	PluginTypeLibrary    PluginType = "library"
)

// Metadata is the JSON-decoded metadata section (§3 PluginFile.metadata,
// §4.8 describes the permission keys it may declare).
type Metadata struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Version      string     `json:"version"`
	OpnetVersion string     `json:"opnetVersion"`
	Target       string     `json:"target"`
	PluginType   PluginType `json:"pluginType"`
	Checksum     string     `json:"checksum"`
	Author       string     `json:"author"`
	Permissions  []string   `json:"permissions"`
}

// File is a fully parsed and verified .opnet plugin file.
type File struct {
	Path       string
	Version    uint32
	MLDSALevel crypto.MLDSALevel
	PublicKey  []byte
	Signature  []byte
	Metadata   Metadata
	Bytecode   []byte
	Proto      []byte
	Checksum   [32]byte
}

// Decode errors, returned in the validation order mandated by §4.7.
var (
	ErrFileTooSmall        = errors.New("FileTooSmall")
	ErrInvalidMagic        = errors.New("InvalidMagic")
	ErrUnsupportedFormat   = errors.New("UnsupportedFormatVersion")
	ErrChecksumMismatch    = errors.New("ChecksumMismatch")
	ErrBadSignature        = errors.New("BadSignature")
	ErrInvalidMetadataJson = errors.New("InvalidMetadataJson")
	ErrInvalidPluginType   = errors.New("InvalidPluginType")
)

// Decode parses and verifies a plugin file's bytes, validating in the
// exact order specified by §4.7: size, magic, version, checksum,
// signature, then metadata JSON.
func Decode(data []byte) (*File, error) {
	if len(data) < minHeaderSize {
		return nil, ErrFileTooSmall
	}

	offset := 0
	var magic [4]byte
	copy(magic[:], data[offset:offset+4])
	offset += 4
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	version := binary.LittleEndian.Uint32(data[offset : offset+4])
	offset += 4
	if !SupportedVersions[version] {
		return nil, ErrUnsupportedFormat
	}

	if offset+1 > len(data) {
		return nil, ErrFileTooSmall
	}
	level := crypto.MLDSALevel(data[offset])
	offset++

	pkSize, err := crypto.PublicKeySize(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMagic, err)
	}
	sigSize, err := crypto.SignatureSize(level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMagic, err)
	}

	fields, err := readLengthPrefixedSections(data, offset, pkSize, sigSize)
	if err != nil {
		return nil, err
	}

	body := data[:len(data)-ChecksumSize]
	expectedChecksum := sha256.Sum256(body)
	var actualChecksum [32]byte
	copy(actualChecksum[:], data[len(data)-ChecksumSize:])
	if expectedChecksum != actualChecksum {
		return nil, ErrChecksumMismatch
	}

	digest := sha256.Sum256(append(append([]byte{}, fields.metadataJSON...), fields.bytecode...))
	ok, err := crypto.MLDSAVerify(level, fields.publicKey, digest[:], fields.signature)
	if err != nil || !ok {
		return nil, ErrBadSignature
	}

	var meta Metadata
	if err := json.Unmarshal(fields.metadataJSON, &meta); err != nil {
		return nil, ErrInvalidMetadataJson
	}
	if meta.PluginType != PluginTypeStandalone && meta.PluginType != PluginTypeLibrary {
		return nil, ErrInvalidPluginType
	}

	return &File{
		Version:    version,
		MLDSALevel: level,
		PublicKey:  fields.publicKey,
		Signature:  fields.signature,
		Metadata:   meta,
		Bytecode:   fields.bytecode,
		Proto:      fields.proto,
		Checksum:   actualChecksum,
	}, nil
}

type sections struct {
	publicKey    []byte
	signature    []byte
	metadataJSON []byte
	bytecode     []byte
	proto        []byte
}

func readLengthPrefixedSections(data []byte, offset, pkSize, sigSize int) (*sections, error) {
	need := func(n int) error {
		if offset+n > len(data)-ChecksumSize {
			return ErrFileTooSmall
		}
		return nil
	}

	if err := need(pkSize); err != nil {
		return nil, err
	}
	pub := data[offset : offset+pkSize]
	offset += pkSize

	if err := need(sigSize); err != nil {
		return nil, err
	}
	sig := data[offset : offset+sigSize]
	offset += sigSize

	if err := need(4); err != nil {
		return nil, err
	}
	metaLen := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if err := need(metaLen); err != nil {
		return nil, err
	}
	meta := data[offset : offset+metaLen]
	offset += metaLen

	if err := need(4); err != nil {
		return nil, err
	}
	bcLen := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if err := need(bcLen); err != nil {
		return nil, err
	}
	bytecode := data[offset : offset+bcLen]
	offset += bcLen

	if err := need(4); err != nil {
		return nil, err
	}
	protoLen := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if err := need(protoLen); err != nil {
		return nil, err
	}
	proto := data[offset : offset+protoLen]
	offset += protoLen

	if offset+ChecksumSize != len(data) {
		return nil, ErrFileTooSmall
	}

	return &sections{publicKey: pub, signature: sig, metadataJSON: meta, bytecode: bytecode, proto: proto}, nil
}

// Encode serializes a signed plugin file from its parts, mainly used by
// build tooling and tests. It signs metadataJSON||bytecode with priv under
// level and appends the trailing checksum.
func Encode(level crypto.MLDSALevel, pub, priv []byte, metadataJSON, bytecode, proto []byte) ([]byte, error) {
	digest := sha256.Sum256(append(append([]byte{}, metadataJSON...), bytecode...))
	sig, err := crypto.MLDSASign(level, priv, digest[:])
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, minHeaderSize+len(pub)+len(sig)+len(metadataJSON)+len(bytecode)+len(proto))
	buf = append(buf, Magic[:]...)
	buf = appendUint32(buf, 1)
	buf = append(buf, byte(level))
	buf = append(buf, pub...)
	buf = append(buf, sig...)
	buf = appendUint32(buf, uint32(len(metadataJSON)))
	buf = append(buf, metadataJSON...)
	buf = appendUint32(buf, uint32(len(bytecode)))
	buf = append(buf, bytecode...)
	buf = appendUint32(buf, uint32(len(proto)))
	buf = append(buf, proto...)

	checksum := sha256.Sum256(buf)
	buf = append(buf, checksum[:]...)
	return buf, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}
