// Package identity implements Eidetica's algorithm-agnostic signing keys.
//
// PublicKey and PrivateKey are modeled as tagged structs rather than Go
// interfaces: Go has no sum-type syntax, so each carries an Algorithm tag
// plus the one populated field for that algorithm, the same pattern this
// module uses for crdt.Value and auth.Permission. Ed25519 is the only
// algorithm wired up today; Algorithm is deliberately a plain string so
// adding a variant never breaks existing serialized data.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cuemby/eidetica/pkg/eideticaerr"
)

// Algorithm identifies a signing algorithm. Non-exhaustive by design.
type Algorithm string

// AlgorithmEd25519 is the one algorithm Eidetica requires every backend to
// support.
const AlgorithmEd25519 Algorithm = "ed25519"

const challengeSize = 32

// PublicKey is a verification key tagged with its algorithm.
type PublicKey struct {
	algorithm Algorithm
	ed25519   ed25519.PublicKey
}

// PrivateKey is a signing key tagged with its algorithm. Call Zeroize when
// the key's scope ends; Go has no destructor, so callers must do this
// explicitly (typically via defer right after generation or parsing).
type PrivateKey struct {
	algorithm Algorithm
	ed25519   ed25519.PrivateKey
}

// GenerateKey creates a new Ed25519 private key from an OS-seeded CSPRNG.
func GenerateKey() (PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, eideticaerr.Wrap(eideticaerr.KindIO, "generate ed25519 key", err)
	}
	return PrivateKey{algorithm: AlgorithmEd25519, ed25519: priv}, nil
}

// Algorithm reports the key's algorithm tag.
func (k PrivateKey) Algorithm() Algorithm { return k.algorithm }

// Algorithm reports the key's algorithm tag.
func (k PublicKey) Algorithm() Algorithm { return k.algorithm }

// Sign returns raw signature bytes over data.
func (k PrivateKey) Sign(data []byte) ([]byte, error) {
	switch k.algorithm {
	case AlgorithmEd25519:
		if len(k.ed25519) != ed25519.PrivateKeySize {
			return nil, eideticaerr.New(eideticaerr.KindAuthInvalidKeyFormat, "private key material missing or wiped")
		}
		return ed25519.Sign(k.ed25519, data), nil
	default:
		return nil, eideticaerr.Newf(eideticaerr.KindAuthInvalidKeyFormat, "unsupported algorithm %q", k.algorithm)
	}
}

// PublicKey derives the matching PublicKey.
func (k PrivateKey) PublicKey() PublicKey {
	switch k.algorithm {
	case AlgorithmEd25519:
		pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
		copy(pub, k.ed25519[ed25519.PrivateKeySize-ed25519.PublicKeySize:])
		return PublicKey{algorithm: k.algorithm, ed25519: pub}
	default:
		return PublicKey{}
	}
}

// Verify checks sig over data, returning a KindAuthInvalidSignature error on
// any mismatch, malformed input, or algorithm mismatch. It never panics.
func (k PublicKey) Verify(data, sig []byte) error {
	switch k.algorithm {
	case AlgorithmEd25519:
		if len(k.ed25519) != ed25519.PublicKeySize {
			return eideticaerr.New(eideticaerr.KindAuthInvalidSignature, "malformed ed25519 public key")
		}
		if !ed25519.Verify(k.ed25519, data, sig) {
			return eideticaerr.New(eideticaerr.KindAuthInvalidSignature, "signature does not verify")
		}
		return nil
	default:
		return eideticaerr.Newf(eideticaerr.KindAuthInvalidSignature, "unsupported algorithm %q", k.algorithm)
	}
}

// ToPrefixedString renders "<algo>:<base64url-nopad>".
func (k PublicKey) ToPrefixedString() string {
	return string(k.algorithm) + ":" + base64.RawURLEncoding.EncodeToString(k.ed25519)
}

// ToPrefixedString renders "<algo>:<base64url-nopad>".
func (k PrivateKey) ToPrefixedString() string {
	return string(k.algorithm) + ":" + base64.RawURLEncoding.EncodeToString(k.ed25519)
}

// ParsePublicKey parses a "<algo>:<base64url-nopad>" string.
func ParsePublicKey(s string) (PublicKey, error) {
	algo, raw, err := splitPrefixed(s)
	if err != nil {
		return PublicKey{}, err
	}
	switch algo {
	case AlgorithmEd25519:
		if len(raw) != ed25519.PublicKeySize {
			return PublicKey{}, eideticaerr.Newf(eideticaerr.KindAuthInvalidKeyFormat, "ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
		}
		return PublicKey{algorithm: algo, ed25519: ed25519.PublicKey(raw)}, nil
	default:
		return PublicKey{}, eideticaerr.Newf(eideticaerr.KindAuthInvalidKeyFormat, "unsupported algorithm %q", algo)
	}
}

// ParsePrivateKey parses a "<algo>:<base64url-nopad>" string.
func ParsePrivateKey(s string) (PrivateKey, error) {
	algo, raw, err := splitPrefixed(s)
	if err != nil {
		return PrivateKey{}, err
	}
	switch algo {
	case AlgorithmEd25519:
		if len(raw) != ed25519.PrivateKeySize {
			return PrivateKey{}, eideticaerr.Newf(eideticaerr.KindAuthInvalidKeyFormat, "ed25519 private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
		}
		return PrivateKey{algorithm: algo, ed25519: ed25519.PrivateKey(raw)}, nil
	default:
		return PrivateKey{}, eideticaerr.Newf(eideticaerr.KindAuthInvalidKeyFormat, "unsupported algorithm %q", algo)
	}
}

func splitPrefixed(s string) (Algorithm, []byte, error) {
	algoStr, encoded, ok := strings.Cut(s, ":")
	if !ok {
		return "", nil, eideticaerr.New(eideticaerr.KindAuthKeyParsingFailed, "missing algorithm prefix")
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, eideticaerr.Wrap(eideticaerr.KindAuthKeyParsingFailed, "invalid base64url key body", err)
	}
	return Algorithm(algoStr), raw, nil
}

// Zeroize overwrites the private key material in place and drops it, so a
// later Sign fails instead of producing a signature from wiped bytes. Call
// it once the key's scope ends (Go has no Drop; this is the explicit
// substitute).
func (k *PrivateKey) Zeroize() {
	for i := range k.ed25519 {
		k.ed25519[i] = 0
	}
	k.ed25519 = nil
}

// String redacts secret material so a PrivateKey can never leak through
// logging or formatting.
func (k PrivateKey) String() string {
	return fmt.Sprintf("%s:<redacted>", k.algorithm)
}

// GoString redacts secret material.
func (k PrivateKey) GoString() string {
	return k.String()
}

func (k PublicKey) String() string {
	return k.ToPrefixedString()
}

// GenerateChallenge yields 32 cryptographically random bytes for handshake
// nonces.
func GenerateChallenge() ([challengeSize]byte, error) {
	var out [challengeSize]byte
	if _, err := rand.Read(out[:]); err != nil {
		return out, eideticaerr.Wrap(eideticaerr.KindIO, "generate challenge", err)
	}
	return out, nil
}
