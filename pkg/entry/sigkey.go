package entry

import (
	"encoding/json"

	"github.com/cuemby/eidetica/pkg/eideticaerr"
	"github.com/cuemby/eidetica/pkg/id"
)

// DelegationStep is one hop of a DelegationPath SigKey. Every step except
// the last carries the tips of the delegated tree as of signing time, so a
// verifier can reconstruct that tree's settings state without having to
// guess which tips were current.
type DelegationStep struct {
	Key  string
	Tips []id.ID
}

type delegationStepWire struct {
	Key  string  `json:"key"`
	Tips []id.ID `json:"tips,omitempty"`
}

// SigKey names how to find the key that signed an Entry: either directly
// (a key-name hint looked up in the tree's own settings) or through a
// delegation path across trees. Realized as a tagged struct, the same
// sum-type pattern used by crdt.Value.
type SigKey struct {
	direct *string
	path   []DelegationStep
}

// DirectSigKey builds a SigKey naming a key hint directly in this tree.
func DirectSigKey(hint string) SigKey {
	h := hint
	return SigKey{direct: &h}
}

// DelegationPathSigKey builds a SigKey naming a path through delegated
// trees. steps must be non-empty; all but the last carry Tips.
func DelegationPathSigKey(steps []DelegationStep) SigKey {
	return SigKey{path: steps}
}

// Direct returns the key hint and true if this SigKey is a Direct variant.
func (s SigKey) Direct() (string, bool) {
	if s.direct != nil {
		return *s.direct, true
	}
	return "", false
}

// DelegationPath returns the step list and true if this SigKey is a
// DelegationPath variant.
func (s SigKey) DelegationPath() ([]DelegationStep, bool) {
	if s.direct == nil {
		return s.path, true
	}
	return nil, false
}

// IsSignedBy reports whether this SigKey ultimately names hint directly
// (the final step's key, for a delegation path).
func (s SigKey) IsSignedBy(hint string) bool {
	if s.direct != nil {
		return *s.direct == hint
	}
	if len(s.path) == 0 {
		return false
	}
	return s.path[len(s.path)-1].Key == hint
}

func (s SigKey) MarshalJSON() ([]byte, error) {
	if s.direct != nil {
		return json.Marshal(*s.direct)
	}
	wire := make([]delegationStepWire, len(s.path))
	for i, step := range s.path {
		wire[i] = delegationStepWire{Key: step.Key, Tips: step.Tips}
	}
	return json.Marshal(wire)
}

func (s *SigKey) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		s.direct = &asString
		s.path = nil
		return nil
	}
	var wire []delegationStepWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return eideticaerr.Wrap(eideticaerr.KindSerialize, "decode SigKey", err)
	}
	steps := make([]DelegationStep, len(wire))
	for i, w := range wire {
		steps[i] = DelegationStep{Key: w.Key, Tips: w.Tips}
	}
	s.direct = nil
	s.path = steps
	return nil
}

// SigInfo carries the signature bytes (omitted in the canonical signing
// form), the SigKey naming how to resolve the signer, and, for the global
// wildcard case only, a Hint carrying the actual verifying public key (the
// wildcard key entry names no pubkey of its own, so the signer must supply
// one alongside the signature).
type SigInfo struct {
	Sig  *string
	Key  SigKey
	Hint *string
}

type sigInfoWire struct {
	Sig  *string `json:"sig,omitempty"`
	Key  SigKey  `json:"key"`
	Hint *string `json:"hint,omitempty"`
}

func (s SigInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(sigInfoWire{Sig: s.Sig, Key: s.Key, Hint: s.Hint})
}

func (s *SigInfo) UnmarshalJSON(data []byte) error {
	var w sigInfoWire
	if err := json.Unmarshal(data, &w); err != nil {
		return eideticaerr.Wrap(eideticaerr.KindSerialize, "decode SigInfo", err)
	}
	s.Sig = w.Sig
	s.Key = w.Key
	s.Hint = w.Hint
	return nil
}
