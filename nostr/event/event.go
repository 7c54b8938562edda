// Package event implements the nostr event type: parsing, canonical
// serialization for id computation, and schnorr signing/verification.
package event

import (
	"bytes"
	"encoding/json"

	sha256 "github.com/minio/sha256-simd"

	"nexrelay.dev/errorf"
	"nexrelay.dev/nostr/hex"
	"nexrelay.dev/nostr/kind"
	"nexrelay.dev/nostr/signer"
	"nexrelay.dev/nostr/tag"
	"nexrelay.dev/nostr/timestamp"
)

// T is the native in-memory representation of an event.
type T struct {
	ID        []byte
	Pubkey    []byte
	CreatedAt timestamp.T
	Kind      kind.T
	Tags      tag.S
	Content   string
	Sig       []byte
}

// New returns an empty event.
func New() *T { return &T{Tags: tag.S{}} }

// J is the plain-JSON wire representation of an event, as it appears nested
// inside EVENT envelopes and in REQ results.
type J struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      uint16     `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// ToJ converts ev to its plain-JSON representation.
func (ev *T) ToJ() *J {
	tags := make([][]string, len(ev.Tags))
	for i, t := range ev.Tags {
		tags[i] = []string(t)
	}
	return &J{
		ID:        hex.Enc(ev.ID),
		Pubkey:    hex.Enc(ev.Pubkey),
		CreatedAt: int64(ev.CreatedAt),
		Kind:      uint16(ev.Kind),
		Tags:      tags,
		Content:   ev.Content,
		Sig:       hex.Enc(ev.Sig),
	}
}

// FromJ converts a plain-JSON event into the native representation. It does
// not verify the signature or recompute the id; callers must call Verify.
func FromJ(j *J) (ev *T, err error) {
	ev = New()
	if ev.ID, err = hex.DecLen(j.ID, 32); err != nil {
		err = errorf.E("invalid id: %w", err)
		return
	}
	if ev.Pubkey, err = hex.DecLen(j.Pubkey, signer.PubKeyLen); err != nil {
		err = errorf.E("invalid pubkey: %w", err)
		return
	}
	if ev.Sig, err = hex.DecLen(j.Sig, signer.SignatureLen); err != nil {
		err = errorf.E("invalid sig: %w", err)
		return
	}
	ev.CreatedAt = timestamp.T(j.CreatedAt)
	ev.Kind = kind.T(j.Kind)
	ev.Content = j.Content
	ev.Tags = make(tag.S, len(j.Tags))
	for i, t := range j.Tags {
		ev.Tags[i] = tag.T(t)
	}
	return
}

// Marshal renders ev as minified JSON, matching the field order and
// formatting clients expect: id, pubkey, created_at, kind, tags, content,
// sig.
func (ev *T) Marshal() ([]byte, error) { return json.Marshal(ev.ToJ()) }

// Unmarshal parses a JSON event object into the native representation.
func Unmarshal(b []byte) (ev *T, err error) {
	j := &J{}
	if err = json.Unmarshal(b, j); err != nil {
		return
	}
	return FromJ(j)
}

// Canonical renders the array [0, pubkey_hex, created_at, kind, tags,
// content] used to compute the event id, with no insignificant whitespace.
func (ev *T) Canonical() ([]byte, error) {
	tags := make([][]string, len(ev.Tags))
	for i, t := range ev.Tags {
		tags[i] = []string(t)
	}
	arr := []interface{}{
		0, hex.Enc(ev.Pubkey), int64(ev.CreatedAt), uint16(ev.Kind), tags, ev.Content,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; the canonical form has
	// none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID returns the sha256 hash of the canonical serialization.
func (ev *T) ComputeID() ([]byte, error) {
	c, err := ev.Canonical()
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(c)
	return h[:], nil
}

// Sign populates Pubkey, ID and Sig from s. CreatedAt and Kind must already
// be set by the caller.
func (ev *T) Sign(s signer.I) (err error) {
	ev.Pubkey = s.Pub()
	if ev.ID, err = ev.ComputeID(); err != nil {
		return
	}
	ev.Sig, err = s.Sign(ev.ID)
	return
}

// Verify checks that ID matches the canonical hash and that Sig is a valid
// schnorr signature over ID under Pubkey.
func (ev *T) Verify() (valid bool, err error) {
	want, err := ev.ComputeID()
	if err != nil {
		return false, err
	}
	if !bytes.Equal(want, ev.ID) {
		return false, errorf.E("event id mismatch: computed %s, got %s", hex.Enc(want), hex.Enc(ev.ID))
	}
	s := &signer.Signer{}
	if err = s.InitPub(ev.Pubkey); err != nil {
		return
	}
	return s.Verify(ev.ID, ev.Sig)
}

// ReplaceableKey returns the key under which this event replaces prior
// events of the same kind for the same pubkey, for kinds in the
// replaceable or parameterized-replaceable classes. ok is false for
// kinds that are not replaceable.
func (ev *T) ReplaceableKey() (pubkey string, k kind.T, d string, ok bool) {
	switch {
	case ev.Kind.IsReplaceable():
		return hex.Enc(ev.Pubkey), ev.Kind, "", true
	case ev.Kind.IsParameterizedReplaceable():
		return hex.Enc(ev.Pubkey), ev.Kind, ev.Tags.DTagValue(), true
	default:
		return "", 0, "", false
	}
}

// S is a slice of events sorted newest-first.
type S []*T

func (s S) Len() int      { return len(s) }
func (s S) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s S) Less(i, j int) bool {
	if s[i].CreatedAt != s[j].CreatedAt {
		return s[i].CreatedAt > s[j].CreatedAt
	}
	return bytes.Compare(s[i].ID, s[j].ID) > 0
}
