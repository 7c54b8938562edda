// Package signer implements BIP-340 schnorr signing and verification for
// nostr events and AUTH challenges, backed by decred's secp256k1 library.
package signer

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"

	"nexrelay.dev/errorf"
)

// PubKeyLen is the length of a raw BIP-340 x-only public key.
const PubKeyLen = 32

// SecKeyLen is the length of a raw secret key.
const SecKeyLen = 32

// SignatureLen is the length of a raw schnorr signature.
const SignatureLen = 64

// I is the signing/verification interface the store, session and
// management layers code against, so a hardware signer or a remote signer
// could be substituted without touching call sites.
type I interface {
	Generate() error
	InitSec(sec []byte) error
	InitPub(pub []byte) error
	Sec() []byte
	Pub() []byte
	Sign(msg []byte) (sig []byte, err error)
	Verify(msg, sig []byte) (valid bool, err error)
	Zero()
}

// Signer is the default I implementation.
type Signer struct {
	sec *secp256k1.PrivateKey
	pub *secp256k1.PublicKey
	pkb []byte
}

var _ I = (*Signer)(nil)

// Generate creates a new random key pair.
func (s *Signer) Generate() (err error) {
	var sec *secp256k1.PrivateKey
	if sec, err = secp256k1.GeneratePrivateKey(); err != nil {
		return
	}
	s.sec = sec
	s.pub = sec.PubKey()
	if s.pub.SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		// x-only keys imply an even Y (see InitPub), so negate the secret
		s.sec.Key.Negate()
		s.pub = s.sec.PubKey()
	}
	s.pkb = s.pub.SerializeCompressed()[1:]
	return
}

// InitSec loads a secret key from raw bytes.
func (s *Signer) InitSec(sec []byte) (err error) {
	if len(sec) != SecKeyLen {
		err = errorf.E("signer: secret key must be %d bytes, got %d", SecKeyLen, len(sec))
		return
	}
	s.sec = secp256k1.PrivKeyFromBytes(sec)
	s.pub = s.sec.PubKey()
	if s.pub.SerializeCompressed()[0] == secp256k1.PubKeyFormatCompressedOdd {
		s.sec.Key.Negate()
		s.pub = s.sec.PubKey()
	}
	s.pkb = s.pub.SerializeCompressed()[1:]
	return
}

// InitPub loads a verification-only public key from raw x-only bytes.
func (s *Signer) InitPub(pub []byte) (err error) {
	if len(pub) != PubKeyLen {
		err = errorf.E("signer: public key must be %d bytes, got %d", PubKeyLen, len(pub))
		return
	}
	compressed := make([]byte, 0, 1+PubKeyLen)
	compressed = append(compressed, secp256k1.PubKeyFormatCompressedEven)
	compressed = append(compressed, pub...)
	var pk *secp256k1.PublicKey
	if pk, err = secp256k1.ParsePubKey(compressed); err != nil {
		return
	}
	s.pub = pk
	s.pkb = pub
	return
}

// Sec returns the raw secret key bytes, or nil if none is loaded.
func (s *Signer) Sec() []byte {
	if s.sec == nil {
		return nil
	}
	return s.sec.Serialize()
}

// Pub returns the raw 32-byte x-only public key.
func (s *Signer) Pub() []byte { return s.pkb }

// Sign produces a BIP-340 schnorr signature over msg, which must already be
// a 32-byte digest (the event id, or an AUTH challenge hash).
func (s *Signer) Sign(msg []byte) (sig []byte, err error) {
	if s.sec == nil {
		err = errorf.E("signer: no secret key loaded")
		return
	}
	var si *schnorr.Signature
	if si, err = schnorr.Sign(s.sec, msg); err != nil {
		return
	}
	sig = si.Serialize()
	return
}

// Verify checks a schnorr signature over msg against the loaded public key.
func (s *Signer) Verify(msg, sig []byte) (valid bool, err error) {
	if s.pub == nil {
		err = errorf.E("signer: no public key loaded")
		return
	}
	var si *schnorr.Signature
	if si, err = schnorr.ParseSignature(sig); err != nil {
		return
	}
	valid = si.Verify(msg, s.pub)
	return
}

// Zero wipes the secret key material from memory.
func (s *Signer) Zero() {
	if s.sec != nil {
		s.sec.Zero()
	}
}
