// Package indexkey builds the composite binary keys for every logical
// table the event store maintains. Keys are big-endian fixed-width byte
// strings so lexicographic badger iteration order matches the intended
// sort order (descending created_at is stored as the bitwise complement of
// the timestamp so ascending iteration yields newest-first).
package indexkey

import (
	"encoding/binary"

	sha256 "github.com/minio/sha256-simd"
)

// Prefix bytes identify which logical table a key belongs to, mirroring
// the human-readable 3-byte ASCII tags this codebase uses elsewhere.
var (
	PrefixEvent          = []byte("evt")
	PrefixByID           = []byte("eid")
	PrefixPubkeyCreated  = []byte("pck") // by_pubkey_created_kind
	PrefixKindCreated    = []byte("kca") // by_kind_created
	PrefixTag            = []byte("tag") // by_tag
	PrefixReplaceable    = []byte("rep") // replaceable_current
	PrefixParamReplace   = []byte("prc") // param_replaceable_current
	PrefixEventApproval  = []byte("eap")
	PrefixPubkeyApproval = []byte("pap")
	PrefixAuthorizedUser = []byte("aut")
	PrefixIPData         = []byte("ipd")
	PrefixModerator      = []byte("mod")
)

// HashLen is the length of the truncated hashes used for pubkeys and tag
// values in secondary index keys, trading a small collision probability
// for a fixed-width key (matched against the real event on read).
const HashLen = 8

// Hash8 returns the first 8 bytes of the sha256 hash of b.
func Hash8(b []byte) []byte {
	h := sha256.Sum256(b)
	out := make([]byte, HashLen)
	copy(out, h[:HashLen])
	return out
}

// PutUint64 appends the big-endian encoding of v.
func PutUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// PutUint16 appends the big-endian encoding of v.
func PutUint16(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}

// InvertUint64 returns the bitwise complement of v so that, when stored in
// a key, ascending lexicographic order visits descending v order. Used for
// created_at so the most recent events sort first without reverse
// iteration.
func InvertUint64(v uint64) uint64 { return ^v }

// Offset is the monotonic position of an event in the append-only log.
type Offset uint64

// EventKey builds the `events` table key: prefix || offset.
func EventKey(off Offset) []byte {
	k := append([]byte{}, PrefixEvent...)
	return PutUint64(k, uint64(off))
}

// ByIDKey builds the `by_id` table key: prefix || full 32-byte id.
func ByIDKey(id []byte) []byte {
	k := append([]byte{}, PrefixByID...)
	return append(k, id...)
}

// PubkeyCreatedKindKey builds the `by_pubkey_created_kind` key:
// prefix || pubkey_hash8 || ~created_at || kind || offset.
func PubkeyCreatedKindKey(pubkey []byte, createdAt int64, kind uint16, off Offset) []byte {
	k := append([]byte{}, PrefixPubkeyCreated...)
	k = append(k, Hash8(pubkey)...)
	k = PutUint64(k, InvertUint64(uint64(createdAt)))
	k = PutUint16(k, kind)
	return PutUint64(k, uint64(off))
}

// PubkeyCreatedKindPrefix builds the scan prefix for a given pubkey, so a
// store iterator visits all its events newest-first.
func PubkeyCreatedKindPrefix(pubkey []byte) []byte {
	k := append([]byte{}, PrefixPubkeyCreated...)
	return append(k, Hash8(pubkey)...)
}

// KindCreatedKey builds the `by_kind_created` key:
// prefix || kind || ~created_at || offset.
func KindCreatedKey(kind uint16, createdAt int64, off Offset) []byte {
	k := append([]byte{}, PrefixKindCreated...)
	k = PutUint16(k, kind)
	k = PutUint64(k, InvertUint64(uint64(createdAt)))
	return PutUint64(k, uint64(off))
}

// KindCreatedPrefix builds the scan prefix for a given kind.
func KindCreatedPrefix(kind uint16) []byte {
	k := append([]byte{}, PrefixKindCreated...)
	return PutUint16(k, kind)
}

// TagKey builds the `by_tag` key:
// prefix || tag_letter || value_hash8 || ~created_at || offset.
func TagKey(letter byte, value string, createdAt int64, off Offset) []byte {
	k := append([]byte{}, PrefixTag...)
	k = append(k, letter)
	k = append(k, Hash8([]byte(value))...)
	k = PutUint64(k, InvertUint64(uint64(createdAt)))
	return PutUint64(k, uint64(off))
}

// TagPrefix builds the scan prefix for a given tag name/value pair.
func TagPrefix(letter byte, value string) []byte {
	k := append([]byte{}, PrefixTag...)
	k = append(k, letter)
	return append(k, Hash8([]byte(value))...)
}

// ReplaceableKey builds the `replaceable_current` key: prefix || pubkey_hash8 || kind.
func ReplaceableKey(pubkey []byte, kind uint16) []byte {
	k := append([]byte{}, PrefixReplaceable...)
	k = append(k, Hash8(pubkey)...)
	return PutUint16(k, kind)
}

// ParamReplaceableKey builds the `param_replaceable_current` key:
// prefix || pubkey_hash8 || kind || d_value_hash8.
func ParamReplaceableKey(pubkey []byte, kind uint16, d string) []byte {
	k := append([]byte{}, PrefixParamReplace...)
	k = append(k, Hash8(pubkey)...)
	k = PutUint16(k, kind)
	return append(k, Hash8([]byte(d))...)
}

// EventApprovalKey builds the `event_approval` key: prefix || full id.
func EventApprovalKey(id []byte) []byte {
	k := append([]byte{}, PrefixEventApproval...)
	return append(k, id...)
}

// PubkeyApprovalKey builds the `pubkey_approval` key: prefix || full pubkey.
func PubkeyApprovalKey(pubkey []byte) []byte {
	k := append([]byte{}, PrefixPubkeyApproval...)
	return append(k, pubkey...)
}

// AuthorizedUserKey builds the `authorized_user` key: prefix || full pubkey.
func AuthorizedUserKey(pubkey []byte) []byte {
	k := append([]byte{}, PrefixAuthorizedUser...)
	return append(k, pubkey...)
}

// ModeratorKey builds the `moderator` key: prefix || full pubkey.
func ModeratorKey(pubkey []byte) []byte {
	k := append([]byte{}, PrefixModerator...)
	return append(k, pubkey...)
}

// IPDataKey builds the `ip_data` key: prefix || sha256(ip).
func IPDataKey(ip string) []byte {
	k := append([]byte{}, PrefixIPData...)
	h := sha256.Sum256([]byte(ip))
	return append(k, h[:]...)
}
