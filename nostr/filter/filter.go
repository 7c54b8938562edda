// Package filter implements the nostr REQ filter: a conjunction of
// constraints over ids, authors, kinds, tag values and a created_at range,
// matching against events and planning which store index to scan.
package filter

import (
	"encoding/binary"
	"encoding/json"
	"sort"
	"strings"

	sha256 "github.com/minio/sha256-simd"

	"nexrelay.dev/nostr/event"
	"nexrelay.dev/nostr/hex"
	"nexrelay.dev/nostr/kind"
	"nexrelay.dev/nostr/tag"
	"nexrelay.dev/nostr/timestamp"
)

// T is a single filter. Nil/empty slices mean "no constraint on that
// dimension", per the wire protocol.
type T struct {
	IDs     []string
	Authors []string
	Kinds   []kind.T
	Tags    map[string][]string
	Since   *timestamp.T
	Until   *timestamp.T
	Limit   *int
	Search  string
}

// New returns an empty, unconstrained filter.
func New() *T { return &T{Tags: map[string][]string{}} }

// j is the wire JSON shape: single-letter tag names appear as "#e", "#p",
// etc, alongside the named fields.
type j map[string]json.RawMessage

// Unmarshal parses a single filter object.
func Unmarshal(b []byte) (f *T, err error) {
	raw := j{}
	if err = json.Unmarshal(b, &raw); err != nil {
		return
	}
	f = New()
	if v, ok := raw["ids"]; ok {
		if err = json.Unmarshal(v, &f.IDs); err != nil {
			return
		}
	}
	if v, ok := raw["authors"]; ok {
		if err = json.Unmarshal(v, &f.Authors); err != nil {
			return
		}
	}
	if v, ok := raw["kinds"]; ok {
		var ks []uint16
		if err = json.Unmarshal(v, &ks); err != nil {
			return
		}
		for _, k := range ks {
			f.Kinds = append(f.Kinds, kind.T(k))
		}
	}
	if v, ok := raw["since"]; ok {
		var ts int64
		if err = json.Unmarshal(v, &ts); err != nil {
			return
		}
		t := timestamp.T(ts)
		f.Since = &t
	}
	if v, ok := raw["until"]; ok {
		var ts int64
		if err = json.Unmarshal(v, &ts); err != nil {
			return
		}
		t := timestamp.T(ts)
		f.Until = &t
	}
	if v, ok := raw["limit"]; ok {
		var l int
		if err = json.Unmarshal(v, &l); err != nil {
			return
		}
		f.Limit = &l
	}
	if v, ok := raw["search"]; ok {
		if err = json.Unmarshal(v, &f.Search); err != nil {
			return
		}
	}
	for key, v := range raw {
		if len(key) == 2 && key[0] == '#' {
			var vals []string
			if err = json.Unmarshal(v, &vals); err != nil {
				return
			}
			f.Tags[key[1:]] = vals
		}
	}
	return
}

// Marshal renders f back into the wire JSON shape, with its collections
// sorted so an identical set of constraints always yields identical bytes
// (used by Fingerprint).
func (f *T) Marshal() ([]byte, error) {
	f.Sort()
	raw := map[string]interface{}{}
	if len(f.IDs) > 0 {
		raw["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		raw["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		raw["kinds"] = f.Kinds
	}
	if f.Since != nil {
		raw["since"] = int64(*f.Since)
	}
	if f.Until != nil {
		raw["until"] = int64(*f.Until)
	}
	if f.Limit != nil {
		raw["limit"] = *f.Limit
	}
	if f.Search != "" {
		raw["search"] = f.Search
	}
	names := make([]string, 0, len(f.Tags))
	for name := range f.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if len(f.Tags[name]) > 0 {
			raw["#"+name] = f.Tags[name]
		}
	}
	return json.Marshal(raw)
}

// Sort normalizes the ordering of every collection in f so that two filters
// built from the same set of constraints marshal identically.
func (f *T) Sort() {
	sort.Strings(f.IDs)
	sort.Strings(f.Authors)
	sort.Slice(f.Kinds, func(i, j int) bool { return f.Kinds[i] < f.Kinds[j] })
	for _, v := range f.Tags {
		sort.Strings(v)
	}
}

// Fingerprint returns an 8-byte truncated sha256 hash of the canonical
// marshaled form of f, with Limit excluded, so filters imposing the same
// constraints share a fingerprint (see Equal).
func (f *T) Fingerprint() (uint64, error) {
	lim := f.Limit
	f.Limit = nil
	b, err := f.Marshal()
	f.Limit = lim
	if err != nil {
		return 0, err
	}
	h := sha256.Sum256(b)
	return binary.LittleEndian.Uint64(h[:8]), nil
}

// Equal reports whether f and o impose the same constraints.
func (f *T) Equal(o *T) bool {
	af, err1 := f.Fingerprint()
	ao, err2 := o.Fingerprint()
	return err1 == nil && err2 == nil && af == ao
}

func idMatches(ids []string, id []byte) bool {
	if len(ids) == 0 {
		return true
	}
	full := hex.Enc(id)
	for _, prefix := range ids {
		if strings.HasPrefix(full, prefix) {
			return true
		}
	}
	return false
}

func authorMatches(authors []string, pubkey []byte) bool {
	if len(authors) == 0 {
		return true
	}
	full := hex.Enc(pubkey)
	for _, prefix := range authors {
		if strings.HasPrefix(full, prefix) {
			return true
		}
	}
	return false
}

func kindMatches(kinds []kind.T, k kind.T) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

func tagsMatch(want map[string][]string, have tag.S) bool {
	for name, vals := range want {
		if len(vals) == 0 {
			continue
		}
		matched := false
		for _, v := range vals {
			if have.ContainsValue(name, v) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Matches reports whether ev satisfies every constraint in f. Authors and
// ids may be given as hex prefixes shorter than the full 64 characters; a
// prefix matches any id/pubkey sharing it.
func (f *T) Matches(ev *event.T) bool {
	if ev == nil {
		return false
	}
	if !idMatches(f.IDs, ev.ID) {
		return false
	}
	if !kindMatches(f.Kinds, ev.Kind) {
		return false
	}
	if !authorMatches(f.Authors, ev.Pubkey) {
		return false
	}
	if !tagsMatch(f.Tags, ev.Tags) {
		return false
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	return true
}

// Kind describes which secondary index best serves a filter.
type Kind int

const (
	// ScanIDs looks events up directly by id; used when IDs is non-empty
	// and every id is a full 64-hex string.
	ScanIDs Kind = iota
	// ScanAuthorsKinds scans the pubkey+kind+created_at index; used when
	// Authors is non-empty and every author is a full 64-hex pubkey.
	ScanAuthorsKinds
	// ScanTag scans a tag-value index; used when at least one tag
	// constraint is present and neither the id nor the author index
	// applies. Only one tag name is scanned; Matches checks the rest.
	ScanTag
	// ScanCreatedAt falls back to a full scan of the kind+created_at (or
	// global created_at) index, for filters too broad to use a narrower
	// index.
	ScanCreatedAt
)

// IndexScan is the result of planning a filter: which index to consume and
// any narrowing parameters the store needs.
type IndexScan struct {
	Kind    Kind
	TagName string
}

// Plan selects the most selective index available for f, in priority order
// ids, authors+kinds, tag values, created_at range. A dimension given as
// hex prefixes rather than full ids/pubkeys can't be served by its
// point-lookup index and falls through to the next candidate.
func (f *T) Plan() IndexScan {
	if len(f.IDs) > 0 {
		fullIDs := true
		for _, id := range f.IDs {
			if len(id) != 64 {
				fullIDs = false
				break
			}
		}
		if fullIDs {
			return IndexScan{Kind: ScanIDs}
		}
	}
	fullAuthors := len(f.Authors) > 0
	for _, a := range f.Authors {
		if len(a) != 64 {
			// a prefix author can't be resolved through the pubkey index;
			// fall through to a broader scan and let Matches narrow it
			fullAuthors = false
			break
		}
	}
	if fullAuthors {
		return IndexScan{Kind: ScanAuthorsKinds}
	}
	for name, vals := range f.Tags {
		if len(vals) > 0 {
			return IndexScan{Kind: ScanTag, TagName: name}
		}
	}
	return IndexScan{Kind: ScanCreatedAt}
}

// IsScrapeCandidate reports whether f has no selective constraint at all
// (no ids, authors, or tags) and thus relies purely on kind/time range,
// which the ip policy may want to rate-limit more aggressively.
func (f *T) IsScrapeCandidate() bool {
	if len(f.IDs) > 0 || len(f.Authors) > 0 {
		return false
	}
	for _, v := range f.Tags {
		if len(v) > 0 {
			return false
		}
	}
	return true
}
