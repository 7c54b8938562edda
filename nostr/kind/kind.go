// Package kind classifies the numeric event kind field into the five
// replacement classes the store and write policy need to distinguish:
// regular, replaceable, ephemeral, parameterized-replaceable and deletion.
package kind

// T is a numeric event kind.
type T uint16

const (
	Metadata     T = 0
	Text         T = 1
	Follows      T = 3
	Deletion     T = 5

	replaceableLo   = 10000
	replaceableHi   = 19999
	ephemeralLo     = 20000
	ephemeralHi     = 29999
	paramReplLo     = 30000
	paramReplHi     = 39999
)

// IsReplaceable reports whether only the latest event of this kind per
// pubkey is retained.
func (k T) IsReplaceable() bool {
	if k == Metadata || k == Follows {
		return true
	}
	return k >= replaceableLo && k <= replaceableHi
}

// IsEphemeral reports whether events of this kind are never persisted.
func (k T) IsEphemeral() bool { return k >= ephemeralLo && k <= ephemeralHi }

// IsParameterizedReplaceable reports whether only the latest event per
// (pubkey, kind, d-tag value) is retained.
func (k T) IsParameterizedReplaceable() bool { return k >= paramReplLo && k <= paramReplHi }

// IsDeletion reports whether this is a kind-5 deletion event.
func (k T) IsDeletion() bool { return k == Deletion }

// IsRegular reports whether this kind falls in none of the special classes,
// meaning every event of this kind is retained indefinitely.
func (k T) IsRegular() bool {
	return !k.IsReplaceable() && !k.IsEphemeral() && !k.IsParameterizedReplaceable() && !k.IsDeletion()
}
