// Package tag implements the event tags field: an ordered list of tags,
// each an ordered list of strings. Single-letter tags (e, p, d, a, ...) are
// the ones the filter and index layers key on.
package tag

// T is a single tag: an ordered sequence of strings, element 0 is the name.
type T []string

// Name returns the tag's name (element 0), or "" if empty.
func (t T) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's first value (element 1), or "" if absent.
func (t T) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Clone returns a deep copy of t.
func (t T) Clone() T {
	c := make(T, len(t))
	copy(c, t)
	return c
}

// S is the ordered list of a single event's tags.
type S []T

// Clone returns a deep copy of s.
func (s S) Clone() S {
	c := make(S, len(s))
	for i, t := range s {
		c[i] = t.Clone()
	}
	return c
}

// GetFirst returns the first tag named name, and whether one was found.
func (s S) GetFirst(name string) (T, bool) {
	for _, t := range s {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Values returns every value (element 1) of tags named name, in order.
func (s S) Values(name string) (vals []string) {
	for _, t := range s {
		if t.Name() == name && len(t) > 1 {
			vals = append(vals, t[1])
		}
	}
	return
}

// ContainsValue reports whether any tag named name has value as its value.
func (s S) ContainsValue(name, value string) bool {
	for _, t := range s {
		if t.Name() == name && len(t) > 1 && t[1] == value {
			return true
		}
	}
	return false
}

// DTagValue returns the value of the first "d" tag, or "" for events that
// have none (treated as the empty-string parameter).
func (s S) DTagValue() string {
	if t, ok := s.GetFirst("d"); ok {
		return t.Value()
	}
	return ""
}
