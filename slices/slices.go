// Package slices contains slice helpers missing from golang.org/x/exp/slices.
package slices

// Pop removes and returns the last element of s.
func Pop[E any, S ~[]E](s S) (E, S, bool) {
	if len(s) == 0 {
		return *new(E), s, false
	}
	e := s[len(s)-1]
	s = s[:len(s)-1]
	return e, s, true
}

// Dedup returns the elements of s in their original order with later duplicates removed.
func Dedup[E comparable, S ~[]E](s S) S {
	seen := make(map[E]struct{}, len(s))
	out := make(S, 0, len(s))
	for _, e := range s {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Remove deletes the first occurrence of v from s and reports whether it was found.
func Remove[E comparable, S ~[]E](s S, v E) (S, bool) {
	for i, e := range s {
		if e == v {
			copy(s[i:], s[i+1:])
			s[len(s)-1] = *new(E)
			return s[:len(s)-1], true
		}
	}
	return s, false
}
