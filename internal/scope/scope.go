// Package scope parses and normalizes OAuth scope lists. Clients send scopes
// either as a comma-separated string ("user,user:info") or as an array; both
// normalize to an ordered, deduplicated Set.
package scope

import "strings"

// Set is an ordered collection of scope names without duplicates or blanks.
type Set []string

// Parse splits a comma-separated scope string, stripping all whitespace.
// An empty or blank input yields an empty (non-nil) Set.
func Parse(raw string) Set {
	cleaned := strings.Join(strings.Fields(raw), "")
	if cleaned == "" {
		return Set{}
	}
	return FromList(strings.Split(cleaned, ","))
}

// FromList normalizes an already-split scope list.
func FromList(values []string) Set {
	out := Set{}
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		name := strings.TrimSpace(v)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Has reports whether the set contains any of the named scopes.
func (s Set) Has(names ...string) bool {
	for _, name := range names {
		for _, scope := range s {
			if scope == name {
				return true
			}
		}
	}
	return false
}

// Subset reports whether every scope in s is present in allowed.
func (s Set) Subset(allowed Set) bool {
	for _, scope := range s {
		if !allowed.Has(scope) {
			return false
		}
	}
	return true
}

// Intersect returns the scopes present in both sets, preserving the order
// of s. Scope may only ever shrink through intersection, never grow.
func (s Set) Intersect(other Set) Set {
	out := Set{}
	for _, scope := range s {
		if other.Has(scope) {
			out = append(out, scope)
		}
	}
	return out
}

// Empty reports whether the set holds no scopes.
func (s Set) Empty() bool {
	return len(s) == 0
}

// String renders the set in the comma-separated wire form.
func (s Set) String() string {
	return strings.Join(s, ",")
}
