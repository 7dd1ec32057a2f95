// Package filter implements strict tag/scheme filtering. A filter is
// resolved into a candidate Universe before any ranking happens, so
// relevance scoring can never surface a document the filter excludes.
package filter

import (
	"fmt"
	"sort"
	"strings"
)

// StrictFilter is a hard boolean predicate over document tags and schemes.
//
// Tag and scheme matching is case-insensitive and hierarchical: the filter tag
// "lang/go" matches document tags "lang/go" and "lang/go/generics" but not
// "lang/golang".
type StrictFilter struct {
	RequiredTags    []string `json:"required_tags,omitempty" yaml:"required_tags,omitempty"`
	AnyTags         []string `json:"any_tags,omitempty" yaml:"any_tags,omitempty"`
	ExcludedTags    []string `json:"excluded_tags,omitempty" yaml:"excluded_tags,omitempty"`
	RequiredSchemes []string `json:"required_schemes,omitempty" yaml:"required_schemes,omitempty"`
	ExcludedSchemes []string `json:"excluded_schemes,omitempty" yaml:"excluded_schemes,omitempty"`
}

// IsEmpty reports whether the filter constrains nothing.
func (f StrictFilter) IsEmpty() bool {
	n := f.Normalize()
	return len(n.RequiredTags) == 0 && len(n.AnyTags) == 0 && len(n.ExcludedTags) == 0 &&
		len(n.RequiredSchemes) == 0 && len(n.ExcludedSchemes) == 0
}

// Normalize lowercases and trims every entry, strips trailing slashes and
// drops empty or duplicate entries.
func (f StrictFilter) Normalize() StrictFilter {
	return StrictFilter{
		RequiredTags:    normalizeList(f.RequiredTags),
		AnyTags:         normalizeList(f.AnyTags),
		ExcludedTags:    normalizeList(f.ExcludedTags),
		RequiredSchemes: normalizeList(f.RequiredSchemes),
		ExcludedSchemes: normalizeList(f.ExcludedSchemes),
	}
}

// NormalizeTag returns the canonical form used for tag comparison.
func NormalizeTag(tag string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(tag)), "/")
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		n := NormalizeTag(v)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// TagMatches reports whether filterTag hierarchically matches docTag.
func TagMatches(filterTag, docTag string) bool {
	f, d := NormalizeTag(filterTag), NormalizeTag(docTag)
	if f == "" {
		return false
	}
	return d == f || strings.HasPrefix(d, f+"/")
}

func anyMatch(filterTags, docTags []string) bool {
	for _, ft := range filterTags {
		for _, dt := range docTags {
			if TagMatches(ft, dt) {
				return true
			}
		}
	}
	return false
}

// Validate rejects filters that cannot mean what they say: a blank entry,
// which would otherwise be dropped and widen the filter, or a required tag
// that an excluded tag also covers.
func (f StrictFilter) Validate() error {
	lists := []struct {
		name   string
		values []string
	}{
		{"required_tags", f.RequiredTags},
		{"any_tags", f.AnyTags},
		{"excluded_tags", f.ExcludedTags},
		{"required_schemes", f.RequiredSchemes},
		{"excluded_schemes", f.ExcludedSchemes},
	}
	for _, l := range lists {
		for i, v := range l.values {
			if NormalizeTag(v) == "" {
				return fmt.Errorf("%s[%d] is blank", l.name, i)
			}
		}
	}

	n := f.Normalize()
	for _, rt := range n.RequiredTags {
		for _, et := range n.ExcludedTags {
			if TagMatches(et, rt) {
				return fmt.Errorf("required tag %q is excluded by %q", rt, et)
			}
		}
	}
	return nil
}

// Admit reports whether a document with the given tags and scheme
// memberships passes the filter.
func (f StrictFilter) Admit(tags, schemes []string) bool {
	n := f.Normalize()

	if anyMatch(n.ExcludedSchemes, schemes) {
		return false
	}
	if len(n.RequiredSchemes) > 0 && !anyMatch(n.RequiredSchemes, schemes) {
		return false
	}
	return n.admitTags(tags)
}

// AdmitTags applies only the tag clauses. Search uses it to re-check
// candidates against the tags carried in chunk metadata.
func (f StrictFilter) AdmitTags(tags []string) bool {
	return f.Normalize().admitTags(tags)
}

// admitTags expects a normalized filter.
func (f StrictFilter) admitTags(tags []string) bool {
	if anyMatch(f.ExcludedTags, tags) {
		return false
	}
	for _, rt := range f.RequiredTags {
		if !anyMatch([]string{rt}, tags) {
			return false
		}
	}
	if len(f.AnyTags) > 0 && !anyMatch(f.AnyTags, tags) {
		return false
	}
	return true
}
