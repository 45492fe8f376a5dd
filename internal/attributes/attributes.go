// Package attributes parses converter attribute strings attached to asset
// references, e.g. `width=300 width.html=50% scale=2 draft`.
//
// An attribute is either a key=value pair or a positional flag. Keys may carry
// a target suffix (`scale.html`) that overrides the generic key (`scale`) when
// building that target. Unknown keys are preserved, not rejected, so that
// target-specific options pass through converters that do not understand them.
package attributes

import (
	"sort"
	"strconv"
	"strings"
)

// Attribute is a single parsed entry. Positional flags have HasValue false.
type Attribute struct {
	Key      string
	Value    string
	HasValue bool
}

// Set is an ordered collection of attributes. Later entries win over earlier
// ones with the same key.
type Set struct {
	attrs []Attribute
}

// Parse splits an attribute string into a Set.
//
// Values may be single- or double-quoted to include spaces. Malformed
// fragments (dangling quote) consume to end of string rather than erroring;
// scanning must stay total because attribute strings come from user markup.
func Parse(s string) Set {
	var set Set
	i := 0
	n := len(s)
	for i < n {
		for i < n && isSpace(s[i]) {
			i++
		}
		if i >= n {
			break
		}
		start := i
		key := ""
		value := ""
		hasValue := false
		for i < n && !isSpace(s[i]) && s[i] != '=' {
			i++
		}
		key = s[start:i]
		if i < n && s[i] == '=' {
			i++
			hasValue = true
			if i < n && (s[i] == '\'' || s[i] == '"') {
				quote := s[i]
				i++
				vstart := i
				for i < n && s[i] != quote {
					i++
				}
				value = s[vstart:i]
				if i < n {
					i++ // closing quote
				}
			} else {
				vstart := i
				for i < n && !isSpace(s[i]) {
					i++
				}
				value = s[vstart:i]
			}
		}
		if key == "" {
			continue
		}
		set.attrs = append(set.attrs, Attribute{Key: key, Value: value, HasValue: hasValue})
	}
	return set
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// FromPairs builds a Set from alternating key, value strings.
func FromPairs(pairs ...string) Set {
	var set Set
	for i := 0; i+1 < len(pairs); i += 2 {
		set.attrs = append(set.attrs, Attribute{Key: pairs[i], Value: pairs[i+1], HasValue: true})
	}
	return set
}

// Len reports the number of entries, including shadowed duplicates.
func (s Set) Len() int { return len(s.attrs) }

// Empty reports whether the set holds no entries.
func (s Set) Empty() bool { return len(s.attrs) == 0 }

// normalizeTarget strips a leading dot so ".html" and "html" match the same
// suffixed keys.
func normalizeTarget(target string) string {
	return strings.TrimPrefix(target, ".")
}

// Get resolves name for the given target: `name.target` wins over plain
// `name`. Among entries with the same key, the last one wins.
func (s Set) Get(name, target string) (string, bool) {
	target = normalizeTarget(target)
	if target != "" {
		if v, ok := s.lookup(name + "." + target); ok {
			return v, true
		}
	}
	return s.lookup(name)
}

func (s Set) lookup(key string) (string, bool) {
	for i := len(s.attrs) - 1; i >= 0; i-- {
		if s.attrs[i].Key == key && s.attrs[i].HasValue {
			return s.attrs[i].Value, true
		}
	}
	return "", false
}

// Flag reports whether a positional flag is present, honoring target
// suffixes (`draft.html`).
func (s Set) Flag(name, target string) bool {
	target = normalizeTarget(target)
	for i := len(s.attrs) - 1; i >= 0; i-- {
		a := s.attrs[i]
		if a.HasValue {
			continue
		}
		if a.Key == name {
			return true
		}
		if target != "" && a.Key == name+"."+target {
			return true
		}
	}
	return false
}

// GetInt resolves name as an integer. Trailing units ("300px") are ignored.
func (s Set) GetInt(name, target string) (int, bool) {
	v, ok := s.Get(name, target)
	if !ok {
		return 0, false
	}
	v = trimUnit(v)
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetFloat resolves name as a float. Trailing units are ignored.
func (s Set) GetFloat(name, target string) (float64, bool) {
	v, ok := s.Get(name, target)
	if !ok {
		return 0, false
	}
	v = trimUnit(v)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func trimUnit(v string) string {
	end := len(v)
	for end > 0 {
		c := v[end-1]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' {
			break
		}
		end--
	}
	return v[:end]
}

// Merge returns a new Set with over's entries appended, so they shadow the
// receiver's entries with the same key.
func (s Set) Merge(over Set) Set {
	merged := Set{attrs: make([]Attribute, 0, len(s.attrs)+len(over.attrs))}
	merged.attrs = append(merged.attrs, s.attrs...)
	merged.attrs = append(merged.attrs, over.attrs...)
	return merged
}

// ForTarget flattens the set for one target: target-suffixed keys for this
// target replace their generic form, suffixed keys for other targets are
// dropped, and shadowed duplicates collapse. The result carries no suffixes.
func (s Set) ForTarget(target string) Set {
	target = normalizeTarget(target)
	type slot struct {
		attr     Attribute
		specific bool
	}
	order := make([]string, 0, len(s.attrs))
	byKey := make(map[string]slot, len(s.attrs))
	for _, a := range s.attrs {
		key := a.Key
		specific := false
		if dot := strings.LastIndexByte(key, '.'); dot > 0 {
			base, suffix := key[:dot], key[dot+1:]
			if suffix != target {
				if isKnownTargetSuffix(suffix) {
					continue
				}
			} else {
				key = base
				specific = true
			}
		}
		prev, seen := byKey[key]
		if !seen {
			order = append(order, key)
		}
		if seen && prev.specific && !specific {
			continue
		}
		byKey[key] = slot{attr: Attribute{Key: key, Value: a.Value, HasValue: a.HasValue}, specific: specific}
	}
	out := Set{attrs: make([]Attribute, 0, len(order))}
	for _, key := range order {
		out.attrs = append(out.attrs, byKey[key].attr)
	}
	return out
}

// knownTargetSuffixes keeps dotted filenames (`logo.small`) from being
// misread as target-suffixed keys.
var knownTargetSuffixes = map[string]bool{
	"html": true, "tex": true, "pdf": true, "epub": true,
	"xhtml": true, "txt": true, "svg": true,
}

func isKnownTargetSuffix(s string) bool { return knownTargetSuffixes[s] }

// Canonical returns a stable textual form used in cache identities: entries
// are flattened to last-wins, then sorted by key.
func (s Set) Canonical() string {
	latest := make(map[string]Attribute, len(s.attrs))
	for _, a := range s.attrs {
		latest[a.Key] = a
	}
	keys := make([]string, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		a := latest[k]
		if a.HasValue {
			b.WriteString(a.Key)
			b.WriteByte('=')
			b.WriteString(a.Value)
		} else {
			b.WriteString(a.Key)
		}
	}
	return b.String()
}

// String renders entries in declaration order.
func (s Set) String() string {
	var b strings.Builder
	for i, a := range s.attrs {
		if i > 0 {
			b.WriteByte(' ')
		}
		if a.HasValue {
			b.WriteString(a.Key)
			b.WriteByte('=')
			b.WriteString(a.Value)
		} else {
			b.WriteString(a.Key)
		}
	}
	return b.String()
}
