package vpath

import (
	"path"
	"strconv"
	"strings"
)

// NameSet is the set of names taken in one destination folder. It is
// mutable so that a batch can reserve names as it writes them.
type NameSet map[string]struct{}

// NewNameSet builds a set from existing names.
func NewNameSet(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is taken.
func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Add marks name as taken.
func (s NameSet) Add(name string) {
	s[name] = struct{}{}
}

// Remove releases name.
func (s NameSet) Remove(name string) {
	delete(s, name)
}

// SplitExt splits a file name into stem and extension (including the dot).
// Leading-dot names such as ".env" have no extension.
func SplitExt(name string) (stem, ext string) {
	ext = path.Ext(name)
	if ext == name || ext == "." {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// UniqueName returns base if it is free in existing, otherwise the first free
// "stem_N.ext" for N = 1, 2, .... The returned name is added to existing.
func UniqueName(base string, existing NameSet) string {
	name := base
	if existing.Has(name) {
		stem, ext := SplitExt(base)
		for n := 1; ; n++ {
			name = stem + "_" + strconv.Itoa(n) + ext
			if !existing.Has(name) {
				break
			}
		}
	}
	existing.Add(name)
	return name
}
