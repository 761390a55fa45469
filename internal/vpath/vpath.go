// Package vpath implements the virtual path convention used by file records.
//
// A virtual path is a slash-delimited string with no leading or trailing
// slash. The empty string is the project root. Every path stored in metadata
// or compared by other packages must have passed through Normalize.
package vpath

import "strings"

// Separator joins virtual path segments.
const Separator = "/"

// Normalize canonicalizes a virtual path: backslashes become slashes,
// repeated slashes collapse, leading and trailing slashes are stripped and
// whitespace around each segment is trimmed. Normalize is idempotent.
func Normalize(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", Separator)

	parts := strings.Split(p, Separator)
	out := parts[:0]
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, Separator)
}

// Join appends name to parent. Both are expected to be normalized; an empty
// parent is the root.
func Join(parent, name string) string {
	if parent == "" {
		return name
	}
	if name == "" {
		return parent
	}
	return parent + Separator + name
}

// Parent returns the directory containing p, or "" for a root-level entry.
func Parent(p string) string {
	i := strings.LastIndex(p, Separator)
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Base returns the last segment of p.
func Base(p string) string {
	return p[strings.LastIndex(p, Separator)+1:]
}

// IsDescendant reports whether p lies strictly below dir. The comparison is
// made against dir+"/" so that "ab/x" is not considered to be under "a".
// Every path is a descendant of the root.
func IsDescendant(p, dir string) bool {
	if dir == "" {
		return p != ""
	}
	return strings.HasPrefix(p, dir+Separator)
}

// Within reports whether p equals dir or lies below it.
func Within(p, dir string) bool {
	return p == dir || IsDescendant(p, dir)
}

// Rebase replaces the oldDir prefix of p with newDir, keeping the suffix.
// p must be within oldDir.
func Rebase(p, oldDir, newDir string) string {
	if p == oldDir {
		return newDir
	}
	suffix := p
	if oldDir != "" {
		suffix = strings.TrimPrefix(p, oldDir+Separator)
	}
	return Join(newDir, suffix)
}

// Remainder returns the part of p below dir, or "" when p is not a
// descendant of dir.
func Remainder(p, dir string) string {
	if !IsDescendant(p, dir) {
		return ""
	}
	if dir == "" {
		return p
	}
	return p[len(dir)+1:]
}

// FirstSegment splits p at its first separator. rest is "" when p has a
// single segment.
func FirstSegment(p string) (head, rest string, nested bool) {
	i := strings.Index(p, Separator)
	if i < 0 {
		return p, "", false
	}
	return p[:i], p[i+1:], true
}
