package attrpath

import (
	"fmt"
	"strings"
)

type segmentKind uint8

const (
	fieldSegment segmentKind = iota + 1
	keySegment
)

// Segment is one hop of a Path.
type Segment struct {
	kind segmentKind
	name string
}

// Field addresses a top-level field of an Object.
func Field(name string) Segment { return Segment{kind: fieldSegment, name: name} }

// Key addresses an entry of a container.
func Key(key string) Segment { return Segment{kind: keySegment, name: key} }

// IsField reports whether s is a Field segment.
func (s Segment) IsField() bool { return s.kind == fieldSegment }

// Name returns the field name or key.
func (s Segment) Name() string { return s.name }

// Path addresses a field, or a value nested inside containers reached from a
// field.
type Path []Segment

// Name is a single-field path.
func Name(field string) Path { return Path{Field(field)} }

// Nested is a path that starts at field and indexes through keys.
func Nested(field string, keys ...string) Path {
	p := make(Path, 0, len(keys)+1)
	p = append(p, Field(field))
	for _, k := range keys {
		p = append(p, Key(k))
	}
	return p
}

// FromStrings builds a path from its wire form: the first element names the
// field, the rest are keys.
func FromStrings(parts []string) Path {
	if len(parts) == 0 {
		return nil
	}
	return Nested(parts[0], parts[1:]...)
}

// Strings returns the wire form of p.
func (p Path) Strings() []string {
	out := make([]string, len(p))
	for i, s := range p {
		out[i] = s.name
	}
	return out
}

// Validate checks that p is a Field followed only by Keys.
func (p Path) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if !p[0].IsField() {
		return fmt.Errorf("%w: %s does not start with a field", ErrInvalidPath, p)
	}
	for _, s := range p[1:] {
		if s.IsField() {
			return fmt.Errorf("%w: %s has a field after the first segment", ErrInvalidPath, p)
		}
	}
	return nil
}

// String renders p as field[key][key].
func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		if i == 0 {
			b.WriteString(s.name)
			continue
		}
		fmt.Fprintf(&b, "[%q]", s.name)
	}
	return b.String()
}
