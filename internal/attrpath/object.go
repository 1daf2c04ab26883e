package attrpath

import "sort"

// Object exposes named fields to the path protocol.
type Object interface {
	// Field returns the value of a field and whether it exists.
	Field(name string) (any, bool)

	// SetField creates or replaces a field.
	SetField(name string, value any) error

	// DeleteField removes a field. Missing fields return ErrLookup.
	DeleteField(name string) error
}

// Container is a keyed collection the path protocol can walk through.
// map[string]any satisfies the protocol without implementing it.
type Container interface {
	Lookup(key string) (any, bool)
	Store(key string, value any)
	Remove(key string)
	Len() int
}

// Fields is a map-backed Object.
type Fields map[string]any

// Field implements Object.
func (f Fields) Field(name string) (any, bool) {
	v, ok := f[name]
	return v, ok
}

// SetField implements Object.
func (f Fields) SetField(name string, value any) error {
	f[name] = value
	return nil
}

// DeleteField implements Object.
func (f Fields) DeleteField(name string) error {
	if _, ok := f[name]; !ok {
		return ErrLookup
	}
	delete(f, name)
	return nil
}

// Names returns the field names in sorted order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type mapContainer map[string]any

func (m mapContainer) Lookup(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

func (m mapContainer) Store(key string, value any) { m[key] = value }
func (m mapContainer) Remove(key string)            { delete(m, key) }
func (m mapContainer) Len() int                     { return len(m) }

// Clone returns a deep copy of v's maps and slices. Other values,
// including custom Containers, are returned as they are.
func Clone(v any) any {
	switch c := v.(type) {
	case map[string]any:
		if c == nil {
			return c
		}
		out := make(map[string]any, len(c))
		for k, e := range c {
			out[k] = Clone(e)
		}
		return out
	case Fields:
		if c == nil {
			return c
		}
		out := make(Fields, len(c))
		for k, e := range c {
			out[k] = Clone(e)
		}
		return out
	case []any:
		if c == nil {
			return c
		}
		out := make([]any, len(c))
		for i, e := range c {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// asContainer returns v as a Container if it is one.
func asContainer(v any) (Container, bool) {
	switch c := v.(type) {
	case map[string]any:
		if c == nil {
			return nil, false
		}
		return mapContainer(c), true
	case Fields:
		if c == nil {
			return nil, false
		}
		return mapContainer(c), true
	case Container:
		return c, true
	default:
		return nil, false
	}
}
