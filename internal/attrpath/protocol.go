package attrpath

import "fmt"

// Get returns the value addressed by p.
func Get(obj Object, p Path) (any, error) {
	return get(obj, p, false, nil)
}

// GetOr returns the value addressed by p, or def when a field or key along
// the way is missing. A non-container mid-path is still an error.
func GetOr(obj Object, p Path, def any) (any, error) {
	return get(obj, p, true, def)
}

func get(obj Object, p Path, hasDefault bool, def any) (any, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	v, ok := obj.Field(p[0].name)
	if !ok {
		if hasDefault {
			return def, nil
		}
		return nil, fmt.Errorf("%w: field %s", ErrLookup, p[:1])
	}

	for i, seg := range p[1:] {
		c, isContainer := asContainer(v)
		if !isContainer {
			return nil, fmt.Errorf("%w: %s is %T", ErrTypeMismatch, p[:i+1], v)
		}
		v, ok = c.Lookup(seg.name)
		if !ok {
			if hasDefault {
				return def, nil
			}
			return nil, fmt.Errorf("%w: key %s", ErrLookup, p[:i+2])
		}
	}
	return v, nil
}

// Set assigns value at p, creating empty intermediate containers (and the
// field itself) where they are missing.
func Set(obj Object, p Path, value any) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if len(p) == 1 {
		return obj.SetField(p[0].name, value)
	}

	v, ok := obj.Field(p[0].name)
	if !ok {
		m := map[string]any{}
		if err := obj.SetField(p[0].name, m); err != nil {
			return err
		}
		v = m
	}

	c, isContainer := asContainer(v)
	if !isContainer {
		return fmt.Errorf("%w: %s is %T", ErrTypeMismatch, p[:1], v)
	}

	last := len(p) - 1
	for i := 1; i < last; i++ {
		next, ok := c.Lookup(p[i].name)
		if !ok {
			m := map[string]any{}
			c.Store(p[i].name, m)
			next = m
		}
		c, isContainer = asContainer(next)
		if !isContainer {
			return fmt.Errorf("%w: %s is %T", ErrTypeMismatch, p[:i+1], next)
		}
	}

	c.Store(p[last].name, value)
	return nil
}

// Delete removes the value at p. With prune, containers emptied by the
// deletion are removed walking outward, and the field itself is removed if
// its container ends up empty.
func Delete(obj Object, p Path, prune bool) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if len(p) == 1 {
		if err := obj.DeleteField(p[0].name); err != nil {
			return fmt.Errorf("deleting %s: %w", p, err)
		}
		return nil
	}

	v, ok := obj.Field(p[0].name)
	if !ok {
		return fmt.Errorf("%w: field %s", ErrLookup, p[:1])
	}
	root, isContainer := asContainer(v)
	if !isContainer {
		return fmt.Errorf("%w: %s is %T", ErrTypeMismatch, p[:1], v)
	}

	type branch struct {
		child  Container
		parent Container
		key    string
	}

	var tree []branch
	c := root
	last := len(p) - 1
	for i := 1; i < last; i++ {
		next, ok := c.Lookup(p[i].name)
		if !ok {
			return fmt.Errorf("%w: key %s", ErrLookup, p[:i+1])
		}
		child, isContainer := asContainer(next)
		if !isContainer {
			return fmt.Errorf("%w: %s is %T", ErrTypeMismatch, p[:i+1], next)
		}
		tree = append(tree, branch{child: child, parent: c, key: p[i].name})
		c = child
	}

	if _, ok := c.Lookup(p[last].name); !ok {
		return fmt.Errorf("%w: key %s", ErrLookup, p)
	}
	c.Remove(p[last].name)

	if !prune {
		return nil
	}

	for i := len(tree) - 1; i >= 0; i-- {
		if tree[i].child.Len() != 0 {
			break
		}
		tree[i].parent.Remove(tree[i].key)
	}
	if root.Len() == 0 {
		if err := obj.DeleteField(p[0].name); err != nil {
			return fmt.Errorf("pruning %s: %w", p[:1], err)
		}
	}
	return nil
}
