// Package attrpath implements get/set/delete over named fields and nested
// containers reached from them.
//
// A Path is a sequence of tagged segments: one Field naming a top-level field
// of an Object, followed by zero or more Key segments indexing into nested
// containers. Each hop is checked explicitly:
//
//   - a missing field or key is a lookup failure (ErrLookup), which Get
//     replaces with the caller's default when one is supplied;
//   - a value that is not a container where one is needed is a type failure
//     (ErrTypeMismatch), never masked by a default.
//
// Containers are map[string]any values or anything implementing Container.
//
// # Usage
//
//	obj := attrpath.Fields{}
//	_ = attrpath.Set(obj, attrpath.Nested("cal", "ch1", "offset"), 0.12)
//	v, _ := attrpath.GetOr(obj, attrpath.Nested("cal", "ch2"), nil)
//	_ = attrpath.Delete(obj, attrpath.Nested("cal", "ch1", "offset"), true)
package attrpath
