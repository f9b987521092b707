package data

import (
	"strconv"
	"strings"
)

// wrapperContainers lists the fields searched, in order, when a path does not
// resolve from the top level of a record. A record {"payload": {"id": 1}}
// therefore answers the path "id".
var wrapperContainers = []string{"payload", "data"}

// ResolvePath looks up a dotted path such as "payload.id" or "items.0.name"
// in root. Numeric segments index into arrays.
func ResolvePath(root *Object, path string) (Value, bool) {
	path = strings.TrimSpace(path)
	if path == "" || root == nil {
		return Value{}, false
	}
	segments := strings.Split(path, ".")
	if v, ok := walk(root, segments); ok {
		return v, true
	}
	for _, name := range wrapperContainers {
		if segments[0] == name {
			continue
		}
		inner, ok := root.Get(name)
		if !ok {
			continue
		}
		obj, ok := inner.AsObject()
		if !ok {
			continue
		}
		if v, ok := walk(obj, segments); ok {
			return v, true
		}
	}
	return Value{}, false
}

func walk(root *Object, segments []string) (Value, bool) {
	cur := ObjectValue(root)
	for _, seg := range segments {
		switch cur.Kind() {
		case KindObject:
			obj, _ := cur.AsObject()
			next, ok := obj.Get(seg)
			if !ok {
				return Value{}, false
			}
			cur = next
		case KindArray:
			items, _ := cur.AsArray()
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(items) {
				return Value{}, false
			}
			cur = items[i]
		default:
			return Value{}, false
		}
	}
	return cur, true
}
