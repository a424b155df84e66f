package jsonmerge

import (
	"fmt"
	"path"
	"strings"

	"github.com/schaermu/toolsync/internal/apperr"
)

// splitKeyPath splits a dotted key path such as "provider.llama_cpp.npm".
func splitKeyPath(keyPath string) []string {
	if keyPath == "" {
		return nil
	}
	return strings.Split(keyPath, ".")
}

// Lookup resolves a dotted key path through nested objects.
func Lookup(v Value, keyPath string) (Value, bool) {
	cur := v
	for _, seg := range splitKeyPath(keyPath) {
		obj, ok := cur.AsObject()
		if !ok {
			return Value{}, false
		}
		cur, ok = obj.Get(seg)
		if !ok {
			return Value{}, false
		}
	}
	return cur, true
}

// Extract returns an object holding only the given key paths of v. Paths
// that do not fully resolve are omitted. Members keep the order they have
// in v. Values matching an exclude pattern (dotted, with path.Match wildcards
// per segment) are pruned from the result.
func Extract(v Value, keyPaths, excludePatterns []string) Value {
	wanted := make(map[string]bool)
	prefixes := make(map[string]bool)
	for _, kp := range keyPaths {
		if _, ok := Lookup(v, kp); !ok {
			continue
		}
		wanted[kp] = true
		segs := splitKeyPath(kp)
		for i := 1; i < len(segs); i++ {
			prefixes[strings.Join(segs[:i], ".")] = true
		}
	}

	out := NewObject()
	if obj, ok := v.AsObject(); ok {
		filterInto(out, obj, "", wanted, prefixes)
	}
	result := ObjectValue(out)
	for _, pattern := range excludePatterns {
		prune(result, splitKeyPath(pattern))
	}
	return result
}

func filterInto(out, src *Object, prefix string, wanted, prefixes map[string]bool) {
	for _, k := range src.keys {
		full := k
		if prefix != "" {
			full = prefix + "." + k
		}
		member := src.values[k]
		if wanted[full] {
			out.Set(k, member.Clone())
			continue
		}
		if !prefixes[full] {
			continue
		}
		if child, ok := member.AsObject(); ok {
			sub := NewObject()
			filterInto(sub, child, full, wanted, prefixes)
			if sub.Len() > 0 {
				out.Set(k, ObjectValue(sub))
			}
		}
	}
}

// prune removes every member of v addressed by the pattern segments and
// drops objects left empty by the removal. It reports whether anything was
// removed.
func prune(v Value, segs []string) bool {
	obj, ok := v.AsObject()
	if !ok || len(segs) == 0 {
		return false
	}
	removed := false
	for _, k := range obj.Keys() {
		if !segmentMatch(segs[0], k) {
			continue
		}
		if len(segs) == 1 {
			obj.Delete(k)
			removed = true
			continue
		}
		child, _ := obj.Get(k)
		if prune(child, segs[1:]) {
			removed = true
			if c, ok := child.AsObject(); ok && c.Len() == 0 {
				obj.Delete(k)
			}
		}
	}
	return removed
}

func segmentMatch(pattern, key string) bool {
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

// MergeInto returns a copy of dest in which every key path present in
// extracted has been set to its extracted value. Missing intermediate objects
// are created; nothing outside those key paths changes. A key path absent
// from extracted is removed from dest. Members of dest matching an exclude
// pattern survive both the overwrite and the removal of their key path.
func MergeInto(dest, extracted Value, keyPaths, excludePatterns []string) (Value, error) {
	if dest.IsNull() {
		dest = ObjectValue(nil)
	}
	if _, ok := dest.AsObject(); !ok {
		return Value{}, apperr.Parse("merge", "", fmt.Errorf("destination root is %s, not an object", dest.Kind()))
	}

	result := dest.Clone()
	for _, kp := range keyPaths {
		segs := splitKeyPath(kp)
		if len(segs) == 0 || excluded(segs, excludePatterns) {
			continue
		}

		previous, hadPrevious := Lookup(dest, kp)
		val, ok := Lookup(extracted, kp)
		if !ok {
			if !hadPrevious {
				continue
			}
			kept := ObjectValue(nil)
			keepExcluded(kept, previous, segs, excludePatterns)
			if obj, _ := kept.AsObject(); obj.Len() > 0 {
				setPath(result, segs, kept)
			} else {
				deletePath(result, segs)
			}
			continue
		}

		val = val.Clone()
		if hadPrevious {
			keepExcluded(val, previous, segs, excludePatterns)
		}
		setPath(result, segs, val)
	}
	return result, nil
}

// excluded reports whether an exclude pattern covers the key path itself or
// one of its ancestors.
func excluded(segs, excludePatterns []string) bool {
	for _, pattern := range excludePatterns {
		psegs := splitKeyPath(pattern)
		if len(psegs) > 0 && len(psegs) <= len(segs) && prefixMatches(psegs, segs[:len(psegs)]) {
			return true
		}
	}
	return false
}

// keepExcluded copies the excluded members below the key path from previous
// into val.
func keepExcluded(val, previous Value, segs, excludePatterns []string) {
	for _, pattern := range excludePatterns {
		psegs := splitKeyPath(pattern)
		if len(psegs) <= len(segs) || !prefixMatches(psegs[:len(segs)], segs) {
			continue
		}
		restore(val, previous, psegs[len(segs):])
	}
}

func prefixMatches(patterns, segs []string) bool {
	for i := range patterns {
		if !segmentMatch(patterns[i], segs[i]) {
			return false
		}
	}
	return true
}

// restore copies members of previous addressed by the pattern segments into
// target, recreating enclosing objects that pruning dropped.
func restore(target, previous Value, segs []string) {
	tobj, ok := target.AsObject()
	if !ok {
		return
	}
	pobj, ok := previous.AsObject()
	if !ok {
		return
	}
	for _, k := range pobj.keys {
		if !segmentMatch(segs[0], k) {
			continue
		}
		pv := pobj.values[k]
		if len(segs) == 1 {
			tobj.Set(k, pv.Clone())
			continue
		}
		if tv, ok := tobj.Get(k); ok {
			restore(tv, pv, segs[1:])
			continue
		}
		if _, ok := pv.AsObject(); !ok {
			continue
		}
		child := ObjectValue(nil)
		restore(child, pv, segs[1:])
		if obj, _ := child.AsObject(); obj.Len() > 0 {
			tobj.Set(k, child)
		}
	}
}

// deletePath removes the member addressed by segs. Enclosing objects stay.
func deletePath(root Value, segs []string) {
	obj, _ := root.AsObject()
	for _, seg := range segs[:len(segs)-1] {
		next, ok := obj.Get(seg)
		if !ok {
			return
		}
		if obj, ok = next.AsObject(); !ok {
			return
		}
	}
	obj.Delete(segs[len(segs)-1])
}

func setPath(root Value, segs []string, val Value) {
	obj, _ := root.AsObject()
	for _, seg := range segs[:len(segs)-1] {
		next, ok := obj.Get(seg)
		child, isObj := next.AsObject()
		if !ok || !isObj {
			child = NewObject()
			obj.Set(seg, ObjectValue(child))
		}
		obj = child
	}
	obj.Set(segs[len(segs)-1], val)
}
