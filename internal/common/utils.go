package common

// HasAny returns true if m contains any of the keys.
func HasAny(m map[string]any, keys ...string) bool {
	_, _, ok := Lookup(m, keys...)
	return ok
}

// Lookup returns the value of the first key present in m with a non-null
// value, trying keys in order. The matched key is returned alongside.
func Lookup(m map[string]any, keys ...string) (any, string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, k, true
		}
	}
	return nil, "", false
}

// LookupList is Lookup restricted to JSON arrays.
func LookupList(m map[string]any, keys ...string) ([]any, bool) {
	for _, k := range keys {
		if v, ok := m[k].([]any); ok {
			return v, true
		}
	}
	return nil, false
}

// LookupObject is Lookup restricted to JSON objects.
func LookupObject(m map[string]any, keys ...string) (map[string]any, bool) {
	for _, k := range keys {
		if v, ok := m[k].(map[string]any); ok {
			return v, true
		}
	}
	return nil, false
}
