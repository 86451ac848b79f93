package ir

// Merge applies a partial update to base and returns a new object.
//
// Field semantics:
//   - a field present in patch overwrites the same field in base
//   - a field absent from patch is preserved from base
//   - a field whose patch value is Null is removed
//   - nested objects are replaced whole, never deep-merged
//
// Neither argument is modified.
func Merge(base, patch Object) Object {
	out := base.Clone()
	for k, v := range patch {
		if _, isNull := v.(Null); isNull || v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
