package session

// Merge applies patch onto base field by field. A set field in patch replaces
// the base value, an unset one keeps it. Fields named in clear are removed
// after the patch is applied, which is the only way to unset a value.
//
// Two writers touching the same field still race; the last one wins.
func Merge(base, patch BookingContext, clear ...Field) BookingContext {
	merged := base.fields()
	for f, v := range patch.fields() {
		merged[f] = v
	}
	for _, f := range clear {
		delete(merged, f)
	}
	return fromFields(merged)
}
