package cache

import "github.com/kvtier/tiercache/value"

// Finding is a scoped lease on a cached value. Construction from a non-nil
// handle leases it; Release must be called once the caller is done
// inspecting it. If the value needs to outlive the Finding's scope, call
// Copy to obtain an independent handle first.
type Finding struct {
	v *value.Handle
}

func newFinding(v *value.Handle) Finding {
	f := Finding{v: v}
	if v != nil {
		v.Lease()
	}
	return f
}

// Found reports whether the lookup succeeded.
func (f Finding) Found() bool { return f.v != nil }

// Value returns the underlying handle, or nil if nothing was found.
func (f Finding) Value() *value.Handle { return f.v }

// Copy returns an independent deep copy of the underlying value, or nil if
// nothing was found. The copy starts with its own zero refcount.
func (f Finding) Copy() *value.Handle {
	if f.v == nil {
		return nil
	}
	return f.v.Copy()
}

// Release must be called when the caller is done with the Finding, exactly
// once. Consumers that only read Copy() results do not need the original
// handle to stay leased any longer.
func (f Finding) Release() {
	if f.v != nil {
		f.v.Release()
	}
}
