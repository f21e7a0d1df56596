package aclengine_test

import (
	"testing"

	"github.com/sheetguard/aclengine"
)

func TestPermValueString(t *testing.T) {
	tests := []struct {
		v    aclengine.PermValue
		want string
	}{
		{aclengine.Unset, "unset"},
		{aclengine.Allow, "allow"},
		{aclengine.Deny, "deny"},
		{aclengine.AllowSome, "allow-some"},
		{aclengine.DenySome, "deny-some"},
		{aclengine.Mixed, "mixed"},
		{aclengine.MixedColumns, "mixed-columns"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.v.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPermValuePredicates(t *testing.T) {
	if !aclengine.Allow.Allowed() {
		t.Error("Allow.Allowed() should be true")
	}
	if aclengine.AllowSome.Allowed() {
		t.Error("AllowSome.Allowed() should be false, only Allow permits outright")
	}
	if !aclengine.Deny.Denied() {
		t.Error("Deny.Denied() should be true")
	}
	if !aclengine.Unset.Denied() {
		t.Error("Unset.Denied() should be true, closed-world default")
	}
	for _, v := range []aclengine.PermValue{aclengine.AllowSome, aclengine.DenySome, aclengine.Mixed, aclengine.MixedColumns} {
		if !v.Partial() {
			t.Errorf("%v.Partial() should be true", v)
		}
	}
	for _, v := range []aclengine.PermValue{aclengine.Allow, aclengine.Deny, aclengine.Unset} {
		if v.Partial() {
			t.Errorf("%v.Partial() should be false", v)
		}
	}
}

func TestMergeUnsetFallsThrough(t *testing.T) {
	base := aclengine.ToMixed(aclengine.Empty().WithBit(aclengine.BitRead, aclengine.Allow))
	specific := aclengine.Empty() // every bit Unset
	out := aclengine.Merge(base, specific)
	if out.Read() != aclengine.Allow {
		t.Errorf("Read() = %v, want Allow to fall through from the broader chain", out.Read())
	}
}

func TestMergeSpecificOverridesBroader(t *testing.T) {
	base := aclengine.ToMixed(aclengine.Empty().WithBit(aclengine.BitRead, aclengine.Allow))
	specific := aclengine.Empty().WithBit(aclengine.BitRead, aclengine.Deny)
	out := aclengine.Merge(base, specific)
	if out.Read() != aclengine.Deny {
		t.Errorf("Read() = %v, want the more specific chain's Deny to win", out.Read())
	}
}

func TestMergeAgreeingPartialStaysPartial(t *testing.T) {
	base := aclengine.ToMixed(aclengine.Empty().WithBit(aclengine.BitRead, aclengine.AllowSome))
	specific := aclengine.Empty().WithBit(aclengine.BitRead, aclengine.AllowSome)
	out := aclengine.Merge(base, specific)
	if out.Read() != aclengine.AllowSome {
		t.Errorf("Read() = %v, want AllowSome preserved when both chains agree", out.Read())
	}
}

func TestMergeConflictingPartialBecomesMixed(t *testing.T) {
	base := aclengine.ToMixed(aclengine.Empty().WithBit(aclengine.BitRead, aclengine.AllowSome))
	specific := aclengine.Empty().WithBit(aclengine.BitRead, aclengine.DenySome)
	out := aclengine.Merge(base, specific)
	if out.Read() != aclengine.Mixed {
		t.Errorf("Read() = %v, want Mixed when partial chains disagree", out.Read())
	}
}

func TestFoldTableDefaultsUnsetToDeny(t *testing.T) {
	var mixed aclengine.MixedPermissionSet
	mixed = mixed // every bit Unset
	out := aclengine.FoldTable(mixed)
	if out.Read() != aclengine.Deny {
		t.Errorf("Read() = %v, want Deny for an unset bit", out.Read())
	}
}

func TestFoldTablePreservesSetBits(t *testing.T) {
	mixed := aclengine.ToMixed(aclengine.Empty().WithBit(aclengine.BitUpdate, aclengine.Allow))
	out := aclengine.FoldTable(mixed)
	if out.Update() != aclengine.Allow {
		t.Errorf("Update() = %v, want Allow", out.Update())
	}
	if out.Read() != aclengine.Deny {
		t.Errorf("Read() = %v, want Deny (unset defaults)", out.Read())
	}
}

func TestWeakenDowngradesFinalVerdicts(t *testing.T) {
	if aclengine.Weaken(aclengine.Allow) != aclengine.AllowSome {
		t.Error("Weaken(Allow) should be AllowSome")
	}
	if aclengine.Weaken(aclengine.Deny) != aclengine.DenySome {
		t.Error("Weaken(Deny) should be DenySome")
	}
	for _, v := range []aclengine.PermValue{aclengine.Unset, aclengine.AllowSome, aclengine.DenySome, aclengine.Mixed, aclengine.MixedColumns} {
		if aclengine.Weaken(v) != v {
			t.Errorf("Weaken(%v) = %v, want unchanged", v, aclengine.Weaken(v))
		}
	}
}

func TestFoldColumnReadAllAgree(t *testing.T) {
	if got := aclengine.FoldColumnRead([]aclengine.PermValue{aclengine.Allow, aclengine.Allow}); got != aclengine.Allow {
		t.Errorf("FoldColumnRead(all allow) = %v, want Allow", got)
	}
	if got := aclengine.FoldColumnRead([]aclengine.PermValue{aclengine.Deny, aclengine.Unset}); got != aclengine.Deny {
		t.Errorf("FoldColumnRead(all deny/unset) = %v, want Deny", got)
	}
}

func TestFoldColumnReadDisagreeCleanly(t *testing.T) {
	got := aclengine.FoldColumnRead([]aclengine.PermValue{aclengine.Allow, aclengine.Deny})
	if got != aclengine.MixedColumns {
		t.Errorf("FoldColumnRead(allow, deny) = %v, want MixedColumns", got)
	}
}

func TestFoldColumnReadRowDependentBecomesMixed(t *testing.T) {
	got := aclengine.FoldColumnRead([]aclengine.PermValue{aclengine.Allow, aclengine.AllowSome})
	if got != aclengine.Mixed {
		t.Errorf("FoldColumnRead(allow, allow-some) = %v, want Mixed", got)
	}
}

func TestFoldTableCollapsesPartialToMixed(t *testing.T) {
	mixed := aclengine.ToMixed(aclengine.Empty().WithBit(aclengine.BitRead, aclengine.AllowSome))
	out := aclengine.FoldTable(mixed)
	if out.Read() != aclengine.Mixed {
		t.Errorf("Read() = %v, want Mixed when the table verdict is still row-dependent", out.Read())
	}
}

func TestWithBitIsImmutable(t *testing.T) {
	base := aclengine.Empty()
	derived := base.WithBit(aclengine.BitRead, aclengine.Allow)
	if base.Read() != aclengine.Unset {
		t.Error("WithBit must not mutate the receiver")
	}
	if derived.Read() != aclengine.Allow {
		t.Error("WithBit must set the bit on the returned copy")
	}
}
