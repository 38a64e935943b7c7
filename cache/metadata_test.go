package cache

import "testing"

func TestMetadata_AdjustUsageIfAllowed(t *testing.T) {
	t.Parallel()

	md := newMetadata(nil, 100)
	md.lock()
	defer md.unlock()

	if !md.adjustUsageIfAllowed(60) {
		t.Fatal("expected 60 to fit within hardLimit 100")
	}
	if md.adjustUsageIfAllowed(60) {
		t.Fatal("expected 60 more (120 total) to exceed hardLimit 100")
	}
	if !md.adjustUsageIfAllowed(-60) {
		t.Fatal("a shrinking delta must always be allowed")
	}
	if md.usage != 0 {
		t.Fatalf("expected usage 0, got %d", md.usage)
	}
}

func TestMetadata_AdjustLimitsRefusesBelowUsage(t *testing.T) {
	t.Parallel()

	md := newMetadata(nil, 100)
	md.lock()
	defer md.unlock()

	md.adjustUsageIfAllowed(80)
	if md.adjustLimits(50, 50) {
		t.Fatal("expected refusal: new hard limit below current usage")
	}
	if !md.adjustLimits(80, 80) {
		t.Fatal("expected success: new hard limit equal to current usage")
	}
}

func TestMetadata_SwapAndReleaseTables(t *testing.T) {
	t.Parallel()

	md := newMetadata(nil, 100)
	md.lock()
	defer md.unlock()

	main := newPlainTable(minTableLogSize)
	md.table = main
	md.logSize = minTableLogSize

	aux := newPlainTable(minTableLogSize + 1)
	md.grantAuxiliaryTable(aux, minTableLogSize+1)

	md.swapTables()
	if md.table != tableLease(aux) {
		t.Fatal("expected main table to be the former auxiliary after swap")
	}
	if md.logSize != minTableLogSize+1 {
		t.Fatalf("expected logSize %d, got %d", minTableLogSize+1, md.logSize)
	}

	released := md.releaseAuxiliaryTable()
	if released != tableLease(main) {
		t.Fatal("expected released auxiliary to be the former main table")
	}
	if md.auxiliaryTable != nil {
		t.Fatal("expected auxiliaryTable nil after release")
	}
}
