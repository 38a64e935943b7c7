package cache

import (
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestManager_CreateCloseCache(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(ManagerOptions{GlobalLimit: 1 << 20})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	c, err := mgr.CreateCache(Plain, 64<<10)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	if mgr.GlobalAllocation() == 0 {
		t.Fatal("expected non-zero global allocation after CreateCache")
	}

	if err := mgr.Close(); err != ErrBusy {
		t.Fatalf("expected ErrBusy while a cache remains registered, got %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close cache: %v", err)
	}
	if mgr.GlobalAllocation() != 0 {
		t.Fatalf("expected global allocation 0 after closing the only cache, got %d", mgr.GlobalAllocation())
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("expected manager close to succeed once empty, got %v", err)
	}
}

func TestManager_OutOfCapacity(t *testing.T) {
	t.Parallel()

	// The smallest possible cache charges its own minimum byte limit plus
	// its table's footprint plus recordOverhead; size the manager to fit
	// exactly one of these and no more.
	minCharge := (uint64(1) << minLogSize) + tableByteSize(tableLogSizeFor(minLogSize)) + recordOverhead

	mgr, err := NewManager(ManagerOptions{GlobalLimit: minCharge})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.CreateCache(Plain, 1<<minLogSize); err != nil {
		t.Fatalf("first cache should fit exactly: %v", err)
	}
	if _, err := mgr.CreateCache(Plain, 1<<minLogSize); err != ErrOutOfCapacity {
		t.Fatalf("expected ErrOutOfCapacity for a second cache, got %v", err)
	}
}

func TestManager_TransactionTermProgression(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(ManagerOptions{GlobalLimit: 1 << 20})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if mgr.TransactionTerm()%2 != 0 {
		t.Fatal("expected an even (quiescent) term before any transaction")
	}
	mgr.StartTransaction()
	if mgr.TransactionTerm()%2 != 1 {
		t.Fatal("expected an odd term while a transaction is open")
	}
	mgr.EndTransaction()
	if mgr.TransactionTerm()%2 != 0 {
		t.Fatal("expected an even term once the transaction ends")
	}
}

// Concurrently creates and closes caches to shake out races in the
// registry and table pool under go test -race.
func TestManager_ConcurrentCreateClose(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(ManagerOptions{GlobalLimit: 8 << 20})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			c, err := mgr.CreateCache(Plain, 16<<10)
			if err != nil {
				return err
			}
			if err := c.Insert([]byte("k"), []byte("v")); err != nil {
				return err
			}
			return c.Close()
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent create/close: %v", err)
	}
	if mgr.GlobalAllocation() != 0 {
		t.Fatalf("expected global allocation 0 after all caches closed, got %d", mgr.GlobalAllocation())
	}
}
