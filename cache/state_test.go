package cache

import "testing"

func TestState_LockUnlock(t *testing.T) {
	t.Parallel()

	var s state
	if !s.lock(-1, nil) {
		t.Fatal("expected lock to succeed")
	}
	if !s.isLocked() {
		t.Fatal("expected isLocked true")
	}
	// A second bounded attempt must fail while the lock is held.
	if s.lock(3, nil) {
		t.Fatal("expected second lock attempt to fail")
	}
	s.unlock()
	if s.isLocked() {
		t.Fatal("expected isLocked false after unlock")
	}
}

func TestState_FlagsRequireLock(t *testing.T) {
	t.Parallel()

	var s state
	s.lock(-1, nil)
	s.toggleFlag(flagMigrated)
	if !s.isSet(flagMigrated) {
		t.Fatal("expected flagMigrated set")
	}
	s.toggleFlag(flagMigrated)
	if s.isSet(flagMigrated) {
		t.Fatal("expected flagMigrated cleared")
	}
	s.unlock()
}

func TestState_Clear(t *testing.T) {
	t.Parallel()

	var s state
	s.lock(-1, nil)
	s.toggleFlag(flagMigrating)
	s.toggleFlag(flagRebalancing)
	s.clear()
	if s.isSet(flagMigrating) || s.isSet(flagRebalancing) {
		t.Fatal("expected clear to reset all flags but the lock bit")
	}
	if !s.isLocked() {
		t.Fatal("clear must not release the lock bit")
	}
	s.unlock()
}
