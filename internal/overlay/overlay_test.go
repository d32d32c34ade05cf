package overlay

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Joe3124t/pingy/internal/store"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestGetDefaultsToZeroValue(t *testing.T) {
	s := testStore(t)
	o, err := s.Get("never-touched")
	if err != nil {
		t.Fatal(err)
	}
	if o.Pinned || o.Archived || o.Muted || o.Locked || o.Alias != "" {
		t.Errorf("default overlay = %+v, want all-off", o)
	}
}

func TestSetMergesPartialUpdate(t *testing.T) {
	s := testStore(t)
	pt := true
	if _, err := s.Set("c1", store.OverlayPatch{Pinned: &pt}); err != nil {
		t.Fatal(err)
	}
	alias := "work buddy"
	o, err := s.Set("c1", store.OverlayPatch{Alias: &alias})
	if err != nil {
		t.Fatal(err)
	}
	if !o.Pinned || o.Alias != "work buddy" {
		t.Errorf("merged overlay = %+v, want pinned with alias", o)
	}
}

func TestConcurrenttogglesDoNotLoseUpdates(t *testing.T) {
	s := testStore(t)
	pt := true

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.Set("c1", store.OverlayPatch{Pinned: &pt})
	}()
	go func() {
		defer wg.Done()
		_, _ = s.Set("c1", store.OverlayPatch{Muted: &pt})
	}()
	wg.Wait()

	o, err := s.Get("c1")
	if err != nil {
		t.Fatal(err)
	}
	if !o.Pinned || !o.Muted {
		t.Errorf("overlay = %+v, want both pin and mute set", o)
	}
}

func TestEnableLockRejectsEmptyPasscode(t *testing.T) {
	s := testStore(t)

	err := s.EnableLock("c1", "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	err = s.EnableLock("c1", "   ")
	if !errors.As(err, &verr) {
		t.Fatalf("whitespace passcode: expected ValidationError, got %v", err)
	}

	o, _ := s.Get("c1")
	if o.Locked {
		t.Error("lock enabled despite validation failure")
	}
}

func TestDisableLockWrongPasscodeKeepsLock(t *testing.T) {
	s := testStore(t)
	if err := s.EnableLock("c1", "hunter2"); err != nil {
		t.Fatal(err)
	}

	err := s.DisableLock("c1", "wrong")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	o, _ := s.Get("c1")
	if !o.Locked {
		t.Error("lock removed despite wrong passcode")
	}

	if err := s.DisableLock("c1", "hunter2"); err != nil {
		t.Fatalf("correct passcode rejected: %v", err)
	}
	o, _ = s.Get("c1")
	if o.Locked || o.PasscodeHash != "" {
		t.Errorf("overlay = %+v, want unlocked with cleared hash", o)
	}
}

func TestPasscodeNeverStoredPlaintext(t *testing.T) {
	s := testStore(t)
	if err := s.EnableLock("c1", "supersecret"); err != nil {
		t.Fatal(err)
	}
	o, _ := s.Get("c1")
	if o.PasscodeHash == "supersecret" || o.PasscodeHash == "" {
		t.Errorf("passcode hash = %q, want bcrypt hash", o.PasscodeHash)
	}

	ok, err := s.VerifyPasscode("c1", "supersecret")
	if err != nil || !ok {
		t.Errorf("verify correct = %v, %v", ok, err)
	}
	ok, _ = s.VerifyPasscode("c1", "nope")
	if ok {
		t.Error("wrong passcode verified")
	}
}
