package smartball

import "testing"

func TestFlagManagerRoundTrip(t *testing.T) {
	flash := NewFakeFlash(1 << 20)
	mgr := NewFlagManager(flash, DefaultFlagSectAddr)

	want := PersistentFlag{Magic: OTAFlagMagic, Pending: 1, Confirmed: 0, Slot: 1, Size: 1024, CRC32: 0xdeadbeef}
	if err := mgr.Write(want); err != nil {
		t.Fatal(err)
	}
	got, err := mgr.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFlagManagerErasedSectorIsInvalid(t *testing.T) {
	flash := NewFakeFlash(1 << 20)
	mgr := NewFlagManager(flash, DefaultFlagSectAddr)

	f, err := mgr.Read()
	if err != nil {
		t.Fatal(err)
	}
	if f.IsValid() {
		t.Fatal("erased sector should not read back as a valid record")
	}
	if mgr.IsPendingConfirm() {
		t.Fatal("erased sector should not be pending-confirm")
	}
}

func TestFlagManagerClearAndRollback(t *testing.T) {
	flash := NewFakeFlash(1 << 20)
	mgr := NewFlagManager(flash, DefaultFlagSectAddr)

	if err := mgr.Write(PersistentFlag{Magic: OTAFlagMagic, Pending: 1, Confirmed: 0, Slot: 1, Size: 10, CRC32: 1}); err != nil {
		t.Fatal(err)
	}
	if !mgr.IsPendingConfirm() {
		t.Fatal("expected pending-confirm after arming")
	}

	if err := mgr.ClearPendingConfirm(); err != nil {
		t.Fatal(err)
	}
	f, _ := mgr.Read()
	if f.Pending != 0 || f.Confirmed != 1 {
		t.Fatalf("got %+v, want pending=0 confirmed=1", f)
	}
	if mgr.IsPendingConfirm() {
		t.Fatal("should no longer be pending-confirm after clearing")
	}

	// Re-arm and roll back instead.
	if err := mgr.Write(PersistentFlag{Magic: OTAFlagMagic, Pending: 1, Confirmed: 0, Slot: 1, Size: 10, CRC32: 1}); err != nil {
		t.Fatal(err)
	}
	if err := mgr.RollbackPending(); err != nil {
		t.Fatal(err)
	}
	f, _ = mgr.Read()
	if f.Pending != 0 || f.Confirmed != 0 {
		t.Fatalf("got %+v, want pending=0 confirmed=0 after rollback", f)
	}
}
