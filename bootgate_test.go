package smartball

import (
	"testing"
	"time"
)

func newTestBootGate(health HealthChecker) (*BootGate, *fakeClock, *FlagManager, Flash) {
	flash := NewFakeFlash(3 * OTAEraseSector)
	flagMgr := NewFlagManager(flash, 0)
	profile := DefaultProfile()
	profile.ConfirmWindowSeconds = 30
	profile.MaxConsecutiveFails = 3

	gate := NewBootGate(flagMgr, flash, OTAEraseSector, health, profile)
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate.SetClock(clock)
	return gate, clock, flagMgr, flash
}

func TestBootGateIdleWithNoPendingImage(t *testing.T) {
	gate, _, _, _ := newTestBootGate(func() HealthReport { return HealthReport{} })
	if outcome := gate.Start(); outcome != GateIdle {
		t.Fatalf("got %v, want GateIdle", outcome)
	}
	if outcome := gate.Tick(); outcome != GateIdle {
		t.Fatalf("Tick after idle Start = %v, want GateIdle", outcome)
	}
}

func TestBootGateConfirmsOnHealthyTick(t *testing.T) {
	gate, _, flagMgr, _ := newTestBootGate(func() HealthReport {
		return HealthReport{RadioAlive: true, BatteryOK: true, SensorsResponding: true}
	})
	if err := flagMgr.Write(PersistentFlag{Magic: OTAFlagMagic, Pending: 1, Confirmed: 0, Slot: 1, Size: 10, CRC32: 1}); err != nil {
		t.Fatal(err)
	}

	if outcome := gate.Start(); outcome != GateWaiting {
		t.Fatalf("Start = %v, want GateWaiting", outcome)
	}
	if outcome := gate.Tick(); outcome != GateConfirmed {
		t.Fatalf("Tick = %v, want GateConfirmed", outcome)
	}

	flag, err := flagMgr.Read()
	if err != nil {
		t.Fatal(err)
	}
	if flag.Pending != 0 || flag.Confirmed != 1 {
		t.Fatalf("flag not confirmed after gate pass: %+v", flag)
	}
	if gate.SafeMode() {
		t.Fatal("must not be in safe mode after a successful confirm")
	}
}

func TestBootGateExpiresAndBumpsFailCount(t *testing.T) {
	gate, clock, flagMgr, _ := newTestBootGate(func() HealthReport { return HealthReport{} })
	if err := flagMgr.Write(PersistentFlag{Magic: OTAFlagMagic, Pending: 1, Confirmed: 0, Slot: 1, Size: 10, CRC32: 1}); err != nil {
		t.Fatal(err)
	}

	gate.Start()
	for i := 0; i < 5; i++ {
		outcome := gate.Tick()
		if outcome == GateExpired {
			break
		}
		clock.Advance(10 * time.Second)
	}
	if outcome := gate.Tick(); outcome != GateIdle {
		// After expiry the gate goes inactive; the next Tick reports idle.
		t.Fatalf("Tick after expiry = %v, want GateIdle", outcome)
	}

	flag, err := flagMgr.Read()
	if err != nil {
		t.Fatal(err)
	}
	if flag.Pending != 1 || flag.Confirmed != 0 {
		t.Fatalf("expired window must leave the image unconfirmed: %+v", flag)
	}
	if n := gate.readFailCount(); n != 1 {
		t.Fatalf("boot-failure counter = %d after one expiry, want 1", n)
	}
}

func TestBootGateEntersSafeModeAfterMaxFails(t *testing.T) {
	gate, clock, flagMgr, _ := newTestBootGate(func() HealthReport { return HealthReport{} })

	for i := 0; i < 3; i++ {
		if err := flagMgr.Write(PersistentFlag{Magic: OTAFlagMagic, Pending: 1, Confirmed: 0, Slot: 1, Size: 10, CRC32: 1}); err != nil {
			t.Fatal(err)
		}
		gate.Start()
		clock.Advance(31 * time.Second)
		gate.Tick()
	}

	if !gate.SafeMode() {
		t.Fatal("expected safe mode after MaxConsecutiveFails expired windows")
	}
}

func TestBootGateSuccessfulConfirmClearsFailCount(t *testing.T) {
	gate, clock, flagMgr, flash := newTestBootGate(func() HealthReport { return HealthReport{} })
	if err := flagMgr.Write(PersistentFlag{Magic: OTAFlagMagic, Pending: 1, Confirmed: 0, Slot: 1, Size: 10, CRC32: 1}); err != nil {
		t.Fatal(err)
	}
	gate.Start()
	clock.Advance(31 * time.Second)
	gate.Tick() // one expiry, bumps fail count to 1
	if n := gate.readFailCount(); n != 1 {
		t.Fatalf("boot-failure counter = %d after one expiry, want 1", n)
	}

	// Second boot on the same flash: this time health passes.
	profile := DefaultProfile()
	profile.ConfirmWindowSeconds = 30
	profile.MaxConsecutiveFails = 3
	gate2 := NewBootGate(flagMgr, flash, OTAEraseSector, func() HealthReport {
		return HealthReport{RadioAlive: true, BatteryOK: true, SensorsResponding: true}
	}, profile)
	gate2.SetClock(clock)
	if err := flagMgr.Write(PersistentFlag{Magic: OTAFlagMagic, Pending: 1, Confirmed: 0, Slot: 1, Size: 10, CRC32: 1}); err != nil {
		t.Fatal(err)
	}
	gate2.Start()
	clock.Advance(time.Second)
	if outcome := gate2.Tick(); outcome != GateConfirmed {
		t.Fatalf("got %v, want GateConfirmed", outcome)
	}
	if n := gate2.readFailCount(); n != 0 {
		t.Fatalf("boot-failure counter = %d after a successful confirm, want 0", n)
	}
	if gate2.SafeMode() {
		t.Fatal("a successful confirm should not report safe mode")
	}
}
