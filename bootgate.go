package smartball

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// bootFailRecordSize is the on-flash size of the persisted boot-failure
// counter. It must live in its own sector, never the flag sector: erasing a
// sector to update the counter would otherwise destroy the flag record,
// which is an external contract with the bootloader.
const bootFailRecordSize = 4

// HealthReport is the result of one round of health checks: radio alive,
// battery above threshold, sensors responding.
type HealthReport struct {
	RadioAlive        bool
	BatteryOK         bool
	SensorsResponding bool
}

// Pass reports whether every check in the report succeeded.
func (h HealthReport) Pass() bool {
	return h.RadioAlive && h.BatteryOK && h.SensorsResponding
}

// HealthChecker runs one round of health checks. It is an injected
// capability so tests can simulate failure without real hardware.
type HealthChecker func() HealthReport

// GateOutcome is returned by Tick so the outer main loop (and tests) can
// observe what a health-check round did.
type GateOutcome int

const (
	// GateIdle means there is no pending image to confirm; nothing to do.
	GateIdle GateOutcome = iota
	// GateWaiting means the confirm window is still open.
	GateWaiting
	// GateConfirmed means health passed and the image was just confirmed.
	GateConfirmed
	// GateExpired means the window elapsed without a successful confirm.
	GateExpired
)

// BootGate implements the post-OTA confirm-or-rollback startup lifecycle.
// It never blocks: Start begins tracking a confirm window if one is
// needed, and Tick — called roughly once a second from the outer
// cooperative main loop, the same way Session.Poll is — runs one round of
// health checks and reports the outcome. This keeps the boot gate
// consistent with the rest of the system's single-threaded cooperative
// scheduling model instead of introducing a blocking wait loop of its own.
type BootGate struct {
	flag      *FlagManager
	failFlash Flash
	failAddr  uint32
	health    HealthChecker
	clock     Clock
	maxFails  int
	window    time.Duration

	windowStart time.Time
	active      bool
}

// NewBootGate returns a BootGate. failFlash/failAddr back the persisted
// boot-failure counter (in its own sector, distinct from the flag sector);
// profile supplies the confirm window and failure ceiling.
func NewBootGate(flag *FlagManager, failFlash Flash, failAddr uint32, health HealthChecker, profile DeviceProfile) *BootGate {
	return &BootGate{
		flag:      flag,
		failFlash: failFlash,
		failAddr:  failAddr,
		health:    health,
		clock:     realClock{},
		maxFails:  profile.MaxConsecutiveFails,
		window:    time.Duration(profile.ConfirmWindowSeconds) * time.Second,
	}
}

// SetClock overrides the clock used for the confirm window; tests use this
// to simulate the window elapsing without waiting in real time.
func (g *BootGate) SetClock(c Clock) { g.clock = c }

// Start is called once at application startup, after radio init. If no
// image is pending it clears the boot-failure counter and there is nothing
// further for the gate to do. If one is pending, it begins tracking the
// confirm window; the caller must then call Tick roughly once a second
// until it stops returning GateWaiting.
func (g *BootGate) Start() GateOutcome {
	if !g.flag.IsPendingConfirm() {
		g.clearFailCount()
		g.active = false
		return GateIdle
	}
	g.active = true
	g.windowStart = g.clock.Now()
	pkgLog.Infof("bootgate: pending image detected, starting %s confirm window", g.window)
	return GateWaiting
}

// Tick runs one round of health checks. Call it about once a second while
// Start (or the previous Tick) returned GateWaiting.
func (g *BootGate) Tick() GateOutcome {
	if !g.active {
		return GateIdle
	}

	if g.health != nil && g.health().Pass() {
		if err := g.flag.ClearPendingConfirm(); err != nil {
			pkgLog.Errorf("bootgate: confirm failed: %v", err)
			return GateWaiting
		}
		g.active = false
		g.clearFailCount()
		pkgLog.Infof("bootgate: test boot confirmed")
		return GateConfirmed
	}

	if g.clock.Now().Sub(g.windowStart) >= g.window {
		g.active = false
		pkgLog.Warnf("bootgate: confirm window elapsed, leaving image unconfirmed")
		g.bumpFailCount()
		return GateExpired
	}

	return GateWaiting
}

// SafeMode reports whether the device has failed to confirm
// N_FAIL_MAX consecutive test boots and should therefore be treated as
// needing manual intervention rather than arming further OTA images.
func (g *BootGate) SafeMode() bool {
	return int(g.readFailCount()) >= g.maxFails
}

func (g *BootGate) readFailCount() uint32 {
	buf, err := g.failFlash.Read(g.failAddr, bootFailRecordSize)
	if err != nil {
		return 0
	}
	n := binary.LittleEndian.Uint32(buf)
	if n == 0xFFFFFFFF {
		// Erased sector, never written: treat as zero rather than as a
		// four-billion-failure counter.
		return 0
	}
	return n
}

func (g *BootGate) writeFailCount(n uint32) error {
	buf := make([]byte, bootFailRecordSize)
	binary.LittleEndian.PutUint32(buf, n)
	if err := g.failFlash.Erase(g.failAddr, OTAEraseSector); err != nil {
		return errors.Wrap(err, "erase boot-failure counter sector")
	}
	return errors.Wrap(g.failFlash.Program(g.failAddr, buf), "program boot-failure counter")
}

func (g *BootGate) clearFailCount() {
	if err := g.writeFailCount(0); err != nil {
		pkgLog.Errorf("bootgate: failed to clear boot-failure counter: %v", err)
	}
}

func (g *BootGate) bumpFailCount() {
	n := g.readFailCount() + 1
	if err := g.writeFailCount(n); err != nil {
		pkgLog.Errorf("bootgate: failed to persist boot-failure counter: %v", err)
		return
	}
	if int(n) >= g.maxFails {
		pkgLog.Errorf("bootgate: %d consecutive confirm failures, entering safe mode", n)
	}
}
