package smartball

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// OTAState is one state of the OTA state machine.
type OTAState int

const (
	StateIdle OTAState = iota
	StatePrepareErase
	StateReadyForData
	StateReceiving
	StateVerifying
	StatePendingReboot
	StateTestBoot
	StateError
)

func (s OTAState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePrepareErase:
		return "PREPARE_ERASE"
	case StateReadyForData:
		return "READY_FOR_DATA"
	case StateReceiving:
		return "RECEIVING"
	case StateVerifying:
		return "VERIFYING"
	case StatePendingReboot:
		return "PENDING_REBOOT"
	case StateTestBoot:
		return "TEST_BOOT"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// OTAError is the one-byte subcode carried in every RSP_OTA reply. It is a
// wire-level taxonomy, not a Go error: it crosses the link and must stay
// numeric.
type OTAError byte

const (
	OKStart          OTAError = 0
	OKFinish         OTAError = 1
	ErrSize          OTAError = 2
	ErrSizeMismatch  OTAError = 3
	ErrChunk         OTAError = 4
	ErrBadMagic      OTAError = 5
	ErrChunkCRC      OTAError = 6
	ErrBadOffset     OTAError = 7
	ErrCRCMismatch   OTAError = 8
)

func (e OTAError) String() string {
	switch e {
	case OKStart:
		return "OK_START"
	case OKFinish:
		return "OK_FINISH"
	case ErrSize:
		return "ERR_SIZE"
	case ErrSizeMismatch:
		return "ERR_SIZE_MISMATCH"
	case ErrChunk:
		return "ERR_CHUNK"
	case ErrBadMagic:
		return "ERR_BAD_MAGIC"
	case ErrChunkCRC:
		return "ERR_CHUNK_CRC"
	case ErrBadOffset:
		return "ERR_BAD_OFFSET"
	case ErrCRCMismatch:
		return "ERR_CRC_MISMATCH"
	default:
		return "ERR_UNKNOWN"
	}
}

// SessionContext is the volatile state of one OTA download. It only exists
// meaningfully while a session is in progress; START recreates it from
// scratch.
type SessionContext struct {
	Slot               uint8
	Version            uint16
	TotalSize          uint32
	ExpectedCRC32      uint32
	BytesReceived      uint32
	CRC32Accum         uint32
	NextExpectedOffset uint32
	EraseProgressBytes uint32
	LastError          OTAError
}

// Send transmits a reply or unsolicited message frame. It is best-effort:
// a caller backed by a radio characteristic is expected to drop the send
// silently if no peer is subscribed rather than error.
type Send func(frameType byte, payload []byte)

// RebootFn triggers a system reset. Tests substitute a spy so the ordering
// of post-FINISH effects (flag written, OK_FINISH sent, reboot invoked)
// can be asserted without actually resetting anything.
type RebootFn func()

// Clock abstracts wall-clock time so the 250ms erase-progress cadence and
// the boot gate's confirm window are deterministic under test.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Session is the OTA state machine. It owns no goroutines: HandleFrame
// processes one command synchronously and Poll advances the background
// erase by one step, both called from the outer cooperative main loop.
type Session struct {
	profile DeviceProfile
	flash   Flash
	flag    *FlagManager
	log     *EventLog
	send    Send
	yield   Yield
	reboot  RebootFn
	clock   Clock

	state OTAState
	ctx   SessionContext

	eraseAddr        uint32
	eraseTotal       uint32
	eraseStarted     bool
	lastProgressAt   time.Time
}

// NewSession constructs a Session bound to the given collaborators. flash
// backs both the staging slot and (indirectly, via flag) the persistent
// flag sector; send and reboot are injected transport/lifecycle
// capabilities.
func NewSession(profile DeviceProfile, flash Flash, flag *FlagManager, log *EventLog, send Send, yield Yield, reboot RebootFn) *Session {
	return &Session{
		profile: profile,
		flash:   flash,
		flag:    flag,
		log:     log,
		send:    send,
		yield:   yield,
		reboot:  reboot,
		clock:   realClock{},
		state:   StateIdle,
	}
}

// SetClock overrides the clock used for progress timing; tests use this to
// control the 250ms progress cadence deterministically.
func (s *Session) SetClock(c Clock) { s.clock = c }

// State returns the current state of the machine.
func (s *Session) State() OTAState { return s.state }

// Context returns a copy of the current session context.
func (s *Session) Context() SessionContext { return s.ctx }

func (s *Session) doYield() {
	if s.yield != nil {
		s.yield()
	}
}

func (s *Session) reply(subcode OTAError, extra []byte) {
	buf := append([]byte{byte(subcode)}, extra...)
	s.send(RspOTA, buf)
}

func (s *Session) enterError(e OTAError) {
	s.ctx.LastError = e
	s.state = StateError
	s.log.Push(EventError, uint32(e))
	pkgLog.Warnf("ota: entering ERROR state: %v", e)
}

// reset drops any in-progress session and returns to IDLE. Used by START
// (force-reset if not already IDLE) and by ABORT.
func (s *Session) reset() {
	s.state = StateIdle
	s.ctx = SessionContext{}
	s.eraseAddr = 0
	s.eraseTotal = 0
	s.eraseStarted = false
}

// HandleFrame dispatches one OTA command frame. Frame types outside the OTA
// range are the caller's responsibility (see Device in device.go).
func (s *Session) HandleFrame(f Frame) {
	switch f.Type {
	case CmdOTAStart:
		s.handleStart(f.Payload)
	case CmdOTAData:
		s.handleData(f.Payload)
	case CmdOTAFinish:
		s.handleFinish()
	case CmdOTAAbort:
		s.reset()
		s.send(RspOTA, []byte{})
	case CmdOTAStatus:
		s.handleStatus()
	case CmdOTAConfirm:
		s.handleConfirm()
	case CmdOTAReboot:
		s.log.Push(EventReboot, 0)
		s.send(RspOTA, []byte{0})
		s.reboot()
	case CmdOTAGetLog:
		s.send(RspOTA, EncodeEventLog(s.log.Records()))
	}
}

func (s *Session) handleStart(payload []byte) {
	if len(payload) < 11 {
		return
	}
	if s.state != StateIdle {
		s.reset()
	}

	s.ctx.Slot = payload[0]
	s.ctx.Version = binary.LittleEndian.Uint16(payload[1:3])
	s.ctx.TotalSize = binary.LittleEndian.Uint32(payload[3:7])
	s.ctx.ExpectedCRC32 = binary.LittleEndian.Uint32(payload[7:11])
	s.ctx.BytesReceived = 0
	s.ctx.CRC32Accum = 0
	s.ctx.NextExpectedOffset = 0
	s.ctx.EraseProgressBytes = 0
	s.ctx.LastError = 0

	if s.ctx.TotalSize == 0 || s.ctx.TotalSize > s.profile.StagingSize {
		s.enterError(ErrSize)
		s.reply(ErrSize, nil)
		return
	}

	s.state = StatePrepareErase
	s.eraseTotal = roundUpToSector(s.ctx.TotalSize, s.profile.EraseSector)
	s.eraseStarted = false
	s.log.Push(EventStart, s.ctx.TotalSize)
	pkgLog.Infof("ota: START slot=%d version=%d size=%d", s.ctx.Slot, s.ctx.Version, s.ctx.TotalSize)
	s.reply(OKStart, nil)
}

func roundUpToSector(size, sector uint32) uint32 {
	total := (size + sector - 1) / sector * sector
	if total < sector {
		total = sector
	}
	return total
}

func (s *Session) handleData(payload []byte) {
	if len(payload) < 8 {
		return
	}

	if s.state == StatePrepareErase {
		// Still erasing: tell the host how far along we are and drop the
		// chunk. The host is expected to resend once it sees READY.
		off := make([]byte, 4)
		binary.LittleEndian.PutUint32(off, s.ctx.EraseProgressBytes)
		s.send(MsgOTAProgress, off)
		return
	}
	if s.state != StateReadyForData && s.state != StateReceiving {
		return
	}

	offset := binary.LittleEndian.Uint32(payload[0:4])
	chunkLen := len(payload) - 8
	chunk := payload[4 : 4+chunkLen]
	chunkCRC := binary.LittleEndian.Uint32(payload[4+chunkLen : 8+chunkLen])

	if chunkLen > OTAChunkMax || uint64(offset)+uint64(chunkLen) > uint64(s.ctx.TotalSize) {
		// Terminal: an oversize or out-of-bounds chunk aborts the transfer
		// rather than being silently clamped.
		s.enterError(ErrChunk)
		s.reply(ErrChunk, nil)
		return
	}

	if offset > s.ctx.NextExpectedOffset {
		s.ctx.LastError = ErrBadOffset
		resume := make([]byte, 4)
		binary.LittleEndian.PutUint32(resume, s.ctx.NextExpectedOffset)
		s.reply(ErrBadOffset, resume)
		return
	}

	if offset < s.ctx.NextExpectedOffset {
		// Duplicate: re-ACK with the current offset, no state change, no
		// flash write.
		ack := make([]byte, 8)
		binary.LittleEndian.PutUint32(ack[0:4], s.ctx.NextExpectedOffset)
		binary.LittleEndian.PutUint32(ack[4:8], s.ctx.TotalSize)
		s.reply(OKStart, ack)
		return
	}

	computed := Crc32(chunk)
	if computed != chunkCRC {
		s.reply(ErrChunkCRC, nil)
		return
	}

	s.state = StateReceiving
	s.ctx.CRC32Accum = Crc32Update(s.ctx.CRC32Accum, chunk)
	s.ctx.BytesReceived += uint32(chunkLen)

	addr := s.profile.SlotBAddr + offset
	if err := pageProgram(s.flash, s.yield, addr, chunk); err != nil {
		pkgLog.Errorf("ota: flash program failed: %v", errors.WithStack(err))
	}

	s.ctx.NextExpectedOffset = offset + uint32(chunkLen)
	s.log.Push(EventDataChunk, s.ctx.NextExpectedOffset)

	ack := make([]byte, 8)
	binary.LittleEndian.PutUint32(ack[0:4], s.ctx.NextExpectedOffset)
	binary.LittleEndian.PutUint32(ack[4:8], s.ctx.TotalSize)
	s.reply(OKStart, ack)
}

func (s *Session) handleFinish() {
	if s.state != StateReceiving {
		return
	}
	s.state = StateVerifying

	if s.ctx.BytesReceived != s.ctx.TotalSize {
		s.enterError(ErrSizeMismatch)
		s.reply(ErrSizeMismatch, nil)
		return
	}
	if s.ctx.CRC32Accum != s.ctx.ExpectedCRC32 {
		s.enterError(ErrCRCMismatch)
		extra := make([]byte, 4)
		binary.LittleEndian.PutUint32(extra, s.ctx.CRC32Accum)
		s.reply(ErrCRCMismatch, extra)
		return
	}

	hdr, err := s.flash.Read(s.profile.SlotBAddr, 4)
	if err != nil || binary.LittleEndian.Uint32(hdr) != OTAMagic {
		s.enterError(ErrBadMagic)
		s.reply(ErrBadMagic, nil)
		return
	}

	if err := s.flag.Write(PersistentFlag{
		Magic:     OTAFlagMagic,
		Pending:   1,
		Confirmed: 0,
		Slot:      s.ctx.Slot,
		Size:      s.ctx.TotalSize,
		CRC32:     s.ctx.ExpectedCRC32,
	}); err != nil {
		pkgLog.Errorf("ota: failed to arm persistent flag: %v", err)
		s.enterError(ErrCRCMismatch)
		s.reply(ErrCRCMismatch, nil)
		return
	}

	s.log.Push(EventFinishOK, s.ctx.TotalSize)
	s.state = StatePendingReboot
	pkgLog.Infof("ota: FINISH ok, image armed in slot %d", s.ctx.Slot)
	s.reply(OKFinish, nil)
	s.reboot()
}

func (s *Session) handleConfirm() {
	if err := s.flag.ClearPendingConfirm(); err != nil {
		pkgLog.Errorf("ota: confirm failed: %v", err)
	}
	s.log.Push(EventConfirm, 0)
	s.send(RspOTA, []byte{0})
}

// handleStatus replies with the 24-byte OTA status record.
func (s *Session) handleStatus() {
	flag, _ := s.flag.Read()
	activeSlot := byte(0)
	pendingSlot := byte(0)
	if flag.IsValid() && flag.Confirmed == 1 {
		activeSlot = flag.Slot
	}
	if flag.IsValid() && flag.Pending == 1 && flag.Confirmed == 0 {
		pendingSlot = 1
	}

	buf := make([]byte, 24)
	buf[0] = byte(s.state)
	binary.LittleEndian.PutUint32(buf[1:5], s.ctx.NextExpectedOffset)
	binary.LittleEndian.PutUint32(buf[5:9], s.ctx.BytesReceived)
	binary.LittleEndian.PutUint32(buf[9:13], s.ctx.TotalSize)
	binary.LittleEndian.PutUint32(buf[13:17], s.ctx.EraseProgressBytes)
	buf[17] = byte(s.ctx.LastError)
	buf[18] = activeSlot
	buf[19] = pendingSlot
	binary.LittleEndian.PutUint32(buf[20:24], s.ctx.ExpectedCRC32)
	s.send(RspOTA, buf)
}

// Poll advances the background erase by one step. It must be called
// repeatedly from the outer main loop; it does nothing outside
// PREPARE_ERASE.
func (s *Session) Poll() {
	if s.state != StatePrepareErase || s.eraseTotal == 0 {
		return
	}

	if !s.eraseStarted {
		s.eraseStarted = true
		s.eraseAddr = s.profile.SlotBAddr
		s.lastProgressAt = s.clock.Now()
		s.log.Push(EventEraseStart, s.eraseTotal)
	}

	end := s.profile.SlotBAddr + s.eraseTotal
	if s.eraseAddr >= end {
		s.state = StateReadyForData
		s.ctx.EraseProgressBytes = s.eraseTotal
		s.log.Push(EventReady, s.eraseTotal)
		s.log.Push(EventEraseDone, s.eraseTotal)
		s.send(MsgOTAReady, []byte{0})
		s.eraseStarted = false
		return
	}

	s.doYield()
	n := s.profile.EraseSector
	if s.eraseAddr+n > end {
		n = end - s.eraseAddr
	}
	if err := s.flash.Erase(s.eraseAddr, n); err != nil {
		pkgLog.Errorf("ota: erase failed at %#x: %v", s.eraseAddr, err)
	}
	s.eraseAddr += n
	s.ctx.EraseProgressBytes = s.eraseAddr - s.profile.SlotBAddr
	s.doYield()

	now := s.clock.Now()
	if now.Sub(s.lastProgressAt) >= OTAProgressIntervalMS*time.Millisecond {
		s.lastProgressAt = now
		off := make([]byte, 4)
		binary.LittleEndian.PutUint32(off, s.ctx.EraseProgressBytes)
		s.send(MsgOTAProgress, off)
	}
}
