package smartball

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// persistentFlagSize is the on-flash size of the PersistentFlag record. The
// bootloader reads this exact layout, so it must stay stable.
const persistentFlagSize = 4 + 1 + 1 + 1 + 1 + 4 + 4 // magic,pending,confirmed,slot,pad,size,crc32

// PersistentFlag is the inter-boot OTA state record, stored at a fixed
// reserved flash sector. The bootloader selects which image to boot based
// on this record.
type PersistentFlag struct {
	Magic     uint32
	Pending   uint8
	Confirmed uint8
	Slot      uint8
	Size      uint32
	CRC32     uint32
}

// IsValid reports whether the record's magic matches OTAFlagMagic. An
// erased sector (all 0xFF) or a torn write from a power loss between erase
// and program both fail this check, which is the intended fail-safe
// behavior: the bootloader then treats the slot as "no pending image" and
// keeps running the current one.
func (f PersistentFlag) IsValid() bool {
	return f.Magic == OTAFlagMagic
}

func (f PersistentFlag) marshal() []byte {
	buf := make([]byte, persistentFlagSize)
	binary.LittleEndian.PutUint32(buf[0:4], f.Magic)
	buf[4] = f.Pending
	buf[5] = f.Confirmed
	buf[6] = f.Slot
	// buf[7] is padding, always zero.
	binary.LittleEndian.PutUint32(buf[8:12], f.Size)
	binary.LittleEndian.PutUint32(buf[12:16], f.CRC32)
	return buf
}

func unmarshalPersistentFlag(buf []byte) PersistentFlag {
	return PersistentFlag{
		Magic:     binary.LittleEndian.Uint32(buf[0:4]),
		Pending:   buf[4],
		Confirmed: buf[5],
		Slot:      buf[6],
		Size:      binary.LittleEndian.Uint32(buf[8:12]),
		CRC32:     binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// FlagManager reads and writes the PersistentFlag sector. It is the single
// writer of that sector.
type FlagManager struct {
	flash Flash
	addr  uint32
}

// NewFlagManager returns a manager for the flag sector at addr on flash.
func NewFlagManager(flash Flash, addr uint32) *FlagManager {
	return &FlagManager{flash: flash, addr: addr}
}

// Read returns the record currently stored at the flag sector, verbatim.
func (m *FlagManager) Read() (PersistentFlag, error) {
	buf, err := m.flash.Read(m.addr, persistentFlagSize)
	if err != nil {
		return PersistentFlag{}, errors.Wrap(err, "read persistent flag")
	}
	return unmarshalPersistentFlag(buf), nil
}

// Write erases the flag sector and programs the full record in one
// operation. This is not atomic at the bit level: a power loss between the
// erase and the program leaves the sector erased, which Read/IsValid
// report as "no pending image" — a fail-safe outcome, not a data-loss one,
// since the bootloader then simply keeps running the currently confirmed
// image.
func (m *FlagManager) Write(f PersistentFlag) error {
	if err := m.flash.Erase(m.addr, OTAEraseSector); err != nil {
		return errors.Wrap(err, "erase persistent flag sector")
	}
	if err := m.flash.Program(m.addr, f.marshal()); err != nil {
		return errors.Wrap(err, "program persistent flag")
	}
	return nil
}

// IsPendingConfirm reports whether the flag sector holds a valid record
// describing an armed-but-unconfirmed image.
func (m *FlagManager) IsPendingConfirm() bool {
	f, err := m.Read()
	if err != nil {
		return false
	}
	return f.IsValid() && f.Pending == 1 && f.Confirmed == 0
}

// ClearPendingConfirm marks the pending image as confirmed: the running
// image is now the one the bootloader should keep booting.
func (m *FlagManager) ClearPendingConfirm() error {
	f, err := m.Read()
	if err != nil {
		return err
	}
	if !f.IsValid() {
		return nil
	}
	f.Pending = 0
	f.Confirmed = 1
	return m.Write(f)
}

// RollbackPending discards the armed state: the bootloader will next select
// the previously-good slot instead of the unconfirmed one.
func (m *FlagManager) RollbackPending() error {
	f, err := m.Read()
	if err != nil {
		return err
	}
	if !f.IsValid() {
		return nil
	}
	f.Pending = 0
	f.Confirmed = 0
	return m.Write(f)
}
