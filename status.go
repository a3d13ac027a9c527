package smartball

import "encoding/binary"

// generalStatusSize is the fixed size of RSP_STATUS.
const generalStatusSize = 48

// HealthProvider supplies the health-subsystem fields of the general status
// record as an injected capability, rather than reading fixed globals,
// so tests can substitute arbitrary health readings.
type HealthProvider interface {
	LastError() byte
	ErrorFlags() byte
	ResetReason() byte
}

// DeviceStatusInput carries the fields of RSP_STATUS that come from outside
// the OTA/boot-gate core (IMU sampling, storage accounting, power
// measurement) but are still part of the wire contract this module
// serializes.
type DeviceStatusInput struct {
	UptimeMS              uint32
	DeviceState           byte
	IMUSourceActive       byte
	ActiveSlot            byte
	PendingSlot           byte
	SamplesRecorded       uint32
	GyroSaturationCounter uint16
	StorageUsed           uint32
	StorageFree           uint32
	BatteryMV             uint16
	TemperatureQuarterC   int16
}

// StatusReporter builds the RSP_STATUS record.
type StatusReporter struct {
	health  HealthProvider
	profile DeviceProfile
}

// NewStatusReporter returns a reporter that reads health fields from health
// and reports the firmware build id from profile.
func NewStatusReporter(health HealthProvider, profile DeviceProfile) *StatusReporter {
	return &StatusReporter{health: health, profile: profile}
}

// Fill serializes the 48-byte general device-status record. All multi-byte
// fields are little-endian and the layout is tightly packed, with reserved
// bytes zeroed.
func (s *StatusReporter) Fill(in DeviceStatusInput) []byte {
	buf := make([]byte, generalStatusSize)

	binary.LittleEndian.PutUint32(buf[0:4], in.UptimeMS)
	buf[4] = s.health.LastError()
	buf[5] = s.health.ErrorFlags()
	buf[6] = in.DeviceState
	buf[7] = in.IMUSourceActive
	buf[8] = in.ActiveSlot
	buf[9] = in.PendingSlot
	binary.LittleEndian.PutUint32(buf[10:14], in.SamplesRecorded)
	binary.LittleEndian.PutUint16(buf[14:16], in.GyroSaturationCounter)
	// buf[16:18] pad
	binary.LittleEndian.PutUint32(buf[18:22], in.StorageUsed)
	binary.LittleEndian.PutUint32(buf[22:26], in.StorageFree)
	binary.LittleEndian.PutUint16(buf[26:28], in.BatteryMV)
	binary.LittleEndian.PutUint16(buf[28:30], uint16(in.TemperatureQuarterC))
	buf[30] = s.health.ResetReason()
	// buf[31] pad
	binary.LittleEndian.PutUint16(buf[32:34], s.profile.FirmwareBuildID)
	// buf[34:48] reserved
	return buf
}
