package smartball

import (
	"encoding/binary"
	"math"
)

// StatusSource supplies the live fields of the general device-status
// record at the moment GET_STATUS is answered. The outer application (IMU
// loop, storage accounting, power measurement) implements it.
type StatusSource func() DeviceStatusInput

// Device composes the Framer, the OTA Session, device identity and the
// status reporter into the single dispatcher the outer main loop feeds raw
// bytes into: host bytes flow through the Framer into either the OTA state
// machine or one of the non-OTA commands that ride the same frame format.
type Device struct {
	framer  *Framer
	session *Session
	id      *DeviceID
	status  *StatusReporter
	send    Send
	source  StatusSource

	streamAccel bool
	streamGyro  bool
}

// NewDevice wires a Device around an already-constructed Session. send is
// the same transport sink given to the Session.
func NewDevice(session *Session, profile DeviceProfile, health HealthProvider, send Send, source StatusSource) *Device {
	return &Device{
		framer:  NewFramer(),
		session: session,
		id:      NewDeviceID(profile),
		status:  NewStatusReporter(health, profile),
		send:    send,
		source:  source,
	}
}

// Session returns the underlying OTA state machine, e.g. so the main loop
// can call Poll() on it.
func (d *Device) Session() *Session { return d.session }

// Feed appends bytes from the transport and dispatches every complete
// frame it produces.
func (d *Device) Feed(data []byte) {
	for _, f := range d.framer.Feed(data) {
		d.dispatch(f)
	}
}

func (d *Device) dispatch(f Frame) {
	switch f.Type {
	case CmdGetID:
		d.send(RspID, d.id.Response())
	case CmdGetStatus:
		var in DeviceStatusInput
		if d.source != nil {
			in = d.source()
		}
		d.send(RspStatus, d.status.Fill(in))
	case CmdSetStream:
		if len(f.Payload) >= 2 {
			d.streamAccel = f.Payload[0] != 0
			d.streamGyro = f.Payload[1] != 0
		}
	default:
		d.session.HandleFrame(f)
	}
}

// StreamAccel reports whether the host asked for accelerometer telemetry.
func (d *Device) StreamAccel() bool { return d.streamAccel }

// StreamGyro reports whether the host asked for gyroscope telemetry.
func (d *Device) StreamGyro() bool { return d.streamGyro }

// EncodeSample packs one {t_ms, x, y, z} telemetry record for MSG_ACCEL or
// MSG_GYRO. This is only the wire encoding; the IMU sample loop that
// produces the values is outside this package.
func EncodeSample(tMS uint32, x, y, z float32) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], tMS)
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(x))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(y))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(z))
	return buf
}
