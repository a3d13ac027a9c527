package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/kestrelfield/smartball"
)

// transport is a serial link to a device speaking the framed OTA protocol:
// open the port, flush stale bytes, then send/receive frames via
// smartball.Framer's stream-oriented parser.
type transport struct {
	port   *serial.Port
	framer *smartball.Framer
}

func openTransport(portName string, baud int, timeout time.Duration) (*transport, error) {
	cfg := &serial.Config{Name: portName, Baud: baud, ReadTimeout: timeout}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	// Give a USB-serial adapter's driver stack time to settle before the
	// flush.
	time.Sleep(100 * time.Millisecond)
	port.Flush()
	return &transport{port: port, framer: smartball.NewFramer()}, nil
}

func (t *transport) Close() error {
	return t.port.Close()
}

func (t *transport) Send(frameType byte, payload []byte) {
	wire := smartball.EncodeFrame(frameType, payload)
	if _, err := t.port.Write(wire); err != nil {
		log.Errorf("write failed: %v", err)
	}
}

// ReadFrame blocks (up to the port's ReadTimeout, retried) until one frame
// is available.
func (t *transport) ReadFrame() (smartball.Frame, error) {
	buf := make([]byte, 512)
	for {
		n, err := t.port.Read(buf)
		if err != nil {
			return smartball.Frame{}, err
		}
		if n == 0 {
			continue
		}
		frames := t.framer.Feed(buf[:n])
		if len(frames) > 0 {
			return frames[0], nil
		}
	}
}

// expectOTA reads frames until one of type smartball.RspOTA,
// smartball.MsgOTAProgress or smartball.MsgOTAReady arrives, discarding
// every other frame (such as MSG_ACCEL/MSG_GYRO telemetry) in between.
func (t *transport) expectOTA() (smartball.Frame, error) {
	for {
		f, err := t.ReadFrame()
		if err != nil {
			return smartball.Frame{}, err
		}
		if f.Type == smartball.RspOTA || f.Type == smartball.MsgOTAProgress || f.Type == smartball.MsgOTAReady {
			return f, nil
		}
	}
}

func otaErrorString(f smartball.Frame) string {
	if len(f.Payload) == 0 {
		return "empty RSP_OTA"
	}
	return fmt.Sprintf("%v", smartball.OTAError(f.Payload[0]))
}
