package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/kestrelfield/smartball"
)

// processPack converts a HEX firmware image into a length-and-CRC-tagged OTA
// image ready for processUpload. args: hexfile outfile version.
func processPack(args []string, profile smartball.DeviceProfile) {
	if len(args) != 3 {
		log.Fatalf("usage: pack <hexfile> <outfile> <version>")
	}
	hexPath, outPath := args[0], args[1]
	var version uint16
	if _, err := fmt.Sscanf(args[2], "%d", &version); err != nil {
		log.Fatalf("invalid version %q: %v", args[2], err)
	}

	f, err := os.Open(hexPath)
	if err != nil {
		log.Fatalf("failed to open hex file: %v", err)
	}
	defer f.Close()

	body, err := flattenHex(f, 0)
	if err != nil {
		log.Fatalf("failed to parse hex file: %v", err)
	}

	image := packImage(body, version)
	if uint32(len(image)) > profile.StagingSize {
		log.Fatalf("image size %d exceeds staging area size %d for this device profile", len(image), profile.StagingSize)
	}
	if err := writeImageFile(outPath, image); err != nil {
		log.Fatalf("failed to write image file: %v", err)
	}
	log.Infof("packed %d bytes (body %d bytes) into %v, whole-image crc32=%#08x",
		len(image), len(body), outPath, smartball.Crc32(image))
}

// processUpload drives a full START/DATA/FINISH exchange over an open
// transport. args: imagefile slot.
func processUpload(t *transport, args []string, profile smartball.DeviceProfile) {
	if len(args) != 2 {
		log.Fatalf("usage: upload <imagefile> <slot>")
	}
	image, err := os.ReadFile(args[0])
	if err != nil {
		log.Fatalf("failed to read image file: %v", err)
	}
	if uint32(len(image)) > profile.StagingSize {
		log.Fatalf("image size %d exceeds staging area size %d for this device profile", len(image), profile.StagingSize)
	}
	var slot int
	if _, err := fmt.Sscanf(args[1], "%d", &slot); err != nil {
		log.Fatalf("invalid slot %q: %v", args[1], err)
	}

	crc := smartball.Crc32(image)
	version := binary.LittleEndian.Uint16(image[4:6])

	start := make([]byte, 11)
	start[0] = byte(slot)
	binary.LittleEndian.PutUint16(start[1:3], version)
	binary.LittleEndian.PutUint32(start[3:7], uint32(len(image)))
	binary.LittleEndian.PutUint32(start[7:11], crc)

	log.Infof("sending START: slot=%d version=%d size=%d crc32=%#08x", slot, version, len(image), crc)
	t.Send(smartball.CmdOTAStart, start)
	resp, err := t.expectOTA()
	if err != nil {
		log.Fatalf("no response to START: %v", err)
	}
	if smartball.OTAError(resp.Payload[0]) != smartball.OKStart {
		log.Fatalf("START rejected: %v", otaErrorString(resp))
	}

	log.Infof("waiting for device to finish erasing staging area...")
	for {
		resp, err = t.expectOTA()
		if err != nil {
			log.Fatalf("waiting for MSG_OTA_READY: %v", err)
		}
		if resp.Type == smartball.MsgOTAReady {
			break
		}
	}

	log.Infof("uploading %d bytes in %d-byte chunks", len(image), smartball.OTAChunkMax)
	offset := 0
	for offset < len(image) {
		n := smartball.OTAChunkMax
		if offset+n > len(image) {
			n = len(image) - offset
		}
		chunk := image[offset : offset+n]
		chunkCRC := smartball.Crc32(chunk)

		payload := make([]byte, 8+len(chunk))
		binary.LittleEndian.PutUint32(payload[0:4], uint32(offset))
		copy(payload[4:], chunk)
		binary.LittleEndian.PutUint32(payload[4+len(chunk):], chunkCRC)

		t.Send(smartball.CmdOTAData, payload)
		resp, err = t.expectOTA()
		if err != nil {
			log.Fatalf("no ACK for offset %d: %v", offset, err)
		}
		switch smartball.OTAError(resp.Payload[0]) {
		case smartball.OKStart:
			nextOffset := binary.LittleEndian.Uint32(resp.Payload[1:5])
			offset = int(nextOffset)
		case smartball.ErrChunkCRC:
			log.Warnf("chunk at offset %d rejected (bad CRC), retrying", offset)
		default:
			log.Fatalf("upload failed at offset %d: %v", offset, otaErrorString(resp))
		}
	}

	log.Infof("upload complete, sending FINISH")
	t.Send(smartball.CmdOTAFinish, nil)
	resp, err = t.expectOTA()
	if err != nil {
		log.Fatalf("no response to FINISH: %v", err)
	}
	if smartball.OTAError(resp.Payload[0]) != smartball.OKFinish {
		log.Fatalf("FINISH failed: %v", otaErrorString(resp))
	}
	log.Infof("device armed the new image and is rebooting")
}

func processStatus(t *transport, args []string) {
	t.Send(smartball.CmdOTAStatus, nil)
	resp, err := t.expectOTA()
	if err != nil {
		log.Fatalf("no response to STATUS: %v", err)
	}
	if len(resp.Payload) != 24 {
		log.Fatalf("unexpected STATUS payload length %d", len(resp.Payload))
	}
	state := smartball.OTAState(resp.Payload[0])
	nextOffset := binary.LittleEndian.Uint32(resp.Payload[1:5])
	bytesReceived := binary.LittleEndian.Uint32(resp.Payload[5:9])
	totalSize := binary.LittleEndian.Uint32(resp.Payload[9:13])
	eraseProgress := binary.LittleEndian.Uint32(resp.Payload[13:17])
	lastErr := smartball.OTAError(resp.Payload[17])
	activeSlot, pendingSlot := resp.Payload[18], resp.Payload[19]

	fmt.Printf("state=%v next_offset=%d bytes_received=%d total_size=%d erase_progress=%d last_error=%v active_slot=%d pending_slot=%d\n",
		state, nextOffset, bytesReceived, totalSize, eraseProgress, lastErr, activeSlot, pendingSlot)
}

func processConfirm(t *transport, args []string) {
	t.Send(smartball.CmdOTAConfirm, nil)
	if _, err := t.expectOTA(); err != nil {
		log.Fatalf("no response to CONFIRM: %v", err)
	}
	log.Infof("confirmed")
}

func processAbort(t *transport, args []string) {
	t.Send(smartball.CmdOTAAbort, nil)
	if _, err := t.expectOTA(); err != nil {
		log.Fatalf("no response to ABORT: %v", err)
	}
	log.Infof("aborted")
}

func processGetLog(t *transport, args []string) {
	t.Send(smartball.CmdOTAGetLog, nil)
	resp, err := t.expectOTA()
	if err != nil {
		log.Fatalf("no response to GET_LOG: %v", err)
	}
	fmt.Print(hex.Dump(resp.Payload))
	for i := 0; i+4 <= len(resp.Payload); i += 4 {
		event := resp.Payload[i]
		param := uint32(resp.Payload[i+1]) | uint32(resp.Payload[i+2])<<8 | uint32(resp.Payload[i+3])<<16
		fmt.Printf("event=%d param=%d\n", event, param)
	}
}

func processID(t *transport, args []string) {
	t.Send(smartball.CmdGetID, nil)
	f, err := t.ReadFrame()
	if err != nil {
		log.Fatalf("no response to GET_ID: %v", err)
	}
	if f.Type != smartball.RspID || len(f.Payload) < 5 {
		log.Fatalf("unexpected RSP_ID: %+v", f)
	}
	fwVersion := binary.LittleEndian.Uint16(f.Payload[0:2])
	fmt.Printf("fw_version=%d protocol_version=%d hw_revision=%d uid=%x\n",
		fwVersion, f.Payload[2], f.Payload[3], f.Payload[5:5+int(f.Payload[4])])
}
