package main

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/marcinbor85/gohex"

	"github.com/kestrelfield/smartball"
)

// flattenHex loads an Intel HEX file and returns the contiguous byte image
// it describes, using base as the address of the first output byte. Gaps
// between segments are filled with 0xFF, matching NOR flash's erased state.
func flattenHex(r io.Reader, base uint32) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, err
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, nil
	}

	end := base
	for _, seg := range segments {
		if segEnd := seg.Address + uint32(len(seg.Data)); segEnd > end {
			end = segEnd
		}
	}

	out := make([]byte, end-base)
	for i := range out {
		out[i] = 0xFF
	}
	for _, seg := range segments {
		if seg.Address < base {
			continue
		}
		copy(out[seg.Address-base:], seg.Data)
	}
	return out, nil
}

// packImage prepends the 14-byte OTA image header to body and returns the
// finished image ready for upload. The header's own crc32 field
// holds Crc32(body) — diagnostic metadata a bootloader could double-check,
// but not what the device verifies. The whole-image checksum the device
// does verify (expected_crc32 in START) must be computed by the caller over
// this returned buffer in full, since it covers the header bytes too.
func packImage(body []byte, version uint16) []byte {
	image := make([]byte, smartball.OTAHeaderSize+len(body))
	binary.LittleEndian.PutUint32(image[0:4], smartball.OTAMagic)
	binary.LittleEndian.PutUint16(image[4:6], version)
	binary.LittleEndian.PutUint32(image[6:10], uint32(len(image)))
	binary.LittleEndian.PutUint32(image[10:14], smartball.Crc32(body))
	copy(image[smartball.OTAHeaderSize:], body)
	return image
}

func writeImageFile(path string, image []byte) error {
	return os.WriteFile(path, image, 0o644)
}
