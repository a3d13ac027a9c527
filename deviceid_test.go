package smartball

import "testing"

func TestDeviceIDResponseLayout(t *testing.T) {
	profile := DefaultProfile()
	profile.FWVersion = 0x0102
	profile.ProtocolVersion = 3
	profile.HWRevision = 4
	profile.UID = []byte{0xAA, 0xBB, 0xCC}

	id := NewDeviceID(profile)
	buf := id.Response()

	want := []byte{0x02, 0x01, 3, 4, 3, 0xAA, 0xBB, 0xCC}
	if len(buf) != len(want) {
		t.Fatalf("got %d bytes, want %d", len(buf), len(want))
	}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, buf[i], want[i])
		}
	}
}

func TestDeviceIDResponseEmptyUID(t *testing.T) {
	profile := DefaultProfile()
	id := NewDeviceID(profile)
	buf := id.Response()
	if len(buf) != 5 {
		t.Fatalf("got %d bytes, want 5 for an empty UID", len(buf))
	}
	if buf[4] != 0 {
		t.Fatalf("uid_len = %d, want 0", buf[4])
	}
}
