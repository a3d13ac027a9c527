package smartball

import "testing"

func TestCrc32KnownVector(t *testing.T) {
	// CRC-32/IEEE of "123456789" is the standard check value 0xCBF43926.
	got := Crc32([]byte("123456789"))
	want := uint32(0xCBF43926)
	if got != want {
		t.Fatalf("Crc32(%q) = %#x, want %#x", "123456789", got, want)
	}
}

func TestCrc32EmptyIsZero(t *testing.T) {
	if got := Crc32(nil); got != 0 {
		t.Fatalf("Crc32(nil) = %#x, want 0", got)
	}
}

func TestCrc32UpdateAssociative(t *testing.T) {
	a := []byte("smartball-")
	b := []byte("ota-core")

	combined := Crc32(append(append([]byte{}, a...), b...))
	incremental := Crc32Update(Crc32Update(0, a), b)

	if combined != incremental {
		t.Fatalf("update(update(0,a),b) = %#x, want crc32(a||b) = %#x", incremental, combined)
	}
}
