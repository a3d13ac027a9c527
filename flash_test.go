package smartball

import (
	"bytes"
	"testing"
)

func TestFakeFlashEraseReadsAsFF(t *testing.T) {
	f := NewFakeFlash(8192)
	if err := f.Program(0, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := f.Erase(0, OTAEraseSector); err != nil {
		t.Fatal(err)
	}
	data, err := f.Read(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{0xFF, 0xFF, 0xFF}) {
		t.Fatalf("got %v, want all 0xFF", data)
	}
}

func TestFakeFlashEraseRejectsUnaligned(t *testing.T) {
	f := NewFakeFlash(8192)
	if err := f.Erase(1, OTAEraseSector); err == nil {
		t.Fatal("expected error for unaligned erase address")
	}
	if err := f.Erase(0, 100); err == nil {
		t.Fatal("expected error for non-sector-multiple length")
	}
}

func TestFakeFlashOutOfBounds(t *testing.T) {
	f := NewFakeFlash(4096)
	if _, err := f.Read(4090, 100); err == nil {
		t.Fatal("expected out-of-bounds read to fail")
	}
	if err := f.Program(4090, make([]byte, 100)); err == nil {
		t.Fatal("expected out-of-bounds program to fail")
	}
}

func TestPageProgramYieldsBetweenPages(t *testing.T) {
	f := NewFakeFlash(8192)
	var yields int
	yield := func() { yields++ }

	data := make([]byte, OTADataPage*3+10)
	for i := range data {
		data[i] = byte(i)
	}

	if err := pageProgram(f, yield, 0, data); err != nil {
		t.Fatal(err)
	}
	if yields != 3 {
		t.Fatalf("got %d yields, want 3 (one between each of 4 pages)", yields)
	}

	got, err := f.Read(0, uint32(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("programmed data does not match input")
	}
}

func TestPageProgramSinglePageNoYield(t *testing.T) {
	f := NewFakeFlash(8192)
	var yields int
	if err := pageProgram(f, func() { yields++ }, 0, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if yields != 0 {
		t.Fatalf("got %d yields for a single page, want 0", yields)
	}
}
