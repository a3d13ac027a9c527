package smartball

import (
	"fmt"

	"github.com/pkg/errors"
)

// Yield is called from inside long-running flash operations so the outer
// application can service its radio stack. The caller injects it; the
// flash layer never assumes anything about what it does.
type Yield func()

// Flash is the narrow interface the OTA core needs from the internal NOR
// flash, kept behind an interface rather than raw memory-pointer access so
// a fake in-memory implementation can stand in for tests.
type Flash interface {
	// Erase erases one 4 KiB-aligned, 4 KiB-multiple region.
	Erase(addr, length uint32) error
	// Program writes data starting at addr. Callers are responsible for
	// splitting large writes into page-sized calls via pageProgram if they
	// need yield points; Program itself performs a single write.
	Program(addr uint32, data []byte) error
	// Read returns a copy of length bytes starting at addr.
	Read(addr uint32, length uint32) ([]byte, error)
}

type flashError struct {
	Addr uint32
	Err  error
}

func (e *flashError) Error() string {
	return fmt.Sprintf("flash error at %#x: %v", e.Addr, e.Err)
}

func (e *flashError) Unwrap() error { return e.Err }

// pageProgram writes data starting at addr, split into OTADataPage-sized
// writes with a yield call between pages: no command handler may block for
// longer than one page write, so large programs are split up and give the
// caller a chance to service other work between pages.
func pageProgram(f Flash, yield Yield, addr uint32, data []byte) error {
	remaining := data
	for len(remaining) > 0 {
		n := OTADataPage
		if n > len(remaining) {
			n = len(remaining)
		}
		if err := f.Program(addr, remaining[:n]); err != nil {
			return &flashError{Addr: addr, Err: errors.Wrap(err, "program page")}
		}
		addr += uint32(n)
		remaining = remaining[n:]
		if len(remaining) > 0 && yield != nil {
			yield()
		}
	}
	return nil
}

// FakeFlash is an in-memory Flash implementation for tests and the
// simulator. Erased bytes read back as 0xFF, matching NOR flash semantics.
type FakeFlash struct {
	mem []byte
}

// NewFakeFlash returns a FakeFlash of the given size, fully erased.
func NewFakeFlash(size uint32) *FakeFlash {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &FakeFlash{mem: mem}
}

func (f *FakeFlash) bounds(addr, length uint32) error {
	if uint64(addr)+uint64(length) > uint64(len(f.mem)) {
		return errors.Errorf("access [%#x, %#x) out of bounds (size %#x)", addr, uint64(addr)+uint64(length), len(f.mem))
	}
	return nil
}

// Erase sets length bytes starting at addr to 0xFF.
func (f *FakeFlash) Erase(addr, length uint32) error {
	if length == 0 || length%OTAEraseSector != 0 || addr%OTAEraseSector != 0 {
		return errors.Errorf("erase at %#x length %#x not sector-aligned", addr, length)
	}
	if err := f.bounds(addr, length); err != nil {
		return err
	}
	for i := addr; i < addr+length; i++ {
		f.mem[i] = 0xFF
	}
	return nil
}

// Program writes data starting at addr, no erase is implied.
func (f *FakeFlash) Program(addr uint32, data []byte) error {
	if err := f.bounds(addr, uint32(len(data))); err != nil {
		return err
	}
	copy(f.mem[addr:], data)
	return nil
}

// Read returns a copy of length bytes starting at addr.
func (f *FakeFlash) Read(addr uint32, length uint32) ([]byte, error) {
	if err := f.bounds(addr, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, f.mem[addr:addr+length])
	return out, nil
}
