//go:build linux

package busio

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DevMemBus maps a physical register region through /dev/mem and
// serves 32-bit accesses from the mapping. The mapping is page
// aligned; phys may point anywhere inside the first page.
type DevMemBus struct {
	file *os.File
	mmap []byte
	off  uint64
	size uint64
}

// OpenDevMem maps size bytes of physical address space starting at phys.
func OpenDevMem(phys uint64, size uint64) (*DevMemBus, error) {
	pageSize := uint64(unix.Getpagesize())
	aligned := phys &^ (pageSize - 1)
	mapLen := size + (phys - aligned)
	mapLen = (mapLen + pageSize - 1) &^ (pageSize - 1)

	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("busio: open /dev/mem: %w", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), int64(aligned), int(mapLen),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("busio: mmap 0x%x+0x%x: %w", aligned, mapLen, err)
	}
	return &DevMemBus{file: f, mmap: mem, off: phys - aligned, size: size}, nil
}

// Read32 implements Bus32.
func (b *DevMemBus) Read32(off uint32) uint32 {
	if uint64(off)+4 > b.size {
		return 0
	}
	p := (*uint32)(unsafe.Pointer(&b.mmap[b.off+uint64(off)]))
	return atomic.LoadUint32(p)
}

// Write32 implements Bus32.
func (b *DevMemBus) Write32(off uint32, val uint32) {
	if uint64(off)+4 > b.size {
		return
	}
	p := (*uint32)(unsafe.Pointer(&b.mmap[b.off+uint64(off)]))
	atomic.StoreUint32(p, val)
}

// Close unmaps the region and releases /dev/mem.
func (b *DevMemBus) Close() error {
	if b.mmap != nil {
		if err := unix.Munmap(b.mmap); err != nil {
			return err
		}
		b.mmap = nil
	}
	return b.file.Close()
}

var _ Bus32 = (*DevMemBus)(nil)
