package emulator

import "sync"

const (
	ADDRESS_BITS = 40                      // Semaphore addresses are 40 bits wide
	ADDRESS_MASK = (1 << ADDRESS_BITS) - 1 // Mask applied to every access
	PAGE_SIZE    = 4096                    // RAM is allocated lazily in 4KB pages
)

// Memory backing semaphores. It is shared by every channel, so
// implementations must be safe for concurrent use
type Memory interface {
	Load32(addr uint64) uint32
	Store32(addr uint64, val uint32)
	Store64(addr uint64, val uint64)
	// Atomically replaces the word at `addr` with `fn(old)` and returns
	// the new value
	Reduce32(addr uint64, fn func(old uint32) uint32) uint32
}

// Sparse little endian memory covering the whole 40 bit address space.
// Pages are allocated on first store, unallocated pages read as zero
type RAM struct {
	mutex sync.RWMutex
	pages map[uint64]*[PAGE_SIZE]byte
}

// Creates a new empty RAM instance
func NewRAM() *RAM {
	return &RAM{pages: make(map[uint64]*[PAGE_SIZE]byte)}
}

func (ram *RAM) load(addr uint64, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		a := (addr + uint64(i)) & ADDRESS_MASK
		if page, ok := ram.pages[a/PAGE_SIZE]; ok {
			v |= uint64(page[a%PAGE_SIZE]) << (i * 8)
		}
	}
	return v
}

func (ram *RAM) store(addr uint64, size int, val uint64) {
	for i := 0; i < size; i++ {
		a := (addr + uint64(i)) & ADDRESS_MASK
		page, ok := ram.pages[a/PAGE_SIZE]
		if !ok {
			page = new([PAGE_SIZE]byte)
			ram.pages[a/PAGE_SIZE] = page
		}
		page[a%PAGE_SIZE] = byte(val >> (i * 8))
	}
}

// Load a 32 bit little endian word at `addr`
func (ram *RAM) Load32(addr uint64) uint32 {
	ram.mutex.RLock()
	defer ram.mutex.RUnlock()
	return uint32(ram.load(addr, 4))
}

// Load a 64 bit little endian value at `addr`
func (ram *RAM) Load64(addr uint64) uint64 {
	ram.mutex.RLock()
	defer ram.mutex.RUnlock()
	return ram.load(addr, 8)
}

// Store a 32 bit little endian word `val` into `addr`
func (ram *RAM) Store32(addr uint64, val uint32) {
	ram.mutex.Lock()
	defer ram.mutex.Unlock()
	ram.store(addr, 4, uint64(val))
}

// Store a 64 bit little endian value `val` into `addr`
func (ram *RAM) Store64(addr uint64, val uint64) {
	ram.mutex.Lock()
	defer ram.mutex.Unlock()
	ram.store(addr, 8, val)
}

func (ram *RAM) Reduce32(addr uint64, fn func(old uint32) uint32) uint32 {
	ram.mutex.Lock()
	defer ram.mutex.Unlock()
	v := fn(uint32(ram.load(addr, 4)))
	ram.store(addr, 4, uint64(v))
	return v
}

// Returns the number of allocated pages
func (ram *RAM) Pages() int {
	ram.mutex.RLock()
	defer ram.mutex.RUnlock()
	return len(ram.pages)
}
