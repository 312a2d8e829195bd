package stackwalk

import "fmt"

// ---------------------------------------------------------------------------
// Heap-resident stack chunks
// ---------------------------------------------------------------------------
//
// When a continuation is frozen, a contiguous run of its frames is copied
// into a StackChunk on the managed heap. A walk that descends into a chunk
// records chunk-relative addresses in its register map; only the chunk
// itself can turn those back into absolute addresses, because the chunk may
// be relocated by the collector between the write and the read.

// Chunk flags. Once gc-mode is set, neither it nor has-interpreted-frames
// may change for the lifetime of the chunk.
const (
	ChunkFlagHasInterpretedFrames uint8 = 1 << 0
	ChunkFlagGCMode               uint8 = 1 << 2
	ChunkFlagHasBitmap            uint8 = 1 << 3
)

// StackChunk is one heap-resident stack segment of a continuation.
// All positions (SP, Bottom, offsets) are in machine words relative to the
// start of the chunk's stack area; sizes are in words.
type StackChunk struct {
	ID          int64
	Cont        *Continuation
	Parent      *StackChunk
	Words       []uintptr // the copied stack content, oldest frame at the end
	SP          int       // word offset of the youngest frame's stack pointer
	PC          uintptr   // resume pc of the youngest frame
	ArgSize     int       // words of outgoing arguments below the oldest frame
	Flags       uint8
	MaxThawSize int // words the thawed content would occupy, excluding top metadata

	// base is the chunk's current load address: the absolute address of
	// Words[0]. The chunk manager updates it when the collector moves the
	// chunk; everything recorded as an offset survives the move.
	base uintptr
}

// NewStackChunk allocates a chunk of stackSize words at the given load
// address for the given continuation.
func NewStackChunk(id int64, cont *Continuation, stackSize int, base uintptr) *StackChunk {
	c := &StackChunk{
		ID:    id,
		Cont:  cont,
		Words: make([]uintptr, stackSize),
		SP:    stackSize,
		base:  base,
	}
	return c
}

// StackSize returns the chunk's stack area size in words.
func (c *StackChunk) StackSize() int { return len(c.Words) }

// Bottom returns the word offset just past the oldest frame, excluding the
// outgoing-argument words shared with the frame below the chunk.
func (c *StackChunk) Bottom() int { return len(c.Words) - c.ArgSize }

// IsEmpty reports whether the chunk holds no frames.
func (c *StackChunk) IsEmpty() bool { return c.SP >= c.Bottom() }

// HasFlag reports whether the given chunk flag is set.
func (c *StackChunk) HasFlag(flag uint8) bool { return c.Flags&flag != 0 }

// SetFlag sets or clears one chunk flag.
func (c *StackChunk) SetFlag(flag uint8, value bool) {
	if value {
		c.Flags |= flag
	} else {
		c.Flags &^= flag
	}
}

// Base returns the chunk's current load address.
func (c *StackChunk) Base() uintptr { return c.base }

// Relocate moves the chunk to a new load address. Offsets recorded against
// the chunk remain valid; absolute addresses derived before the move do not.
func (c *StackChunk) Relocate(base uintptr) { c.base = base }

// IsInChunk reports whether addr falls inside the chunk's stack area at its
// current load address.
func (c *StackChunk) IsInChunk(addr uintptr) bool {
	return addr >= c.base && addr < c.base+uintptr(len(c.Words)*8)
}

// RelativizeAddress turns an absolute address inside the chunk into a word
// offset that survives relocation. Addresses outside the chunk are a
// walker defect.
func (c *StackChunk) RelativizeAddress(addr uintptr) int {
	if !c.IsInChunk(addr) {
		panic(fmt.Sprintf("StackChunk.RelativizeAddress: %#x not in chunk [%#x,%#x)",
			addr, c.base, c.base+uintptr(len(c.Words)*8)))
	}
	return int((addr - c.base) / 8)
}

// DerelativizeAddress turns a word offset back into an absolute address at
// the chunk's current load address.
func (c *StackChunk) DerelativizeAddress(offset int) uintptr {
	if offset < 0 || offset > len(c.Words) {
		panic(fmt.Sprintf("StackChunk.DerelativizeAddress: offset %d out of range 0..%d",
			offset, len(c.Words)))
	}
	return c.base + uintptr(offset*8)
}

// WordAt returns the stack word at the given offset.
func (c *StackChunk) WordAt(offset int) uintptr {
	if offset < 0 || offset >= len(c.Words) {
		panic(fmt.Sprintf("StackChunk.WordAt: offset %d out of range 0..%d",
			offset, len(c.Words)-1))
	}
	return c.Words[offset]
}

// SetWordAt stores a stack word at the given offset.
func (c *StackChunk) SetWordAt(offset int, w uintptr) {
	if offset < 0 || offset >= len(c.Words) {
		panic(fmt.Sprintf("StackChunk.SetWordAt: offset %d out of range 0..%d",
			offset, len(c.Words)-1))
	}
	c.Words[offset] = w
}
