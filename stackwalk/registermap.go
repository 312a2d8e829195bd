package stackwalk

import "fmt"

// ---------------------------------------------------------------------------
// RegisterMap: per-walk callee-saved register location tracking
// ---------------------------------------------------------------------------
//
// A RegisterMap is the companion structure of one stack walk. The walker
// owns exactly one map for the duration of the walk and is its sole
// mutator: before advancing from a frame to its sender, the walker records
// the addresses where the current frame saved each callee-saved register it
// clobbers. Readers (the root scanner, the deoptimizer) then know where
// every live register value resides while visiting the sender.
//
// The map additionally carries walk-wide state that a callee frame must
// hand to its caller: whether outgoing-argument oop slots of a
// not-yet-built callee frame need scanning, and which heap-resident stack
// chunk the walk is currently inside.
//
// All misuse of this type is a walker defect, not a runtime condition.
// With checks enabled, violations panic immediately; with checks disabled
// the accounting runs with no validation at all, since it sits on the hot
// path of every GC pause and every deoptimization.

// locationValidBits is the width of one word of the validity bit-vector.
const locationValidBits = 64

// checksEnabled gates all invariant checking in this package. It is a
// process-wide, configuration-time switch: flip it once at startup, never
// during a walk.
var checksEnabled = true

// SetChecksEnabled turns invariant checking on or off for all maps created
// afterward. Sampling profilers running in production disable it.
func SetChecksEnabled(v bool) { checksEnabled = v }

// ChecksEnabled reports whether invariant checking is active.
func ChecksEnabled() bool { return checksEnabled }

// RegisterMap tracks the current memory location of every callee-saved
// register across one stack walk.
type RegisterMap struct {
	arch      *Arch
	locations []uintptr // indexed by register ordinal
	valid     []uint64  // packed validity bits, one per ordinal

	includeArgumentOops bool

	thread     *Thread     // borrowed, never owned
	chunk      *StackChunk // borrowed; nil while walking the native stack
	chunkIndex int         // bumped on every rebind to a new chunk identity

	updateMap     bool // maintain locations at all
	processFrames bool // frames must pass the stack watermark barrier
	walkCont      bool // the walk may descend into continuation chunks

	// Relaxed-mode flags, meaningful only with checks enabled.
	async       bool
	skipMissing bool

	// Double-write detection, active only with checks enabled: the walker
	// arms the token with a frame identifier before writing that frame's
	// saved registers; writing the same ordinal twice under one token, or
	// re-arming with the same identifier, is a walker defect.
	updateToken uintptr
	written     []uint64
}

// NewRegisterMap creates a map for walking the native stack of thread.
// updateMap selects whether locations are maintained at all (stack-trace
// printing does not need them), processFrames whether visited frames must
// pass the GC-safety barrier first, and walkCont whether the walk may
// descend into continuation chunks.
func NewRegisterMap(thread *Thread, updateMap, processFrames, walkCont bool) *RegisterMap {
	return newRegisterMap(AMD64, thread, updateMap, processFrames, walkCont)
}

// NewRegisterMapArch is NewRegisterMap for an explicit architecture.
func NewRegisterMapArch(arch *Arch, thread *Thread, updateMap, processFrames, walkCont bool) *RegisterMap {
	return newRegisterMap(arch, thread, updateMap, processFrames, walkCont)
}

// NewContinuationRegisterMap creates a map for walking a suspended,
// heap-resident stack. The owning thread is the continuation's carrier, if
// mounted. Continuation walks never take the frame barrier (the frames are
// not running) and always descend into chunks.
func NewContinuationRegisterMap(cont *Continuation, updateMap bool) *RegisterMap {
	return NewContinuationRegisterMapArch(AMD64, cont, updateMap)
}

// NewContinuationRegisterMapArch is NewContinuationRegisterMap for an
// explicit architecture.
func NewContinuationRegisterMapArch(arch *Arch, cont *Continuation, updateMap bool) *RegisterMap {
	var thread *Thread
	if cont != nil {
		thread = cont.Owner
	}
	return newRegisterMap(arch, thread, updateMap, false, true)
}

func newRegisterMap(arch *Arch, thread *Thread, updateMap, processFrames, walkCont bool) *RegisterMap {
	n := arch.RegCount()
	words := (n + locationValidBits - 1) / locationValidBits
	m := &RegisterMap{
		arch:                arch,
		locations:           make([]uintptr, n),
		valid:               make([]uint64, words),
		includeArgumentOops: true,
		thread:              thread,
		updateMap:           updateMap,
		processFrames:       processFrames,
		walkCont:            walkCont,
		written:             make([]uint64, words),
	}
	return m
}

// Clone copies the map, locations and validity included, for speculative
// inspection mid-walk without disturbing the walker's own instance.
func (m *RegisterMap) Clone() *RegisterMap {
	c := *m
	c.locations = append([]uintptr(nil), m.locations...)
	c.valid = append([]uint64(nil), m.valid...)
	c.written = append([]uint64(nil), m.written...)
	return &c
}

// Arch returns the architecture descriptor the map was built for.
func (m *RegisterMap) Arch() *Arch { return m.arch }

func (m *RegisterMap) checkRange(method string, reg RegID) {
	if reg < 0 || int(reg) >= len(m.locations) {
		panic(fmt.Sprintf("RegisterMap.%s: register ordinal %d out of range 0..%d",
			method, int(reg), len(m.locations)-1))
	}
}

// Valid reports whether the location recorded for reg is trustworthy.
func (m *RegisterMap) Valid(reg RegID) bool {
	if checksEnabled {
		m.checkRange("Valid", reg)
	}
	return m.valid[int(reg)/locationValidBits]&(1<<(uint(reg)%locationValidBits)) != 0
}

// Location returns where reg's saved value currently resides. A dynamically
// tracked location always wins; otherwise the architecture's static
// fallback slot for the given frame pointer is returned (0 when the
// architecture defines none). While a chunk is bound the returned address
// is chunk-relative and must be resolved through the chunk before use.
func (m *RegisterMap) Location(reg RegID, fp uintptr) uintptr {
	if checksEnabled {
		m.checkRange("Location", reg)
	}
	if m.valid[int(reg)/locationValidBits]&(1<<(uint(reg)%locationValidBits)) != 0 {
		return m.locations[reg]
	}
	return m.arch.PDLocation(reg, fp)
}

// SlotLocation resolves a slot of a multi-slot register. Slot 0 is exactly
// the scalar Location lookup; higher slots delegate to the architecture's
// indexed-offset rule applied to the base register's resolved location.
func (m *RegisterMap) SlotLocation(base RegID, slot int) uintptr {
	if checksEnabled && slot < 0 {
		panic(fmt.Sprintf("RegisterMap.SlotLocation: negative slot %d", slot))
	}
	if slot > 0 {
		return m.arch.PDSlotLocation(base, slot, m.Location(base, 0))
	}
	return m.Location(base, 0)
}

// TrustedLocation returns the raw recorded location for reg without
// consulting the validity bit. Callers must have independently proved the
// slot valid; on any other path the result is stale or meaningless.
func (m *RegisterMap) TrustedLocation(reg RegID) uintptr {
	if checksEnabled {
		m.checkRange("TrustedLocation", reg)
	}
	return m.locations[reg]
}

// SetLocation records that the current frame saved reg at loc and marks the
// entry trustworthy. Only legal on maps constructed with updateMap, and
// only once per register within one frame transition.
func (m *RegisterMap) SetLocation(reg RegID, loc uintptr) {
	if checksEnabled {
		m.checkRange("SetLocation", reg)
		if !m.updateMap {
			panic("RegisterMap.SetLocation: updating a map that does not need updating")
		}
		word, bit := int(reg)/locationValidBits, uint64(1)<<(uint(reg)%locationValidBits)
		if m.updateToken != 0 && m.written[word]&bit != 0 {
			panic(fmt.Sprintf("RegisterMap.SetLocation: register %s written twice for frame %#x",
				m.arch.RegName(reg), m.updateToken))
		}
		m.written[word] |= bit
	}
	m.locations[reg] = loc
	m.valid[int(reg)/locationValidBits] |= 1 << (uint(reg) % locationValidBits)
}

// BeginFrameUpdate arms the double-write token for the frame identified by
// frameID (its frame pointer, in practice) before the walker writes that
// frame's saved registers. Arming twice with the same identifier means the
// walker processed one frame twice. No-op with checks disabled.
func (m *RegisterMap) BeginFrameUpdate(frameID uintptr) {
	if !checksEnabled {
		return
	}
	if frameID != 0 && m.updateToken == frameID {
		panic(fmt.Sprintf("RegisterMap.BeginFrameUpdate: frame %#x updated twice", frameID))
	}
	m.updateToken = frameID
	for i := range m.written {
		m.written[i] = 0
	}
}

// Clear invalidates every entry. Called at an entry frame, where nothing is
// yet known about callee-saved values. Raw locations are left in place and
// become stale; only TrustedLocation can still observe them.
func (m *RegisterMap) Clear() {
	for i := range m.valid {
		m.valid[i] = 0
	}
	if checksEnabled {
		m.updateToken = 0
		for i := range m.written {
			m.written[i] = 0
		}
	}
}

// Verify compares every raw location, valid or not, against another map
// populated over the same frame sequence by an independent mechanism, and
// returns the mismatching ordinals. Differential checking only; a non-empty
// result means one of the two producers is defective.
func (m *RegisterMap) Verify(other *RegisterMap) []RegID {
	if other.arch != m.arch {
		panic(fmt.Sprintf("RegisterMap.Verify: comparing %s map against %s map",
			m.arch.Name, other.arch.Name))
	}
	var mismatched []RegID
	for i := range m.locations {
		if m.locations[i] != other.locations[i] {
			mismatched = append(mismatched, RegID(i))
		}
	}
	return mismatched
}

// IncludeArgumentOops reports whether outgoing-argument oop slots of a
// not-yet-built callee frame must be scanned along with the caller.
func (m *RegisterMap) IncludeArgumentOops() bool { return m.includeArgumentOops }

// SetIncludeArgumentOops is set by frames mid-call (call stubs, dispatch
// resolution) whose callee's arguments are live on the stack before the
// callee frame exists.
func (m *RegisterMap) SetIncludeArgumentOops(v bool) { m.includeArgumentOops = v }

// Thread returns the thread whose stack is being walked, if any.
func (m *RegisterMap) Thread() *Thread { return m.thread }

// UpdateMap reports whether the map maintains register locations.
func (m *RegisterMap) UpdateMap() bool { return m.updateMap }

// ProcessFrames reports whether visited frames must pass the stack
// watermark barrier before their contents are read.
func (m *RegisterMap) ProcessFrames() bool { return m.processFrames }

// WalkContinuations reports whether the walk may descend into
// heap-resident continuation chunks.
func (m *RegisterMap) WalkContinuations() bool { return m.walkCont }

// ---------------------------------------------------------------------------
// Chunk binding
// ---------------------------------------------------------------------------

// InContinuation reports whether the walk is currently inside a
// heap-resident chunk holding frames. While true, recorded locations are
// chunk-relative.
func (m *RegisterMap) InContinuation() bool { return m.chunk != nil && !m.chunk.IsEmpty() }

// Chunk returns the currently bound chunk, nil on the native stack.
func (m *RegisterMap) Chunk() *StackChunk { return m.chunk }

// SetChunk rebinds the walk to a chunk, or to the native stack when chunk
// is nil. Binding a new chunk identity advances ChunkIndex so collaborators
// caching per-chunk state can detect the transition with an integer
// comparison instead of comparing references that relocation may disturb.
func (m *RegisterMap) SetChunk(chunk *StackChunk) {
	if checksEnabled && chunk != nil && !m.walkCont {
		panic("RegisterMap.SetChunk: binding a chunk on a map that does not walk continuations")
	}
	if chunk != nil && chunk != m.chunk {
		m.chunkIndex++
	}
	m.chunk = chunk
}

// ChunkIndex returns the chunk transition counter. It only increases over
// the life of one map; it is meaningless while no chunk has ever been bound.
func (m *RegisterMap) ChunkIndex() int { return m.chunkIndex }

// SetChunkIndex restores the counter, for collaborators replaying a
// recorded walk position.
func (m *RegisterMap) SetChunkIndex(n int) { m.chunkIndex = n }

// ---------------------------------------------------------------------------
// Relaxed asynchronous walking
// ---------------------------------------------------------------------------

// SetAsync marks the walk as asynchronous: the target thread may be running
// while the walk inspects its stack, so momentarily inconsistent frames are
// expected rather than defects.
func (m *RegisterMap) SetAsync(v bool) { m.async = v }

// Async reports whether the walk is asynchronous.
func (m *RegisterMap) Async() bool { return m.async }

// SetSkipMissing tells readers to treat unresolvable locations as holes to
// skip rather than defects to report. It changes how callers interpret
// failures, not the map's own lookups.
func (m *RegisterMap) SetSkipMissing(v bool) { m.skipMissing = v }

// SkipMissing reports whether missing locations should be tolerated.
func (m *RegisterMap) SkipMissing() bool { return m.skipMissing }

// FindRegisterSpilledAt returns the register whose tracked location equals
// addr, for diagnostics when inspecting a suspicious stack slot. The bool
// result is false when no valid entry matches.
func (m *RegisterMap) FindRegisterSpilledAt(addr uintptr) (RegID, bool) {
	for i := range m.locations {
		r := RegID(i)
		if m.Valid(r) && m.locations[i] == addr {
			return r, true
		}
	}
	return 0, false
}
