package stackwalk

import "fmt"

// ---------------------------------------------------------------------------
// Frame walking
// ---------------------------------------------------------------------------
//
// The walker drives one unwind, frame by frame, and is the register map's
// sole mutator. For each transition it reports the current frame to the
// visitor (which reads the map), then records where that frame saved the
// callee-saved registers it clobbers, then advances to the sender. The
// ordering matters: by the time the visitor sees a frame, the map already
// reflects every save performed by the frames younger than it.

// FrameKind classifies a frame for the decoder backend.
type FrameKind int

const (
	FrameInterpreted FrameKind = iota
	FrameCompiled
	FrameStub
	FrameEntry // outermost frame of one native-stack segment
)

func (k FrameKind) String() string {
	switch k {
	case FrameInterpreted:
		return "interpreted"
	case FrameCompiled:
		return "compiled"
	case FrameStub:
		return "stub"
	case FrameEntry:
		return "entry"
	}
	return fmt.Sprintf("FrameKind(%d)", int(k))
}

// Frame is one activation during a walk. While the walk is inside a chunk,
// SP and FP are chunk-relative word offsets derelativized on demand.
type Frame struct {
	PC   uintptr
	SP   uintptr
	FP   uintptr
	Kind FrameKind
}

// SavedRegister names one callee-saved register a frame clobbers and the
// address where the frame saved the caller's value.
type SavedRegister struct {
	Reg RegID
	Loc uintptr
}

// FrameDecoder is the per-architecture, per-frame-kind backend that knows
// frame layout. It is external to the map; the reference decoders in this
// repo exist for tests and tooling.
type FrameDecoder interface {
	// Sender decodes the caller of f. ok is false at the outermost frame.
	Sender(f Frame) (sender Frame, ok bool)

	// SavedRegisters lists where f saved the callee-saved registers it
	// clobbers. ok is false when the frame cannot be decoded, which is a
	// defect in a synchronous walk but expected during asynchronous
	// sampling of a running thread.
	SavedRegisters(f Frame) (saves []SavedRegister, ok bool)
}

// Walker unwinds one stack using one RegisterMap.
type Walker struct {
	m       *RegisterMap
	decoder FrameDecoder

	// ChunkAt, when set, is consulted at entry frames: a non-nil result
	// means the walk leaves the native stack there and continues inside the
	// returned heap-resident chunk.
	ChunkAt func(f Frame) *StackChunk
}

// NewWalker creates a walker over m using the given decoder backend.
func NewWalker(m *RegisterMap, decoder FrameDecoder) *Walker {
	return &Walker{m: m, decoder: decoder}
}

// Map returns the walker's register map.
func (w *Walker) Map() *RegisterMap { return w.m }

// Walk unwinds from start outward, calling visit for every frame. The map
// passed to visit holds the locations recorded by all younger frames.
// Walking stops when visit returns false or the outermost frame is reached.
func (w *Walker) Walk(start Frame, visit func(Frame, *RegisterMap) bool) {
	f := start
	w.m.Clear()
	for {
		if !visit(f, w.m) {
			return
		}
		w.update(f)
		sender, ok := w.decoder.Sender(f)
		if !ok {
			if next := w.crossIntoChunk(f); next != nil {
				f = *next
				continue
			}
			return
		}
		f = sender
	}
}

// update records f's saved registers per the walker contract. Skipped
// entirely when the map does not need maintaining.
func (w *Walker) update(f Frame) {
	if !w.m.UpdateMap() {
		return
	}
	w.m.BeginFrameUpdate(f.FP)
	saves, ok := w.decoder.SavedRegisters(f)
	if !ok {
		if w.m.SkipMissing() || !checksEnabled {
			return
		}
		panic(fmt.Sprintf("Walker.update: no register save info for %s frame at %#x",
			f.Kind, f.PC))
	}
	for _, s := range saves {
		loc := s.Loc
		if c := w.m.Chunk(); c != nil && c.IsInChunk(loc) {
			// Inside a chunk the map records relocation-stable offsets.
			loc = uintptr(c.RelativizeAddress(loc))
		}
		w.m.SetLocation(s.Reg, loc)
	}
}

// crossIntoChunk handles the transition from an exhausted native-stack
// segment or chunk onto the next heap-resident chunk, if any.
func (w *Walker) crossIntoChunk(f Frame) *Frame {
	if !w.m.WalkContinuations() {
		return nil
	}
	var next *StackChunk
	if c := w.m.Chunk(); c != nil {
		for next = c.Parent; next != nil && next.IsEmpty(); next = next.Parent {
		}
	} else if w.ChunkAt != nil {
		next = w.ChunkAt(f)
		if next != nil && next.IsEmpty() {
			next = nil
		}
	}
	if next == nil {
		return nil
	}
	w.m.SetChunk(next)
	top := Frame{
		PC:   next.PC,
		SP:   uintptr(next.SP),
		FP:   uintptr(next.SP),
		Kind: FrameCompiled,
	}
	if next.HasFlag(ChunkFlagHasInterpretedFrames) {
		top.Kind = FrameInterpreted
	}
	return &top
}

// ---------------------------------------------------------------------------
// Reader collaborators
// ---------------------------------------------------------------------------

// RootVisitor is implemented by the collector's root-processing closure. It
// consults IncludeArgumentOops on the map to decide whether a frame's
// outgoing-argument slots carry oops that must be reported too.
type RootVisitor interface {
	VisitRoot(addr uintptr)
	VisitArgumentOops(f Frame, m *RegisterMap)
}

// DeoptSink consumes resolved register locations when a compiled frame is
// rewritten into interpreter frames.
type DeoptSink interface {
	WriteRegister(reg RegID, loc uintptr)
}
