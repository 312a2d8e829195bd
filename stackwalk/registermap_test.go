package stackwalk

import (
	"strings"
	"testing"
)

func testThread() *Thread {
	return &Thread{ID: 1, Name: "worker", StackBase: 0x7fff_0000, StackLimit: 0x7ffe_0000}
}

func mustPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q, got none", want)
		}
		msg, ok := r.(string)
		if !ok {
			t.Fatalf("expected string panic, got %T: %v", r, r)
		}
		if !strings.Contains(msg, want) {
			t.Errorf("panic %q does not contain %q", msg, want)
		}
	}()
	fn()
}

// ---------------------------------------------------------------------------
// Location tracking
// ---------------------------------------------------------------------------

func TestSetLocationThenLocation(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, false)

	const addr = uintptr(0x7ffe_8010)
	m.SetLocation(AMD64RBX, addr)

	if !m.Valid(AMD64RBX) {
		t.Error("validity bit should be set after SetLocation")
	}
	if got := m.Location(AMD64RBX, 0x7ffe_9000); got != addr {
		t.Errorf("Location = %#x, want %#x", got, addr)
	}
	// An arbitrary frame pointer must not influence a tracked register.
	if got := m.Location(AMD64RBX, 0); got != addr {
		t.Errorf("Location with zero fp = %#x, want %#x", got, addr)
	}
}

func TestUntrackedRegisterUsesArchFallback(t *testing.T) {
	m := NewRegisterMapArch(ARM64, testThread(), true, true, false)

	const fp = uintptr(0x7ffe_8000)
	if got := m.Location(ARM64FP, fp); got != fp {
		t.Errorf("untracked fp location = %#x, want frame record base %#x", got, fp)
	}
	if got := m.Location(ARM64LR, fp); got != fp+8 {
		t.Errorf("untracked lr location = %#x, want %#x", got, fp+8)
	}
	if got := m.Location(ARM64X19, fp); got != 0 {
		t.Errorf("x19 has no static slot, got %#x", got)
	}

	// A dynamically tracked value always wins over the static slot.
	m.SetLocation(ARM64LR, 0x7ffe_8040)
	if got := m.Location(ARM64LR, fp); got != 0x7ffe_8040 {
		t.Errorf("tracked lr location = %#x, want %#x", got, uintptr(0x7ffe_8040))
	}
}

func TestClearRestoresFreshBehavior(t *testing.T) {
	const fp = uintptr(0x7ffe_8000)
	fresh := NewRegisterMapArch(ARM64, testThread(), true, true, false)

	m := NewRegisterMapArch(ARM64, testThread(), true, true, false)
	for _, r := range ARM64.CalleeSaved {
		m.SetLocation(r, 0x7ffe_9000+uintptr(r)*8)
	}
	m.Clear()

	for i := 0; i < ARM64.RegCount(); i++ {
		r := RegID(i)
		if got, want := m.Location(r, fp), fresh.Location(r, fp); got != want {
			t.Errorf("after Clear, Location(%s) = %#x, want fresh value %#x",
				ARM64.RegName(r), got, want)
		}
		if m.Valid(r) {
			t.Errorf("validity bit for %s still set after Clear", ARM64.RegName(r))
		}
	}
}

func TestTrustedLocationSkipsValidityCheck(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, false)

	const addr = uintptr(0x7ffe_8020)
	m.SetLocation(AMD64R12, addr)
	m.Clear()

	// The escape hatch still observes the stale raw slot.
	if got := m.TrustedLocation(AMD64R12); got != addr {
		t.Errorf("TrustedLocation after Clear = %#x, want stale %#x", got, addr)
	}
	if got := m.Location(AMD64R12, 0); got != 0 {
		t.Errorf("Location after Clear = %#x, want fallback 0", got)
	}
}

func TestSlotLocation(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, false)

	const base = uintptr(0x7ffe_8100)
	m.SetLocation(AMD64XMM2, base)

	if got := m.SlotLocation(AMD64XMM2, 0); got != m.Location(AMD64XMM2, 0) {
		t.Errorf("slot 0 = %#x, want scalar lookup %#x", got, m.Location(AMD64XMM2, 0))
	}
	for slot := 1; slot <= 3; slot++ {
		want := base + uintptr(slot*8)
		if got := m.SlotLocation(AMD64XMM2, slot); got != want {
			t.Errorf("slot %d = %#x, want %#x", slot, got, want)
		}
	}
	// An unresolved base yields no location for any slot.
	if got := m.SlotLocation(AMD64XMM7, 2); got != 0 {
		t.Errorf("slot of unresolved base = %#x, want 0", got)
	}
}

func TestClone(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, true)
	m.SetLocation(AMD64RBP, 0x7ffe_8008)
	m.SetIncludeArgumentOops(false)

	c := m.Clone()
	if got := c.Location(AMD64RBP, 0); got != 0x7ffe_8008 {
		t.Errorf("clone Location = %#x, want %#x", got, uintptr(0x7ffe_8008))
	}
	if c.IncludeArgumentOops() {
		t.Error("clone should copy the argument-oops flag")
	}
	if c.Thread() != m.Thread() {
		t.Error("clone should borrow the same thread")
	}

	// Mutating the clone must not disturb the original.
	c.SetLocation(AMD64R14, 0x7ffe_8030)
	if m.Valid(AMD64R14) {
		t.Error("write to clone leaked into original")
	}
}

// ---------------------------------------------------------------------------
// Differential verification
// ---------------------------------------------------------------------------

func TestVerifyMatchingMaps(t *testing.T) {
	a := NewRegisterMap(testThread(), true, true, false)
	b := NewRegisterMap(testThread(), true, true, false)
	for _, r := range AMD64.CalleeSaved {
		a.SetLocation(r, 0x7ffe_9000+uintptr(r)*8)
		b.SetLocation(r, 0x7ffe_9000+uintptr(r)*8)
	}
	if mism := a.Verify(b); len(mism) != 0 {
		t.Errorf("identical maps should verify clean, got mismatches %v", mism)
	}
}

func TestVerifyFlagsExactlyTheDifferingOrdinal(t *testing.T) {
	a := NewRegisterMap(testThread(), true, true, false)
	b := NewRegisterMap(testThread(), true, true, false)
	for _, r := range AMD64.CalleeSaved {
		a.SetLocation(r, 0x7ffe_9000+uintptr(r)*8)
		b.SetLocation(r, 0x7ffe_9000+uintptr(r)*8)
	}
	b.SetLocation(AMD64R13, 0x7ffe_f000)

	mism := a.Verify(b)
	if len(mism) != 1 || mism[0] != AMD64R13 {
		t.Errorf("Verify = %v, want exactly [r13 (%d)]", mism, int(AMD64R13))
	}
}

// ---------------------------------------------------------------------------
// Invariant checking
// ---------------------------------------------------------------------------

func TestSetLocationWithoutUpdateMapPanics(t *testing.T) {
	m := NewRegisterMap(testThread(), false, true, false)
	mustPanic(t, "does not need updating", func() {
		m.SetLocation(AMD64RBX, 0x7ffe_8000)
	})
}

func TestOutOfRangeOrdinalPanics(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, false)
	bad := RegID(AMD64.RegCount())
	mustPanic(t, "out of range", func() { m.Location(bad, 0) })
	mustPanic(t, "out of range", func() { m.SetLocation(bad, 0x7ffe_8000) })
	mustPanic(t, "out of range", func() { m.TrustedLocation(RegID(-1)) })
}

func TestDoubleWriteWithinOneFramePanics(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, false)

	const fp = uintptr(0x7ffe_8000)
	m.BeginFrameUpdate(fp)
	m.SetLocation(AMD64RBX, fp+8)
	mustPanic(t, "written twice", func() {
		m.SetLocation(AMD64RBX, fp+16)
	})
}

func TestFrameBoundaryResetsDoubleWriteDetection(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, false)

	m.BeginFrameUpdate(0x7ffe_8000)
	m.SetLocation(AMD64RBX, 0x7ffe_8008)

	// A new frame may legitimately relocate the same register.
	m.BeginFrameUpdate(0x7ffe_9000)
	m.SetLocation(AMD64RBX, 0x7ffe_9008)

	if got := m.Location(AMD64RBX, 0); got != 0x7ffe_9008 {
		t.Errorf("Location = %#x, want latest save %#x", got, uintptr(0x7ffe_9008))
	}
}

func TestProcessingSameFrameTwicePanics(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, false)
	m.BeginFrameUpdate(0x7ffe_8000)
	mustPanic(t, "updated twice", func() {
		m.BeginFrameUpdate(0x7ffe_8000)
	})
}

func TestClearResetsDoubleWriteDetection(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, false)
	m.BeginFrameUpdate(0x7ffe_8000)
	m.SetLocation(AMD64RBX, 0x7ffe_8008)
	m.Clear()
	m.BeginFrameUpdate(0x7ffe_8000)
	m.SetLocation(AMD64RBX, 0x7ffe_8010) // must not be flagged
}

// ---------------------------------------------------------------------------
// Chunk binding
// ---------------------------------------------------------------------------

func testChunk(id int64, base uintptr) *StackChunk {
	c := NewStackChunk(id, &Continuation{ID: 7}, 64, base)
	c.SP = 8 // non-empty
	return c
}

func TestChunkIndexAdvancesPerIdentity(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, true)

	last := m.ChunkIndex()
	for i := int64(0); i < 4; i++ {
		m.SetChunk(testChunk(i, 0x1000_0000+uintptr(i)*0x1000))
		if m.ChunkIndex() <= last {
			t.Fatalf("chunk index %d did not advance past %d", m.ChunkIndex(), last)
		}
		last = m.ChunkIndex()
	}

	// Rebinding the same identity is not a transition.
	c := m.Chunk()
	m.SetChunk(c)
	if m.ChunkIndex() != last {
		t.Errorf("rebinding same chunk moved index to %d, want %d", m.ChunkIndex(), last)
	}
}

func TestInContinuation(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, true)
	if m.InContinuation() {
		t.Error("fresh map should not be in a continuation")
	}

	m.SetChunk(testChunk(1, 0x1000_0000))
	if !m.InContinuation() {
		t.Error("map with a bound non-empty chunk should be in a continuation")
	}

	empty := NewStackChunk(2, &Continuation{ID: 7}, 16, 0x2000_0000)
	m.SetChunk(empty)
	if m.InContinuation() {
		t.Error("an empty chunk holds no frames to walk")
	}

	m.SetChunk(nil)
	if m.InContinuation() {
		t.Error("unbinding must leave the continuation")
	}
}

func TestSetChunkRequiresWalkContinuations(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, false)
	mustPanic(t, "does not walk continuations", func() {
		m.SetChunk(testChunk(1, 0x1000_0000))
	})
}

// ---------------------------------------------------------------------------
// Construction and configuration
// ---------------------------------------------------------------------------

func TestContinuationConstructorDerivesThread(t *testing.T) {
	th := testThread()
	cont := &Continuation{ID: 9, Owner: th}
	m := NewContinuationRegisterMap(cont, true)

	if m.Thread() != th {
		t.Error("continuation map should borrow the carrier thread")
	}
	if m.ProcessFrames() {
		t.Error("heap-resident frames never take the watermark barrier")
	}
	if !m.WalkContinuations() {
		t.Error("continuation walks must descend into chunks")
	}

	unmounted := &Continuation{ID: 10}
	if got := NewContinuationRegisterMap(unmounted, true).Thread(); got != nil {
		t.Errorf("unmounted continuation has no carrier, got thread %v", got)
	}
}

func TestConfigurationAccessors(t *testing.T) {
	m := NewRegisterMap(testThread(), false, true, false)
	if m.UpdateMap() || !m.ProcessFrames() || m.WalkContinuations() {
		t.Errorf("accessors = (%t,%t,%t), want (false,true,false)",
			m.UpdateMap(), m.ProcessFrames(), m.WalkContinuations())
	}
	if !m.IncludeArgumentOops() {
		t.Error("argument oops are included by default")
	}
	m.SetIncludeArgumentOops(false)
	if m.IncludeArgumentOops() {
		t.Error("SetIncludeArgumentOops(false) did not stick")
	}
}

func TestFindRegisterSpilledAt(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, false)
	m.SetLocation(AMD64R15, 0x7ffe_8038)

	if r, ok := m.FindRegisterSpilledAt(0x7ffe_8038); !ok || r != AMD64R15 {
		t.Errorf("FindRegisterSpilledAt = (%v,%t), want (r15,true)", r, ok)
	}
	if _, ok := m.FindRegisterSpilledAt(0x7ffe_9999); ok {
		t.Error("no register was spilled at that address")
	}
}

func TestDumpReflectsState(t *testing.T) {
	m := NewRegisterMap(testThread(), true, true, false)
	m.SetLocation(AMD64RBX, 0x7ffe_8008)

	dump := m.DumpString()
	if !strings.Contains(dump, "rbx") || !strings.Contains(dump, "valid") {
		t.Errorf("dump missing tracked register:\n%s", dump)
	}
	if !strings.Contains(dump, "arch=amd64") {
		t.Errorf("dump missing header:\n%s", dump)
	}
}
