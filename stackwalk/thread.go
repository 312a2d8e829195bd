package stackwalk

// ---------------------------------------------------------------------------
// Threads and continuations
// ---------------------------------------------------------------------------
//
// The register map borrows references to the thread whose stack is being
// walked and, while a walk is inside heap-resident storage, to the current
// stack chunk. It never owns either: a map must not outlive the walk that
// created it, and the walk must not outlive the thread or continuation.

// Thread identifies a mutator thread whose stack can be walked. Stack bounds
// are machine addresses of the native execution stack; Mounted is the
// continuation currently running on this thread, if any.
type Thread struct {
	ID         int64
	Name       string
	StackBase  uintptr // highest address of the native stack
	StackLimit uintptr // lowest usable address of the native stack
	Mounted    *Continuation
}

// OnStack reports whether addr falls inside the thread's native stack.
func (t *Thread) OnStack(addr uintptr) bool {
	return addr >= t.StackLimit && addr < t.StackBase
}

// Continuation is a lightweight user-mode thread whose frames may live in
// heap-resident stack chunks while it is unmounted.
type Continuation struct {
	ID     int64
	Owner  *Thread     // carrier thread, nil while unmounted
	Tail   *StackChunk // innermost chunk, nil when everything is thawed
	Parent *Continuation
}

// IsMounted reports whether the continuation is currently running on a
// carrier thread.
func (c *Continuation) IsMounted() bool { return c.Owner != nil }

// InnermostChunk returns the chunk holding the continuation's youngest
// frozen frames, skipping any empty chunks left behind by partial thaws.
func (c *Continuation) InnermostChunk() *StackChunk {
	for ch := c.Tail; ch != nil; ch = ch.Parent {
		if !ch.IsEmpty() {
			return ch
		}
	}
	return nil
}
