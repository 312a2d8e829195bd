// Package snapshot captures the state of a register map mid-walk into a
// serializable record, for offline inspection and walk recording.
package snapshot

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/loom/stackwalk"
)

// Entry is one (register, location, validity) tuple of a captured map.
type Entry struct {
	Reg   int     `cbor:"reg"`
	Name  string  `cbor:"name"`
	Loc   uintptr `cbor:"loc"`
	Valid bool    `cbor:"valid"`
}

// Snapshot is a point-in-time copy of a register map's observable state.
// Locations captured while the walk was inside a chunk are chunk-relative,
// exactly as the map recorded them.
type Snapshot struct {
	WalkID         string    `cbor:"walk_id"`
	Arch           string    `cbor:"arch"`
	CapturedAt     time.Time `cbor:"captured_at"`
	ChunkIndex     int       `cbor:"chunk_index"`
	InContinuation bool      `cbor:"in_continuation"`
	ArgumentOops   bool      `cbor:"argument_oops"`
	Entries        []Entry   `cbor:"entries"`
}

// Capture copies the map's current state into a fresh snapshot with a new
// walk ID. The map is not disturbed.
func Capture(m *stackwalk.RegisterMap) *Snapshot {
	arch := m.Arch()
	s := &Snapshot{
		WalkID:         uuid.NewString(),
		Arch:           arch.Name,
		CapturedAt:     time.Now().UTC(),
		ChunkIndex:     m.ChunkIndex(),
		InContinuation: m.InContinuation(),
		ArgumentOops:   m.IncludeArgumentOops(),
		Entries:        make([]Entry, arch.RegCount()),
	}
	for i := 0; i < arch.RegCount(); i++ {
		r := stackwalk.RegID(i)
		s.Entries[i] = Entry{
			Reg:   i,
			Name:  arch.RegName(r),
			Loc:   m.TrustedLocation(r),
			Valid: m.Valid(r),
		}
	}
	return s
}

// ValidEntries returns only the entries whose validity bit was set.
func (s *Snapshot) ValidEntries() []Entry {
	var out []Entry
	for _, e := range s.Entries {
		if e.Valid {
			out = append(out, e)
		}
	}
	return out
}

// LookupReg returns the entry for a register ordinal.
func (s *Snapshot) LookupReg(reg int) (Entry, bool) {
	if reg < 0 || reg >= len(s.Entries) {
		return Entry{}, false
	}
	return s.Entries[reg], true
}

// WriteFile marshals the snapshot and writes it to path.
func (s *Snapshot) WriteFile(path string) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	return nil
}

// ReadFile reads and unmarshals a snapshot from path.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	return Unmarshal(data)
}
