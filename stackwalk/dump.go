package stackwalk

import (
	"fmt"
	"io"
	"strings"
)

// Print writes a textual dump of the map to w: one line per register with
// its raw recorded location and validity, plus the walk-wide flags and the
// current chunk binding. Diagnostics only.
func (m *RegisterMap) Print(w io.Writer) {
	fmt.Fprintf(w, "RegisterMap arch=%s update=%t process=%t walkcont=%t argoops=%t\n",
		m.arch.Name, m.updateMap, m.processFrames, m.walkCont, m.includeArgumentOops)
	if m.chunk != nil {
		fmt.Fprintf(w, "  chunk id=%d index=%d base=%#x\n", m.chunk.ID, m.chunkIndex, m.chunk.Base())
	}
	for i := range m.locations {
		r := RegID(i)
		state := "stale"
		if m.Valid(r) {
			state = "valid"
		}
		fmt.Fprintf(w, "  %-6s %#016x %s\n", m.arch.RegName(r), m.locations[i], state)
	}
}

// DumpString returns Print's output as a string.
func (m *RegisterMap) DumpString() string {
	var b strings.Builder
	m.Print(&b)
	return b.String()
}
