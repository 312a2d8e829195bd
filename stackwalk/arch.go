package stackwalk

import "fmt"

// ---------------------------------------------------------------------------
// Architecture descriptors
// ---------------------------------------------------------------------------
//
// A register map is indexed by dense register ordinals. The ordinal space,
// the callee-saved subset, and the static fallback save slots are all
// properties of the target architecture and its calling convention, so they
// live here as pluggable descriptors rather than being baked into the map.

// RegID is a dense architectural register ordinal, 0..Arch.RegCount-1.
type RegID int

// Arch describes the register file of one target architecture as seen by
// the stack walker. Exactly one Arch is bound to every RegisterMap.
type Arch struct {
	Name     string
	WordSize int // bytes per machine word
	SlotSize int // bytes per architectural register slot

	// Names holds one display name per ordinal; len(Names) == RegCount.
	Names []string

	// CalleeSaved marks the ordinals a callee must preserve across calls.
	CalleeSaved []RegID

	// PDLocation is the static fallback used by RegisterMap.Location when a
	// register is not dynamically tracked: given the current frame pointer it
	// returns the register's conventional save slot, or 0 when the
	// architecture defines no static slot for that register.
	PDLocation func(reg RegID, fp uintptr) uintptr

	// PDSlotLocation resolves slot indexes above zero for registers whose
	// architectural identifier spans multiple slots (wide vector registers).
	// baseLoc is the already-resolved location of the base register.
	PDSlotLocation func(base RegID, slot int, baseLoc uintptr) uintptr
}

// RegCount returns the number of tracked register ordinals.
func (a *Arch) RegCount() int { return len(a.Names) }

// RegName returns the display name for an ordinal, or a numeric placeholder
// for ordinals outside the descriptor (only reachable from dumps of
// corrupted maps).
func (a *Arch) RegName(reg RegID) string {
	if reg < 0 || int(reg) >= len(a.Names) {
		return fmt.Sprintf("r?%d", int(reg))
	}
	return a.Names[reg]
}

// IsCalleeSaved reports whether reg is in the architecture's callee-saved set.
func (a *Arch) IsCalleeSaved(reg RegID) bool {
	for _, r := range a.CalleeSaved {
		if r == reg {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Concrete architectures
// ---------------------------------------------------------------------------

// AMD64 register ordinals. General-purpose registers first, then the low
// sixteen vector registers, each occupying one base ordinal (wide slots are
// reached through SlotLocation).
const (
	AMD64RAX RegID = iota
	AMD64RCX
	AMD64RDX
	AMD64RBX
	AMD64RSP
	AMD64RBP
	AMD64RSI
	AMD64RDI
	AMD64R8
	AMD64R9
	AMD64R10
	AMD64R11
	AMD64R12
	AMD64R13
	AMD64R14
	AMD64R15
	AMD64XMM0
	AMD64XMM1
	AMD64XMM2
	AMD64XMM3
	AMD64XMM4
	AMD64XMM5
	AMD64XMM6
	AMD64XMM7
	AMD64XMM8
	AMD64XMM9
	AMD64XMM10
	AMD64XMM11
	AMD64XMM12
	AMD64XMM13
	AMD64XMM14
	AMD64XMM15
)

// AMD64 is the x86-64 descriptor. The architecture has no statically known
// save slots: every callee-saved register must be dynamically tracked, so
// the fallback always reports "no location".
var AMD64 = &Arch{
	Name:     "amd64",
	WordSize: 8,
	SlotSize: 8,
	Names: []string{
		"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
		"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
		"xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15",
	},
	CalleeSaved: []RegID{
		AMD64RBX, AMD64RSP, AMD64RBP, AMD64R12, AMD64R13, AMD64R14, AMD64R15,
	},
	PDLocation: func(reg RegID, fp uintptr) uintptr {
		return 0
	},
	PDSlotLocation: slotOffsetLocation(8),
}

// ARM64 register ordinals.
const (
	ARM64X0 RegID = iota
	ARM64X1
	ARM64X2
	ARM64X3
	ARM64X4
	ARM64X5
	ARM64X6
	ARM64X7
	ARM64X8
	ARM64X9
	ARM64X10
	ARM64X11
	ARM64X12
	ARM64X13
	ARM64X14
	ARM64X15
	ARM64X16
	ARM64X17
	ARM64X18
	ARM64X19
	ARM64X20
	ARM64X21
	ARM64X22
	ARM64X23
	ARM64X24
	ARM64X25
	ARM64X26
	ARM64X27
	ARM64X28
	ARM64FP // x29
	ARM64LR // x30
	ARM64SP
)

// ARM64 is the aarch64 descriptor. The AAPCS64 frame record gives FP and LR
// conventional slots at the frame pointer, so those two ordinals have a
// static fallback even when not dynamically tracked.
var ARM64 = &Arch{
	Name:     "arm64",
	WordSize: 8,
	SlotSize: 8,
	Names: []string{
		"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7",
		"x8", "x9", "x10", "x11", "x12", "x13", "x14", "x15",
		"x16", "x17", "x18", "x19", "x20", "x21", "x22", "x23",
		"x24", "x25", "x26", "x27", "x28", "fp", "lr", "sp",
	},
	CalleeSaved: []RegID{
		ARM64X19, ARM64X20, ARM64X21, ARM64X22, ARM64X23, ARM64X24,
		ARM64X25, ARM64X26, ARM64X27, ARM64X28, ARM64FP, ARM64LR, ARM64SP,
	},
	PDLocation: func(reg RegID, fp uintptr) uintptr {
		if fp == 0 {
			return 0
		}
		switch reg {
		case ARM64FP:
			return fp // saved caller fp sits at the frame record base
		case ARM64LR:
			return fp + 8 // return address slot of the frame record
		}
		return 0
	},
	PDSlotLocation: slotOffsetLocation(8),
}

// slotOffsetLocation builds the common indexed-slot rule: slot i of a wide
// register lives slotSize*i bytes past the base register's location.
func slotOffsetLocation(slotSize int) func(RegID, int, uintptr) uintptr {
	return func(base RegID, slot int, baseLoc uintptr) uintptr {
		if baseLoc == 0 {
			return 0
		}
		return baseLoc + uintptr(slot*slotSize)
	}
}

var archByName = map[string]*Arch{
	AMD64.Name: AMD64,
	ARM64.Name: ARM64,
}

// ArchByName looks up a registered architecture descriptor.
func ArchByName(name string) (*Arch, bool) {
	a, ok := archByName[name]
	return a, ok
}
