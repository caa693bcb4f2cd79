package canfilter

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Standard filter element fields, RM0444 36.3.11.
const (
	sftRange = 0x0 // SFID1..SFID2 inclusive
	sftDual  = 0x1 // SFID1 and SFID2

	sfecRxFifo0 = 0x1
)

// Extended filter element fields, RM0444 36.3.12.
const (
	eftRange = 0x0
	eftDual  = 0x1

	efecRxFifo0 = 0x1
)

// Fdcan compiles acceptance filters for FDCAN (Bosch M_CAN)
// controllers on STM32 G0/H7. The hardware has native range and
// dual-ID filter elements, so no range emulation is needed: ranges are
// emitted directly, single IDs are buffered into dual-ID pairs.
type Fdcan struct {
	hw     Hardware
	maxStd int
	maxExt int
	trace  func(string)

	stdFilter []uint32
	extFilter [][2]uint32
	stdNbr    int
	extNbr    int

	stdID      [2]uint32
	stdIDCount int

	extID      [2]uint32
	extIDCount int
}

// NewFdcanG0 returns a builder for FDCAN on G0 (28 standard, 8 extended
// filter elements).
func NewFdcanG0() *Fdcan {
	return newFdcan(HardwareFdcanG0, 28, 8)
}

// NewFdcanH7 returns a builder for FDCAN on H7 (128 standard, 64
// extended filter elements).
func NewFdcanH7() *Fdcan {
	return newFdcan(HardwareFdcanH7, 128, 64)
}

func newFdcan(hw Hardware, maxStd, maxExt int) *Fdcan {
	f := &Fdcan{hw: hw, maxStd: maxStd, maxExt: maxExt}
	f.Begin()
	return f
}

func (f *Fdcan) Begin() {
	f.stdFilter = make([]uint32, f.maxStd)
	f.extFilter = make([][2]uint32, f.maxExt)
	f.stdNbr = 0
	f.extNbr = 0
	f.stdIDCount = 0
	f.extIDCount = 0
}

func (f *Fdcan) Hardware() Hardware {
	return f.hw
}

func (f *Fdcan) SetTrace(fn func(string)) {
	f.trace = fn
}

func (f *Fdcan) tracef(format string, args ...any) {
	if f.trace != nil {
		f.trace(fmt.Sprintf(format, args...))
	}
}

// AddStdID accepts a single standard ID. IDs are paired into dual-ID
// elements; a lone ID is flushed by End with both slots equal.
func (f *Fdcan) AddStdID(id uint32) error {
	if id > MaxStdID {
		return fmt.Errorf("%w: std id 0x%X", ErrParam, id)
	}
	if f.stdNbr >= f.maxStd {
		return fmt.Errorf("%w: all %d standard filters in use", ErrFull, f.maxStd)
	}

	f.stdID[f.stdIDCount] = id
	f.stdIDCount++
	if f.stdIDCount == 1 {
		f.stdID[1] = id
		return nil
	}
	f.stdIDCount = 0
	f.tracef("fdcan std dual 0x%03X 0x%03X", f.stdID[0], f.stdID[1])
	return f.emitStdDual(f.stdID[0], f.stdID[1])
}

// AddExtID accepts a single extended ID.
func (f *Fdcan) AddExtID(id uint32) error {
	if id > MaxExtID {
		return fmt.Errorf("%w: ext id 0x%X", ErrParam, id)
	}
	if f.extNbr >= f.maxExt {
		return fmt.Errorf("%w: all %d extended filters in use", ErrFull, f.maxExt)
	}

	f.extID[f.extIDCount] = id
	f.extIDCount++
	if f.extIDCount == 1 {
		f.extID[1] = id
		return nil
	}
	f.extIDCount = 0
	f.tracef("fdcan ext dual 0x%08X 0x%08X", f.extID[0], f.extID[1])
	return f.emitExtDual(f.extID[0], f.extID[1])
}

// AddStdRange emits a native range element; it does not touch the
// dual-ID accumulator.
func (f *Fdcan) AddStdRange(begin, end uint32) error {
	if begin > MaxStdID || end > MaxStdID {
		return fmt.Errorf("%w: std range 0x%03X-0x%03X", ErrParam, begin, end)
	}
	if begin > end {
		begin, end = end, begin
	}
	f.tracef("fdcan std range 0x%03X-0x%03X", begin, end)
	return f.emitStdRange(begin, end)
}

// AddExtRange emits a native extended range element.
func (f *Fdcan) AddExtRange(begin, end uint32) error {
	if begin > MaxExtID || end > MaxExtID {
		return fmt.Errorf("%w: ext range 0x%08X-0x%08X", ErrParam, begin, end)
	}
	if begin > end {
		begin, end = end, begin
	}
	f.tracef("fdcan ext range 0x%08X-0x%08X", begin, end)
	return f.emitExtRange(begin, end)
}

// End flushes lone pending IDs as dual elements with both slots equal.
func (f *Fdcan) End() error {
	var err error

	if f.stdIDCount != 0 {
		f.stdIDCount = 0
		err = f.emitStdDual(f.stdID[0], f.stdID[1])
	}

	if f.extIDCount != 0 {
		f.extIDCount = 0
		if e := f.emitExtDual(f.extID[0], f.extID[1]); err == nil {
			err = e
		}
	}

	return err
}

func (f *Fdcan) emitStdDual(id1, id2 uint32) error {
	return f.emitStd(sftDual, id1, id2)
}

func (f *Fdcan) emitStdRange(id1, id2 uint32) error {
	return f.emitStd(sftRange, id1, id2)
}

// emitStd writes one 32-bit standard filter element:
// SFT[31:30] SFEC[29:27] SFID1[26:16] SFID2[15:0].
func (f *Fdcan) emitStd(sft, id1, id2 uint32) error {
	if f.stdNbr >= f.maxStd {
		return fmt.Errorf("%w: all %d standard filters in use", ErrFull, f.maxStd)
	}
	if id1 > MaxStdID || id2 > MaxStdID {
		return fmt.Errorf("%w: std id", ErrParam)
	}

	f.stdFilter[f.stdNbr] = sft<<30 | sfecRxFifo0<<27 | id1<<16 | id2
	f.stdNbr++
	return nil
}

func (f *Fdcan) emitExtDual(id1, id2 uint32) error {
	return f.emitExt(eftDual, id1, id2)
}

func (f *Fdcan) emitExtRange(id1, id2 uint32) error {
	return f.emitExt(eftRange, id1, id2)
}

// emitExt writes one two-word extended filter element:
// word 0 EFEC[31:29] EFID1[28:0], word 1 EFT[31:30] EFID2[28:0].
func (f *Fdcan) emitExt(eft, id1, id2 uint32) error {
	if f.extNbr >= f.maxExt {
		return fmt.Errorf("%w: all %d extended filters in use", ErrFull, f.maxExt)
	}
	if id1 > MaxExtID || id2 > MaxExtID {
		return fmt.Errorf("%w: ext id", ErrParam)
	}

	f.extFilter[f.extNbr][0] = efecRxFifo0<<29 | id1
	f.extFilter[f.extNbr][1] = eft<<30 | id2
	f.extNbr++
	return nil
}

// Bytes returns the packed image: dev, standard count, extended count,
// 1 reserved byte, then all standard elements and all extended element
// pairs, little-endian. Elements beyond the used counts are zero.
func (f *Fdcan) Bytes() []byte {
	buf := make([]byte, 4+4*f.maxStd+8*f.maxExt)
	buf[0] = byte(f.hw)
	buf[1] = byte(f.stdNbr)
	buf[2] = byte(f.extNbr)

	le := binary.LittleEndian
	off := 4
	for _, sf := range f.stdFilter {
		le.PutUint32(buf[off:], sf)
		off += 4
	}
	for _, ef := range f.extFilter {
		le.PutUint32(buf[off:], ef[0])
		le.PutUint32(buf[off+4:], ef[1])
		off += 8
	}
	return buf
}

// DumpRegisters returns the raw filter elements.
func (f *Fdcan) DumpRegisters() string {
	var out strings.Builder
	out.WriteString("fdcan registers:\n")
	fmt.Fprintf(&out, "standard filters: %d\n", f.stdNbr)
	for i := 0; i < f.stdNbr; i++ {
		fmt.Fprintf(&out, "sf[%d]: 0x%08X\n", i, f.stdFilter[i])
	}
	fmt.Fprintf(&out, "extended filters: %d\n", f.extNbr)
	for i := 0; i < f.extNbr; i++ {
		fmt.Fprintf(&out, "ef[%d]: f0=0x%08X f1=0x%08X\n", i, f.extFilter[i][0], f.extFilter[i][1])
	}
	return out.String()
}

var (
	filterTypeNames = [4]string{"range", "dual", "mask", "off"}
	filterConfNames = [8]string{"off", "fifo0", "fifo1", "reject", "prio", "prio fifo0", "prio fifo1", "not used"}
)

// DumpFilters returns the filter elements decoded field by field.
func (f *Fdcan) DumpFilters() string {
	var out strings.Builder
	out.WriteString("fdcan filters:\n")

	for i := 0; i < f.stdNbr; i++ {
		sf := f.stdFilter[i]
		sft := sf >> 30 & 0x3
		sfec := sf >> 27 & 0x7
		id1 := sf >> 16 & MaxStdID
		id2 := sf & MaxStdID
		fmt.Fprintf(&out, "sf[%d]: %s %s %s %s\n",
			i, filterTypeNames[sft], stdHex(id1), stdHex(id2), filterConfNames[sfec])
	}
	for i := 0; i < f.extNbr; i++ {
		efec := f.extFilter[i][0] >> 29 & 0x7
		eft := f.extFilter[i][1] >> 30 & 0x3
		id1 := f.extFilter[i][0] & MaxExtID
		id2 := f.extFilter[i][1] & MaxExtID
		fmt.Fprintf(&out, "ef[%d]: %s %s %s %s\n",
			i, filterTypeNames[eft], extHex(id1), extHex(id2), filterConfNames[efec])
	}
	return out.String()
}

// Usage returns standard and extended element consumption, rounded to
// whole percent.
func (f *Fdcan) Usage() string {
	stdPercent := (f.stdNbr*100 + f.maxStd/2) / f.maxStd
	extPercent := (f.extNbr*100 + f.maxExt/2) / f.maxExt
	return fmt.Sprintf("Filter usage: %d/%d standard (%d%%), %d/%d extended (%d%%)",
		f.stdNbr, f.maxStd, stdPercent, f.extNbr, f.maxExt, extPercent)
}
