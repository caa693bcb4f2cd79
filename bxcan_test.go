package canfilter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}

func buildBxcan(t *testing.T, b *Bxcan, input string) {
	t.Helper()
	b.Begin()
	if err := Parse(b, input); err != nil {
		t.Fatalf("Parse(%q) = %v", input, err)
	}
	if err := b.End(); err != nil {
		t.Fatalf("End() = %v", err)
	}
}

func TestBxcanSingleStdID(t *testing.T) {
	b := NewBxcanF0()
	buildBxcan(t, b, "0x123")

	if b.fa1r != 1 || b.fs1r != 0 || b.fm1r != 1 || b.ffa1r != 0 {
		t.Errorf("mode bits = fa1r %#x fs1r %#x fm1r %#x ffa1r %#x, want 1 0 1 0",
			b.fa1r, b.fs1r, b.fm1r, b.ffa1r)
	}
	want := uint32(0x123<<21 | 0x123<<5)
	if b.fr1[0] != want || b.fr2[0] != want {
		t.Errorf("fr1 = %#x, fr2 = %#x, want both %#x", b.fr1[0], b.fr2[0], want)
	}
}

func TestBxcanStdRangeSingleMask(t *testing.T) {
	b := NewBxcanF0()
	buildBxcan(t, b, "0x100-0x10F")

	if b.fa1r != 1 || b.fs1r != 0 || b.fm1r != 0 {
		t.Errorf("mode bits = fa1r %#x fs1r %#x fm1r %#x, want mask mode in bank 0",
			b.fa1r, b.fs1r, b.fm1r)
	}
	want := uint32(0x7F0<<21 | 0x100<<5)
	if b.fr1[0] != want || b.fr2[0] != want {
		t.Errorf("fr1 = %#x, fr2 = %#x, want both %#x", b.fr1[0], b.fr2[0], want)
	}
}

func TestBxcanFourStdIDsOneBank(t *testing.T) {
	b := NewBxcanF0()
	buildBxcan(t, b, "0x100 0x200 0x300 0x400")

	if b.fa1r != 1 {
		t.Fatalf("fa1r = %#x, want exactly bank 0", b.fa1r)
	}
	if want := uint32(0x200<<21 | 0x100<<5); b.fr1[0] != want {
		t.Errorf("fr1 = %#x, want %#x", b.fr1[0], want)
	}
	if want := uint32(0x400<<21 | 0x300<<5); b.fr2[0] != want {
		t.Errorf("fr2 = %#x, want %#x", b.fr2[0], want)
	}
}

func TestBxcanCapacityOverflow(t *testing.T) {
	b := NewBxcanF0()
	b.Begin()

	// 56 distinct IDs fill all 14 banks in 16-bit list mode.
	for i := 0; i < 56; i++ {
		if err := b.AddStdID(uint32(i)); err != nil {
			t.Fatalf("AddStdID(%d) = %v", i, err)
		}
	}
	if err := b.AddStdID(56); !errors.Is(err, ErrFull) {
		t.Fatalf("57th AddStdID = %v, want ErrFull", err)
	}

	if b.fa1r != 0x3FFF {
		t.Errorf("fa1r = %#x, want all 14 banks", b.fa1r)
	}
	if b.fs1r != 0 || b.fm1r != 0x3FFF {
		t.Errorf("fs1r = %#x fm1r = %#x, want all banks 16-bit list", b.fs1r, b.fm1r)
	}
	if err := b.End(); err != nil {
		t.Errorf("End() after FULL = %v, want nil (no pending items)", err)
	}
}

func TestBxcanRangeNormalization(t *testing.T) {
	a := NewBxcanF0()
	a.Begin()
	if err := a.AddStdRange(0x100, 0x1F3); err != nil {
		t.Fatal(err)
	}
	a.End()

	b := NewBxcanF0()
	b.Begin()
	if err := b.AddStdRange(0x1F3, 0x100); err != nil {
		t.Fatal(err)
	}
	b.End()

	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("swapped range bounds produced a different image")
	}
}

func TestBxcanBeginResets(t *testing.T) {
	b := NewBxcanF0()
	buildBxcan(t, b, "0x100-0x1FF 0x7E0")
	first := b.Bytes()

	buildBxcan(t, b, "0x100-0x1FF 0x7E0")
	if !bytes.Equal(first, b.Bytes()) {
		t.Error("identical begin/end sequences produced different images")
	}
}

func TestBxcanParamRejected(t *testing.T) {
	b := NewBxcanF0()
	b.Begin()

	if err := b.AddStdRange(0, 0x800); !errors.Is(err, ErrParam) {
		t.Errorf("AddStdRange(0, 0x800) = %v, want ErrParam", err)
	}
	if err := b.AddExtRange(0, 0x20000000); !errors.Is(err, ErrParam) {
		t.Errorf("AddExtRange(0, 0x20000000) = %v, want ErrParam", err)
	}
	if b.fa1r != 0 {
		t.Errorf("rejected adds touched the image: fa1r = %#x", b.fa1r)
	}
}

func TestBxcanDeviceTag(t *testing.T) {
	f0 := NewBxcanF0()
	f0.Begin()
	if got := f0.Bytes()[0]; got != byte(HardwareBxcanF0) {
		t.Errorf("F0 image tag = %d, want %d", got, HardwareBxcanF0)
	}

	f4 := NewBxcanF4()
	f4.Begin()
	if got := f4.Bytes()[0]; got != byte(HardwareBxcanF4) {
		t.Errorf("F4 image tag = %d, want %d", got, HardwareBxcanF4)
	}
	if want := 20 + 8*28; len(f4.Bytes()) != want {
		t.Errorf("F4 image size = %d, want %d", len(f4.Bytes()), want)
	}
}

func TestBxcanImageLayout(t *testing.T) {
	b := NewBxcanF0()
	buildBxcan(t, b, "0x123")

	img := b.Bytes()
	if len(img) != 20+8*14 {
		t.Fatalf("image size = %d, want %d", len(img), 20+8*14)
	}

	le := binary.LittleEndian
	if got := le.Uint32(img[16:]); got != b.fa1r {
		t.Errorf("fa1r at offset 16 = %#x, want %#x", got, b.fa1r)
	}
	if got := le.Uint32(img[20:]); got != b.fr1[0] {
		t.Errorf("fr1[0] at offset 20 = %#x, want %#x", got, b.fr1[0])
	}
	if got := le.Uint32(img[20+4*14:]); got != b.fr2[0] {
		t.Errorf("fr2[0] = %#x, want %#x", got, b.fr2[0])
	}
}

// bxcanAcceptsStd replays the controller's match logic for a standard
// frame against the configured banks.
func bxcanAcceptsStd(b *Bxcan, id uint32) bool {
	for i := 0; i < b.maxBanks; i++ {
		if b.fa1r&(1<<i) == 0 {
			continue
		}
		if b.fs1r&(1<<i) != 0 {
			continue // 32-bit banks carry IDE=1 and match extended frames
		}
		if b.fm1r&(1<<i) != 0 {
			ids := [4]uint32{
				b.fr1[i] >> 5 & MaxStdID,
				b.fr1[i] >> 21 & MaxStdID,
				b.fr2[i] >> 5 & MaxStdID,
				b.fr2[i] >> 21 & MaxStdID,
			}
			for _, fid := range ids {
				if fid == id {
					return true
				}
			}
		} else {
			pairs := [2][2]uint32{
				{b.fr1[i] >> 5 & MaxStdID, b.fr1[i] >> 21 & MaxStdID},
				{b.fr2[i] >> 5 & MaxStdID, b.fr2[i] >> 21 & MaxStdID},
			}
			for _, p := range pairs {
				if id&p[1] == p[0]&p[1] {
					return true
				}
			}
		}
	}
	return false
}

func TestBxcanStdRangeAcceptanceExact(t *testing.T) {
	ranges := [][2]uint32{
		{0, MaxStdID},
		{0x100, 0x10F},
		{5, 9},
		{1, 2046},
		{0x7FF, 0x7FF},
		{3, 3},
		{0x0FF, 0x101},
		{0x2AA, 0x6D3},
	}

	for _, r := range ranges {
		t.Run(fmt.Sprintf("0x%03X-0x%03X", r[0], r[1]), func(t *testing.T) {
			b := NewBxcanF4()
			b.Begin()
			if err := b.AddStdRange(r[0], r[1]); err != nil {
				t.Fatal(err)
			}
			if err := b.End(); err != nil {
				t.Fatal(err)
			}

			for id := uint32(0); id <= MaxStdID; id++ {
				want := id >= r[0] && id <= r[1]
				if got := bxcanAcceptsStd(b, id); got != want {
					t.Fatalf("id 0x%03X accepted = %v, want %v", id, got, want)
				}
			}
		})
	}
}

// extIntervals decodes the 32-bit banks into accepted ID intervals.
func extIntervals(b *Bxcan) [][2]uint32 {
	var out [][2]uint32
	for i := 0; i < b.maxBanks; i++ {
		if b.fa1r&(1<<i) == 0 || b.fs1r&(1<<i) == 0 {
			continue
		}
		if b.fm1r&(1<<i) != 0 {
			id1 := b.fr1[i] >> 3 & MaxExtID
			id2 := b.fr2[i] >> 3 & MaxExtID
			out = append(out, [2]uint32{id1, id1})
			if id2 != id1 {
				out = append(out, [2]uint32{id2, id2})
			}
		} else {
			base := b.fr1[i] >> 3 & MaxExtID
			mask := b.fr2[i] >> 3 & MaxExtID
			begin := base & mask
			end := (begin | ^mask) & MaxExtID
			out = append(out, [2]uint32{begin, end})
		}
	}
	return out
}

func TestBxcanExtRangeExactCoverage(t *testing.T) {
	ranges := [][2]uint32{
		{0, MaxExtID},
		{0x10000000, 0x1FFFFFFF},
		{0x123456, 0x1234567},
		{0x1FFFFFFE, 0x1FFFFFFF},
		{0x42, 0x42},
		{0x0800, 0x0FFF},
	}

	for _, r := range ranges {
		t.Run(fmt.Sprintf("0x%08X-0x%08X", r[0], r[1]), func(t *testing.T) {
			b := NewBxcanF4()
			b.Begin()
			if err := b.AddExtRange(r[0], r[1]); err != nil {
				t.Fatal(err)
			}
			if err := b.End(); err != nil {
				t.Fatal(err)
			}

			var covered uint64
			for _, iv := range extIntervals(b) {
				if iv[0] < r[0] || iv[1] > r[1] {
					t.Fatalf("interval 0x%X-0x%X outside range", iv[0], iv[1])
				}
				covered += uint64(iv[1]) - uint64(iv[0]) + 1
			}
			if want := uint64(r[1]) - uint64(r[0]) + 1; covered != want {
				t.Fatalf("covered %d ids, want %d", covered, want)
			}
		})
	}
}

// cidrBlocks replays the builder's decomposition loop.
func cidrBlocks(begin, end uint32, width int) [][2]uint32 {
	var blocks [][2]uint32 // base, size
	for begin <= end {
		prefix := largestPrefix(begin, end, width)
		size := uint32(1) << (width - prefix)
		blocks = append(blocks, [2]uint32{begin, size})
		begin += size
		if begin == 0 {
			break // wrapped past the top of the domain
		}
	}
	return blocks
}

func checkDecomposition(t *testing.T, begin, end uint32, width int) {
	t.Helper()
	blocks := cidrBlocks(begin, end, width)

	if limit := 2*width - 2; len(blocks) > limit {
		t.Fatalf("[0x%X, 0x%X]: %d blocks, want <= %d", begin, end, len(blocks), limit)
	}

	next := begin
	for _, blk := range blocks {
		base, size := blk[0], blk[1]
		if base != next {
			t.Fatalf("[0x%X, 0x%X]: gap, block starts at 0x%X want 0x%X", begin, end, base, next)
		}
		if size&(size-1) != 0 {
			t.Fatalf("[0x%X, 0x%X]: block size %d not a power of two", begin, end, size)
		}
		if base%size != 0 {
			t.Fatalf("[0x%X, 0x%X]: block 0x%X not aligned to %d", begin, end, base, size)
		}
		next = base + size
	}
	if next != end+1 {
		t.Fatalf("[0x%X, 0x%X]: coverage ends at 0x%X, want 0x%X", begin, end, next, end+1)
	}
}

func TestCidrDecompositionStdExhaustiveSmall(t *testing.T) {
	for begin := uint32(0); begin <= 0xFF; begin++ {
		for end := begin; end <= 0xFF; end++ {
			checkDecomposition(t, begin, end, 11)
		}
	}
}

func TestCidrDecompositionStdSampled(t *testing.T) {
	for begin := uint32(0); begin <= MaxStdID; begin += 37 {
		for end := begin; end <= MaxStdID; end += 41 {
			checkDecomposition(t, begin, end, 11)
		}
	}
	checkDecomposition(t, 0, MaxStdID, 11)
	checkDecomposition(t, 1, MaxStdID-1, 11)
}

func TestCidrDecompositionExtSampled(t *testing.T) {
	cases := [][2]uint32{
		{0, MaxExtID},
		{1, MaxExtID - 1},
		{0x0ABCDEF0, 0x1FEDCBA9},
		{0x10000000, 0x10000000},
		{0x1FFFFFFF, 0x1FFFFFFF},
		{0x00000001, 0x00000002},
		{0x0F0F0F0F, 0x171717AB},
	}
	for _, c := range cases {
		checkDecomposition(t, c[0], c[1], 29)
	}
}

func TestBxcanModeBitsConsistent(t *testing.T) {
	b := NewBxcanF4()
	buildBxcan(t, b, "0x100 0x200-0x27F 0x10000000 0x10000000-0x10000FFF 0x7E0 0x7E8")

	for i := 0; i < b.maxBanks; i++ {
		active := b.fa1r&(1<<i) != 0
		if !active {
			if b.fr1[i] != 0 || b.fr2[i] != 0 {
				t.Errorf("bank %d inactive but registers non-zero", i)
			}
			continue
		}
		is32bit := b.fs1r&(1<<i) != 0
		if is32bit {
			// 32-bit entries carry the IDE bit in fr1.
			if b.fr1[i]&(1<<2) == 0 {
				t.Errorf("bank %d: 32-bit entry without IDE bit", i)
			}
		} else {
			// 16-bit entries leave bits 0..4 and 16..20 clear.
			if b.fr1[i]&0x001F001F != 0 || b.fr2[i]&0x001F001F != 0 {
				t.Errorf("bank %d: 16-bit entry with stray low bits", i)
			}
		}
	}
	if b.ffa1r != 0 {
		t.Errorf("ffa1r = %#x, want 0 (all matches to FIFO 0)", b.ffa1r)
	}
}

func TestBxcanAllowAll(t *testing.T) {
	b := NewBxcanF0()
	b.Begin()
	if err := AllowAll(b); err != nil {
		t.Fatal(err)
	}
	if err := b.End(); err != nil {
		t.Fatal(err)
	}

	for _, id := range []uint32{0, 1, 0x3FF, MaxStdID} {
		if !bxcanAcceptsStd(b, id) {
			t.Errorf("allow_all rejects std id 0x%X", id)
		}
	}
	ivs := extIntervals(b)
	if len(ivs) != 1 || ivs[0] != [2]uint32{0, MaxExtID} {
		t.Errorf("allow_all ext intervals = %v, want full range", ivs)
	}
}

func TestBxcanDumps(t *testing.T) {
	color.NoColor = true
	b := NewBxcanF0()
	buildBxcan(t, b, "0x100-0x10F 0x7E0")

	if got := b.DumpFilters(); !contains(got, "std mask") || !contains(got, "std list") {
		t.Errorf("DumpFilters missing entries:\n%s", got)
	}
	if got := b.DumpRegisters(); !contains(got, "FA1R") {
		t.Errorf("DumpRegisters missing FA1R:\n%s", got)
	}
	if got := b.Usage(); !contains(got, "2/14") {
		t.Errorf("Usage = %q, want 2/14 banks", got)
	}
}
