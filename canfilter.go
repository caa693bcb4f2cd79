// Package canfilter compiles lists of CAN identifiers and identifier
// ranges into the binary acceptance-filter images consumed by bxCAN and
// FDCAN (Bosch M_CAN) controllers, as implemented by gs_usb compatible
// USB-to-CAN adapters.
//
// Typical workflow:
//
//	b, _ := canfilter.New(canfilter.HardwareBxcanF0)
//	b.Begin()
//	canfilter.Parse(b, "0x100-0x10F, 0x7E0 0x7E8")
//	b.End()
//	// program b.Bytes() via the gsusb subpackage
package canfilter

import (
	"errors"
	"fmt"
	"strings"
)

// Maximum identifier values.
const (
	MaxStdID uint32 = 0x7FF      // standard 11-bit CAN ID
	MaxExtID uint32 = 0x1FFFFFFF // extended 29-bit CAN ID
)

// Hardware identifies the controller family of the adapter. The value is
// the first byte of every filter image and must match what the firmware
// advertises via GET_FILTER.
type Hardware byte

const (
	HardwareNone    Hardware = iota // no hardware filter
	HardwareBxcanF0                 // bxCAN on F0/F1/F3, 14 filter banks
	HardwareBxcanF4                 // bxCAN on F4/F7, 28 filter banks
	HardwareFdcanG0                 // Bosch M_CAN, 28 standard, 8 extended filters
	HardwareFdcanH7                 // Bosch M_CAN, 128 standard, 64 extended filters
)

func (h Hardware) String() string {
	switch h {
	case HardwareNone:
		return "none"
	case HardwareBxcanF0:
		return "bxCAN (F0/F1/F3)"
	case HardwareBxcanF4:
		return "bxCAN (F4/F7)"
	case HardwareFdcanG0:
		return "FDCAN (G0)"
	case HardwareFdcanH7:
		return "FDCAN (H7)"
	default:
		return fmt.Sprintf("unknown (%d)", byte(h))
	}
}

var (
	ErrParam           = errors.New("id or range out of bounds")
	ErrFull            = errors.New("hardware filter capacity exceeded")
	ErrPlatform        = errors.New("platform error")
	ErrSyntax          = errors.New("filter syntax error")
	ErrUnknownHardware = errors.New("unknown filter hardware")
)

// Builder accumulates CAN IDs and ID ranges and packs them into a
// hardware-ready filter image. Implementations are not safe for
// concurrent use.
type Builder interface {
	// Begin resets the image and all accumulators and stamps the
	// device tag.
	Begin()

	// AddStdID accepts a single standard (11-bit) identifier.
	AddStdID(id uint32) error
	// AddExtID accepts a single extended (29-bit) identifier.
	AddExtID(id uint32) error
	// AddStdRange accepts the inclusive standard ID range [begin, end].
	// begin > end is permitted; the bounds are swapped.
	AddStdRange(begin, end uint32) error
	// AddExtRange accepts the inclusive extended ID range [begin, end].
	AddExtRange(begin, end uint32) error

	// End flushes pending accumulators. The image is complete only
	// after End returns.
	End() error

	// Bytes returns the packed little-endian image for SET_FILTER.
	Bytes() []byte

	Hardware() Hardware

	// SetTrace installs a hook that receives one line per emitted
	// filter entry. nil disables tracing.
	SetTrace(fn func(string))

	// DumpRegisters returns a raw register/element dump.
	DumpRegisters() string
	// DumpFilters returns the decoded filter entries.
	DumpFilters() string
	// Usage returns a one-line hardware utilization summary.
	Usage() string
}

type NewBuilderFunc func() Builder

type BuilderInfo struct {
	Hardware    Hardware
	Name        string
	Alias       []string
	Description string
	New         NewBuilderFunc
}

var builderList = []BuilderInfo{
	{
		Hardware:    HardwareBxcanF0,
		Name:        "bxcan-f0",
		Alias:       []string{"f0", "f1", "f3"},
		Description: "bxCAN on F0/F1/F3 with 14 filter banks",
		New:         func() Builder { return NewBxcanF0() },
	},
	{
		Hardware:    HardwareBxcanF4,
		Name:        "bxcan-f4",
		Alias:       []string{"f4", "f7"},
		Description: "bxCAN on F4/F7 with 28 filter banks",
		New:         func() Builder { return NewBxcanF4() },
	},
	{
		Hardware:    HardwareFdcanG0,
		Name:        "fdcan-g0",
		Alias:       []string{"g0"},
		Description: "FDCAN on G0 with 28 standard, 8 extended filters",
		New:         func() Builder { return NewFdcanG0() },
	},
	{
		Hardware:    HardwareFdcanH7,
		Name:        "fdcan-h7",
		Alias:       []string{"h7"},
		Description: "FDCAN on H7 with 128 standard, 64 extended filters",
		New:         func() Builder { return NewFdcanH7() },
	},
}

// List returns the supported controller families.
func List() []BuilderInfo {
	return builderList
}

// New returns a builder for the given hardware tag.
func New(hw Hardware) (Builder, error) {
	for _, b := range builderList {
		if b.Hardware == hw {
			return b.New(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownHardware, hw)
}

// NewByName returns a builder selected by name or alias, e.g. "bxcan-f0"
// or just "f0".
func NewByName(name string) (Builder, error) {
	normalized := strings.ToLower(name)
	for _, b := range builderList {
		if b.Name == normalized {
			return b.New(), nil
		}
		for _, alias := range b.Alias {
			if normalized == alias {
				return b.New(), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownHardware, name)
}

// AllowAll accepts all standard and extended traffic.
func AllowAll(b Builder) error {
	if err := b.AddStdRange(0, MaxStdID); err != nil {
		return err
	}
	return b.AddExtRange(0, MaxExtID)
}
