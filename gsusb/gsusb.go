// Package gsusb programs compiled filter images into gs_usb compatible
// USB-to-CAN adapters (candleLight firmware) using the vendor control
// requests the firmware exposes on endpoint 0.
package gsusb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/gousb"

	"github.com/gocandle/canfilter"
)

// Vendor control requests, matching the candlelight firmware gs_usb_breq
// numbering.
const (
	breqBtConst   = 4  // IN: device capability
	breqSetFilter = 15 // OUT: filter image
	breqGetFilter = 16 // IN: filter hardware info
)

// BT_CONST feature word bit advertising hardware filter support.
const featureFilter = 1 << 16

const (
	ctrlIn  = gousb.ControlVendor | gousb.ControlInterface | gousb.ControlIn
	ctrlOut = gousb.ControlVendor | gousb.ControlInterface | gousb.ControlOut
)

const controlTimeout = 1000 * time.Millisecond

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrNoHardwareFilter = errors.New("controller does not have hardware filter")
)

// DeviceID is a USB vendor/product pair.
type DeviceID struct {
	VID, PID uint16
}

// DefaultDeviceIDs is the probe list used by OpenAny: the gs_usb /
// candleLight VID:PID.
var DefaultDeviceIDs = []DeviceID{
	{VID: 0x1d50, PID: 0x606f},
}

// Config selects the device to open.
type Config struct {
	VID, PID uint16
	// Serial, when set, must match the device's serial descriptor.
	Serial string
	// OnMessage receives progress and diagnostic lines. May be nil.
	OnMessage func(msg string)
}

// controlDevice is the subset of *gousb.Device the protocol needs;
// tests substitute a fake.
type controlDevice interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
	Close() error
}

// Device is an open gs_usb adapter.
type Device struct {
	cfg  *Config
	ctx  *gousb.Context
	ctrl controlDevice
}

// Capability is the BT_CONST payload (gs_device_capability, 40 bytes
// packed little-endian).
type Capability struct {
	Feature  uint32
	FclkCan  uint32
	Tseg1Min uint32
	Tseg1Max uint32
	Tseg2Min uint32
	Tseg2Max uint32
	SjwMax   uint32
	BrpMin   uint32
	BrpMax   uint32
	BrpInc   uint32
}

const capabilitySize = 40

// HasHardwareFilter reports whether the capability word advertises
// hardware filtering.
func (c Capability) HasHardwareFilter() bool {
	return c.Feature&featureFilter != 0
}

// Open opens the device selected by cfg. The open is retried a few
// times to ride out re-enumeration after the device was plugged in.
func Open(cfg *Config) (*Device, error) {
	d := &Device{cfg: cfg, ctx: gousb.NewContext()}

	err := retry.Do(d.open,
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			d.message(fmt.Sprintf("open retry #%d: %v", n, err))
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		d.ctx.Close()
		return nil, err
	}
	return d, nil
}

// OpenAny scans DefaultDeviceIDs and opens the first device present.
func OpenAny(onMessage func(string)) (*Device, error) {
	for _, id := range DefaultDeviceIDs {
		d, err := Open(&Config{VID: id.VID, PID: id.PID, OnMessage: onMessage})
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, ErrDeviceNotFound) {
			return nil, err
		}
	}
	return nil, ErrDeviceNotFound
}

func (d *Device) open() error {
	devs, err := d.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(d.cfg.VID) && desc.Product == gousb.ID(d.cfg.PID)
	})
	if err != nil {
		// OpenDevices can return partial results; close whatever
		// was opened before reporting.
		for _, dev := range devs {
			dev.Close()
		}
		return fmt.Errorf("%w: %v", canfilter.ErrPlatform, err)
	}

	var match *gousb.Device
	for _, dev := range devs {
		if match == nil && d.serialMatches(dev) {
			match = dev
			continue
		}
		dev.Close()
	}
	if match == nil {
		return fmt.Errorf("%w: %04x:%04x", ErrDeviceNotFound, d.cfg.VID, d.cfg.PID)
	}

	if err := match.SetAutoDetach(true); err != nil {
		d.message(fmt.Sprintf("failed to set auto detach: %v", err))
	}
	match.ControlTimeout = controlTimeout

	d.message(fmt.Sprintf("opened device %04x:%04x", d.cfg.VID, d.cfg.PID))
	d.ctrl = match
	return nil
}

func (d *Device) serialMatches(dev *gousb.Device) bool {
	if d.cfg.Serial == "" {
		return true
	}
	serial, err := dev.SerialNumber()
	if err != nil {
		return false
	}
	return serial == d.cfg.Serial
}

func (d *Device) message(msg string) {
	if d.cfg.OnMessage != nil {
		d.cfg.OnMessage(msg)
	}
}

// Close releases the device handle and the USB context.
func (d *Device) Close() error {
	var err error
	if d.ctrl != nil {
		err = d.ctrl.Close()
		d.ctrl = nil
	}
	if d.ctx != nil {
		if e := d.ctx.Close(); err == nil {
			err = e
		}
		d.ctx = nil
	}
	return err
}

// controlIn performs one vendor IN transfer and fails unless the full
// payload arrived.
func (d *Device) controlIn(request uint8, data []byte) error {
	n, err := d.ctrl.Control(ctrlIn, request, 0, 0, data)
	if err != nil {
		return fmt.Errorf("%w: control in %d: %v", canfilter.ErrPlatform, request, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: control in %d: short transfer %d of %d bytes",
			canfilter.ErrPlatform, request, n, len(data))
	}
	return nil
}

// Capability reads the BT_CONST capability block.
func (d *Device) Capability() (Capability, error) {
	var raw [capabilitySize]byte
	if err := d.controlIn(breqBtConst, raw[:]); err != nil {
		return Capability{}, err
	}

	le := binary.LittleEndian
	return Capability{
		Feature:  le.Uint32(raw[0:]),
		FclkCan:  le.Uint32(raw[4:]),
		Tseg1Min: le.Uint32(raw[8:]),
		Tseg1Max: le.Uint32(raw[12:]),
		Tseg2Min: le.Uint32(raw[16:]),
		Tseg2Max: le.Uint32(raw[20:]),
		SjwMax:   le.Uint32(raw[24:]),
		BrpMin:   le.Uint32(raw[28:]),
		BrpMax:   le.Uint32(raw[32:]),
		BrpInc:   le.Uint32(raw[36:]),
	}, nil
}

// HasHardwareFilter probes the capability word for filter support.
func (d *Device) HasHardwareFilter() bool {
	c, err := d.Capability()
	return err == nil && c.HasHardwareFilter()
}

// FilterHardware asks the firmware which controller family performs the
// filtering.
func (d *Device) FilterHardware() (canfilter.Hardware, error) {
	var info [4]byte // dev tag + 3 reserved
	if err := d.controlIn(breqGetFilter, info[:]); err != nil {
		return canfilter.HardwareNone, err
	}
	return canfilter.Hardware(info[0]), nil
}

// ProgramFilter ships a compiled image to the device in a single
// control-OUT transfer.
func (d *Device) ProgramFilter(image []byte) error {
	n, err := d.ctrl.Control(ctrlOut, breqSetFilter, 0, 0, image)
	if err != nil {
		return fmt.Errorf("%w: set filter: %v", canfilter.ErrPlatform, err)
	}
	if n != len(image) {
		return fmt.Errorf("%w: set filter: short transfer %d of %d bytes",
			canfilter.ErrPlatform, n, len(image))
	}
	return nil
}

// SetFilter compiles def for the device's controller family and
// programs it.
func (d *Device) SetFilter(def string) error {
	if !d.HasHardwareFilter() {
		return ErrNoHardwareFilter
	}

	hw, err := d.FilterHardware()
	if err != nil {
		return err
	}

	b, err := canfilter.New(hw)
	if err != nil {
		return err
	}
	d.message("using " + describe(b))

	b.Begin()
	if err := canfilter.Parse(b, def); err != nil {
		return fmt.Errorf("filter syntax error: %w", err)
	}
	if err := b.End(); err != nil {
		return err
	}
	d.message(b.Usage())

	if err := d.ProgramFilter(b.Bytes()); err != nil {
		return fmt.Errorf("program filter: %w", err)
	}
	return nil
}

func describe(b canfilter.Builder) string {
	for _, info := range canfilter.List() {
		if info.Hardware == b.Hardware() {
			return info.Description
		}
	}
	return b.Hardware().String()
}

// SetHardwareFilter resolves a network interface name like "can0" to
// its USB device, compiles def and programs it. Linux only.
func SetHardwareFilter(ifname, def string, onMessage func(string)) error {
	vid, pid, serial, err := UsbInfoFromInterface(ifname)
	if err != nil {
		return fmt.Errorf("interface %s not found: %w", ifname, err)
	}

	dev, err := Open(&Config{VID: vid, PID: pid, Serial: serial, OnMessage: onMessage})
	if err != nil {
		return fmt.Errorf("no backend for interface %s: %w", ifname, err)
	}
	defer dev.Close()

	return dev.SetFilter(def)
}
