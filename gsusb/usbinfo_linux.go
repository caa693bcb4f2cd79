//go:build linux

package gsusb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var sysfsNet = "/sys/class/net"

// UsbInfoFromInterface maps a CAN network interface name like "can0" to
// the VID, PID and serial of the USB device backing it by walking the
// sysfs device path upward until the USB descriptor files appear.
func UsbInfoFromInterface(name string) (vid, pid uint16, serial string, err error) {
	netPath := filepath.Join(sysfsNet, name)
	if _, err := os.Stat(netPath); err != nil {
		return 0, 0, "", err
	}
	return findUsbInfo(filepath.Join(netPath, "device"))
}

func findUsbInfo(start string) (vid, pid uint16, serial string, err error) {
	path, err := filepath.EvalSymlinks(start)
	if err != nil {
		return 0, 0, "", err
	}

	for path != "/" && path != "." {
		vendorPath := filepath.Join(path, "idVendor")
		productPath := filepath.Join(path, "idProduct")

		if fileExists(vendorPath) && fileExists(productPath) {
			vid, err = readSysfsID(vendorPath)
			if err != nil {
				return 0, 0, "", err
			}
			pid, err = readSysfsID(productPath)
			if err != nil {
				return 0, 0, "", err
			}
			// serial is optional
			if data, err := os.ReadFile(filepath.Join(path, "serial")); err == nil {
				serial = firstLine(data)
			}
			return vid, pid, serial, nil
		}

		path = filepath.Dir(path)
	}

	return 0, 0, "", fmt.Errorf("no usb device above %s", start)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readSysfsID(path string) (uint16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(firstLine(data), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return uint16(v), nil
}

func firstLine(data []byte) string {
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line)
}
