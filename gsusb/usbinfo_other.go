//go:build !linux

package gsusb

import "errors"

// UsbInfoFromInterface is only implemented for Linux, where SocketCAN
// interfaces are backed by sysfs entries.
func UsbInfoFromInterface(name string) (vid, pid uint16, serial string, err error) {
	return 0, 0, "", errors.New("interface lookup not supported on this platform")
}
