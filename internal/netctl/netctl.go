// Package netctl is the host network control client: interface multicast
// flags and the TTL-rewrite packet-filter rule.
package netctl

import (
	"fmt"
	"log"

	"golang.org/x/sys/unix"
)

// Controller toggles interface flags through the kernel ioctl interface.
type Controller struct {
	// setFlags is overridable for tests.
	setFlags func(iface string, flags uint16) error
	// getFlags is overridable for tests.
	getFlags func(iface string) (uint16, error)
}

// NewController creates a controller using real ioctls.
func NewController() *Controller {
	return &Controller{getFlags: ifaceFlags, setFlags: setIfaceFlags}
}

// EnableMulticast sets IFF_MULTICAST and IFF_ALLMULTI on the interface so it
// receives all multicast frames for forwarding. Enabling an already-enabled
// interface is a no-op.
func (c *Controller) EnableMulticast(iface string) error {
	flags, err := c.getFlags(iface)
	if err != nil {
		return fmt.Errorf("reading flags of %s: %w", iface, err)
	}

	want := flags | unix.IFF_MULTICAST | unix.IFF_ALLMULTI
	if want == flags {
		return nil
	}
	if err := c.setFlags(iface, want); err != nil {
		return fmt.Errorf("enabling multicast on %s: %w", iface, err)
	}
	log.Printf("INFO: Enabled multicast reception on %s", iface)
	return nil
}

func controlSocket() (int, error) {
	return unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
}

func ifaceFlags(iface string) (uint16, error) {
	fd, err := controlSocket()
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(iface)
	if err != nil {
		return 0, err
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return 0, err
	}
	return ifr.Uint16(), nil
}

func setIfaceFlags(iface string, flags uint16) error {
	fd, err := controlSocket()
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(iface)
	if err != nil {
		return err
	}
	ifr.SetUint16(flags)
	return unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr)
}
