package address

import (
	"fmt"
	"net"
	"strconv"
)

// Address is a host:port network address.
type Address string

// Newf formats an Address from the given format and arguments.
func Newf(format string, args ...interface{}) Address {
	return Address(fmt.Sprintf(format, args...))
}

// FromNet converts a net.Addr into an Address.
func FromNet(addr net.Addr) Address {
	if addr == nil {
		return ""
	}
	return Address(addr.String())
}

func (a Address) String() string { return string(a) }

// Host returns the host portion of the address.
func (a Address) Host() string {
	host, _, err := net.SplitHostPort(string(a))
	if err != nil {
		return ""
	}
	return host
}

// Port returns the port of the address, or 0 if it cannot be parsed.
func (a Address) Port() int {
	_, port, err := net.SplitHostPort(string(a))
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return p
}

// PortString returns the port of the address in the form ":port", suitable
// for net.Listen.
func (a Address) PortString() string { return ":" + strconv.Itoa(a.Port()) }
