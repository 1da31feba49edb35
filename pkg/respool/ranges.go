package respool

import (
	"fmt"
	"net/netip"
	"strings"
)

const (
	MaxPort = 65535

	// First port of ip_port and member pools when none is configured
	DefaultPortStart = 20000
)

// Iterator hands out the raw values of a pool or a range, once each
type Iterator interface {
	Next() (any, bool)
}

// Sequence is the typed flavour of an Iterator
type Sequence[T any] interface {
	Next() (T, bool)
}

type sequenceIterator[T any] struct {
	seq Sequence[T]
}

func (s sequenceIterator[T]) Next() (any, bool) {
	v, ok := s.seq.Next()
	if !ok {
		return nil, false
	}
	return v, true
}

// AsIterator erases the value type of seq
func AsIterator[T any](seq Sequence[T]) Iterator {
	return sequenceIterator[T]{seq: seq}
}

// SliceIterator walks a finite list of values
type SliceIterator[T any] struct {
	values []T
	pos    int
}

func NewSliceIterator[T any](values []T) *SliceIterator[T] {
	return &SliceIterator[T]{values: values}
}

func (s *SliceIterator[T]) Next() (T, bool) {
	var zero T
	if s.pos >= len(s.values) {
		return zero, false
	}
	v := s.values[s.pos]
	s.pos++
	return v, true
}

// IntRange produces the integers of [start, stop)
type IntRange struct {
	next int
	stop int
}

func NewIntRange(start, stop int) *IntRange {
	return &IntRange{next: start, stop: stop}
}

func (r *IntRange) Next() (int, bool) {
	if r.next >= r.stop {
		return 0, false
	}
	v := r.next
	r.next++
	return v, true
}

// PortRange produces the ports of [start, stop]
type PortRange struct {
	IntRange
}

// NewPortRange builds the range of ports from start to stop, both
// included. A zero stop means MaxPort.
func NewPortRange(start, stop int) (*PortRange, error) {
	if stop == 0 {
		stop = MaxPort
	}
	if start < 0 {
		return nil, fmt.Errorf("invalid port range start %d", start)
	}
	if stop > MaxPort {
		return nil, fmt.Errorf("invalid port range stop %d, max is %d", stop, MaxPort)
	}
	if start > stop {
		return nil, fmt.Errorf("invalid port range %d-%d", start, stop)
	}
	return &PortRange{IntRange: IntRange{next: start, stop: stop + 1}}, nil
}

// IPRange produces the addresses from start to stop, both included. It
// never wraps around the end of the address space.
type IPRange struct {
	next netip.Addr
	stop netip.Addr
	done bool
}

// NewIPRange accepts a single address, a CIDR or an explicit pair of
// addresses. A CIDR starts at the given address (skipping the network
// address) and ends before the broadcast address for IPv4, or at the last
// address of the network for IPv6. Host routes (/32, /128) hold their
// single address and point-to-point networks (/31, /127) both of theirs.
// An explicit stop always wins.
func NewIPRange(start, stop string) (*IPRange, error) {
	var first, last netip.Addr

	if strings.Contains(start, "/") {
		prefix, err := netip.ParsePrefix(start)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", start, err)
		}
		first = prefix.Addr()
		last = lastAddr(prefix)
		// Host routes and point-to-point links use all their addresses
		if prefix.Bits() < first.BitLen()-1 {
			if first == prefix.Masked().Addr() {
				first = first.Next()
			}
			if last.Is4() {
				last = last.Prev()
			}
		}
	} else {
		addr, err := netip.ParseAddr(start)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", start, err)
		}
		first, last = addr, addr
	}

	if stop != "" {
		addr, err := netip.ParseAddr(stop)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", stop, err)
		}
		last = addr
	}

	if first.Is4() != last.Is4() {
		return nil, fmt.Errorf("address family mismatch between %s and %s", first, last)
	}

	return &IPRange{
		next: first,
		stop: last,
		done: !first.IsValid(),
	}, nil
}

// lastAddr returns the highest address of p
func lastAddr(p netip.Prefix) netip.Addr {
	p = p.Masked()
	b := p.Addr().AsSlice()
	for i := range b {
		hostBits := min(8, max(0, (i+1)*8-p.Bits()))
		b[i] |= byte(1<<hostBits - 1)
	}
	addr, _ := netip.AddrFromSlice(b)
	return addr
}

func (r *IPRange) Next() (netip.Addr, bool) {
	if r.done || r.next.Compare(r.stop) > 0 {
		return netip.Addr{}, false
	}
	v := r.next
	r.next = r.next.Next()
	if !r.next.IsValid() {
		r.done = true
	}
	return v, true
}

// IPPortRange produces every port of the first address, then every port
// of the next one, and so on
type IPPortRange struct {
	ips       *IPRange
	portStart int
	portStop  int

	ip    netip.Addr
	ports *PortRange
}

func NewIPPortRange(ips *IPRange, portStart, portStop int) (*IPPortRange, error) {
	// Validates the bounds once, the range is rebuilt for every address
	if _, err := NewPortRange(portStart, portStop); err != nil {
		return nil, err
	}
	return &IPPortRange{
		ips:       ips,
		portStart: portStart,
		portStop:  portStop,
	}, nil
}

func (r *IPPortRange) Next() (IPPort, bool) {
	for {
		if r.ports == nil {
			ip, ok := r.ips.Next()
			if !ok {
				return IPPort{}, false
			}
			r.ip = ip
			r.ports, _ = NewPortRange(r.portStart, r.portStop)
		}
		if port, ok := r.ports.Next(); ok {
			return IPPort{Addr: r.ip, Port: port}, true
		}
		r.ports = nil
	}
}
