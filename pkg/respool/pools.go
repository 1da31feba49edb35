package respool

import (
	"errors"
	"fmt"
	"net/netip"
)

func unexpectedValue(pool string, value any) error {
	return fmt.Errorf("pool %s: unexpected value %v (%T)", pool, value, value)
}

// NewRangePool hands out the integers of [start, start+size). When set,
// template renders the items, `{}` standing for the number.
func NewRangePool(name string, start, size int, template string, opts PoolOptions) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool %s: size must be positive, got %d", name, size)
	}

	source := func() Iterator {
		return AsIterator[int](NewIntRange(start, start+size))
	}
	newItem := func(value any, itemName, prefix string) (Item, error) {
		v, ok := value.(int)
		if !ok {
			return nil, unexpectedValue(name, value)
		}
		return NewNumericItem(v, template, itemName, prefix), nil
	}
	return NewPool(name, source, newItem, 0, opts), nil
}

// NewIPPool hands out the addresses of an IPRange
func NewIPPool(name string, start, stop string, opts PoolOptions) (*Pool, error) {
	if _, err := NewIPRange(start, stop); err != nil {
		return nil, fmt.Errorf("pool %s: %w", name, err)
	}

	source := func() Iterator {
		r, _ := NewIPRange(start, stop)
		return AsIterator[netip.Addr](r)
	}
	newItem := func(value any, itemName, prefix string) (Item, error) {
		v, ok := value.(netip.Addr)
		if !ok {
			return nil, unexpectedValue(name, value)
		}
		return NewIPItem(v, itemName, prefix), nil
	}
	return NewPool(name, source, newItem, 0, opts), nil
}

type IPPortPoolArgs struct {
	IPStart   string
	IPStop    string
	PortStart int
	PortStop  int
	// Maximum number of items allocated at once, unlimited when zero
	Size int
}

func (a IPPortPoolArgs) source() (Source, error) {
	if a.PortStart == 0 {
		a.PortStart = DefaultPortStart
	}
	if a.Size < 0 {
		return nil, errors.New("size cannot be negative")
	}

	ips, err := NewIPRange(a.IPStart, a.IPStop)
	if err != nil {
		return nil, err
	}
	if _, err := NewIPPortRange(ips, a.PortStart, a.PortStop); err != nil {
		return nil, err
	}

	return func() Iterator {
		ips, _ := NewIPRange(a.IPStart, a.IPStop)
		r, _ := NewIPPortRange(ips, a.PortStart, a.PortStop)
		return AsIterator[IPPort](r)
	}, nil
}

// NewIPPortPool hands out the ip:port pairs of an IPPortRange, ports
// starting at DefaultPortStart unless configured
func NewIPPortPool(name string, args IPPortPoolArgs, opts PoolOptions) (*Pool, error) {
	source, err := args.source()
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", name, err)
	}

	newItem := func(value any, itemName, prefix string) (Item, error) {
		v, ok := value.(IPPort)
		if !ok {
			return nil, unexpectedValue(name, value)
		}
		return NewIPPortItem(v, itemName, prefix), nil
	}
	return NewPool(name, source, newItem, args.Size, opts), nil
}

type MemberPoolArgs struct {
	IPPortPoolArgs

	// Templates of the member directories and worker label, see
	// MemberItem.SetLocalDir. LocalDir defaults to RemoteDir.
	LocalDir  string
	RemoteDir string
	Docker    string
	Tokens    map[string]string
}

// NewMemberPool hands out MemberItems, their directories and worker label
// being rendered when they are allocated
func NewMemberPool(name string, args MemberPoolArgs, opts PoolOptions) (*Pool, error) {
	source, err := args.source()
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", name, err)
	}

	localDir := args.LocalDir
	if localDir == "" {
		localDir = args.RemoteDir
	}

	newItem := func(value any, itemName, prefix string) (Item, error) {
		v, ok := value.(IPPort)
		if !ok {
			return nil, unexpectedValue(name, value)
		}
		item := NewMemberItem(v, itemName, prefix)
		item.SetLocalDir(localDir, args.Tokens)
		item.SetRemoteDir(args.RemoteDir, args.Tokens)
		item.SetDocker(args.Docker, args.Tokens)
		return item, nil
	}
	return NewPool(name, source, newItem, args.Size, opts), nil
}

// NewGenericPool hands out the given strings, in order
func NewGenericPool(name string, values []string, opts PoolOptions) (*Pool, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("pool %s: no values", name)
	}
	values = append([]string(nil), values...)

	source := func() Iterator {
		return AsIterator[string](NewSliceIterator(values))
	}
	newItem := func(value any, itemName, prefix string) (Item, error) {
		v, ok := value.(string)
		if !ok {
			return nil, unexpectedValue(name, value)
		}
		return NewGenericItem(v, itemName, prefix), nil
	}
	return NewPool(name, source, newItem, 0, opts), nil
}
