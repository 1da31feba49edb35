package respool

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/samber/lo"
	"k8s.io/utils/clock"
)

// Source builds a fresh iterator over the values of a pool. Every
// allocation scans it from the beginning, so the first free value wins.
type Source func() Iterator

// ItemFactory turns a raw value of the source into an item
type ItemFactory func(value any, name, prefix string) (Item, error)

type PoolOptions struct {
	// Namespace of the items allocated through this pool
	Prefix string
	Logger logr.Logger
	Clock  clock.PassiveClock
}

type GetOptions struct {
	// Name of the item, its key when empty. For GetMulti a `%d` verb is
	// replaced by the index of the item, starting at 1
	Name string
	// Overrides the pool prefix
	Prefix string
	// Overrides the pool source
	Source Source
}

type FreeOptions struct {
	// Overrides the pool prefix
	Prefix string
}

// Pool is the in-process registry of the items allocated from a source.
// It is not safe for concurrent use.
type Pool struct {
	name    string
	prefix  string
	source  Source
	newItem ItemFactory
	size    int

	order    []string
	items    map[string]Item
	values   map[string]struct{}
	reserved map[string]struct{}

	logger logr.Logger
	clock  clock.PassiveClock
}

// NewPool builds a pool handing out the values of source. A positive size
// caps the number of items allocated at any time.
func NewPool(name string, source Source, newItem ItemFactory, size int, opts PoolOptions) *Pool {
	p := &Pool{
		name:    name,
		prefix:  opts.Prefix,
		source:  source,
		newItem: newItem,
		size:    size,
		logger:  opts.Logger,
		clock:   opts.Clock,
	}
	if p.logger.GetSink() == nil {
		p.logger = logr.Discard()
	}
	if p.clock == nil {
		p.clock = clock.RealClock{}
	}
	p.logger = p.logger.WithName(name)
	p.reset()
	return p
}

func (p *Pool) reset() {
	p.order = nil
	p.items = make(map[string]Item)
	p.values = make(map[string]struct{})
	p.reserved = make(map[string]struct{})
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Prefix() string {
	return p.prefix
}

func (p *Pool) prefixFor(prefix string) string {
	if prefix == "" {
		return p.prefix
	}
	return prefix
}

func (p *Pool) inUse(key string) bool {
	_, allocated := p.values[key]
	_, reserved := p.reserved[key]
	return allocated || reserved
}

func (p *Pool) add(item Item) {
	p.order = append(p.order, item.FullName())
	p.items[item.FullName()] = item
	p.values[item.Key()] = struct{}{}
}

func (p *Pool) remove(fullName string) Item {
	item, ok := p.items[fullName]
	if !ok {
		return nil
	}
	delete(p.items, fullName)
	delete(p.values, item.Key())
	p.order = slices.DeleteFunc(p.order, func(n string) bool { return n == fullName })
	return item
}

// Get returns the item registered under the given name, or allocates the
// first free value of the source
func (p *Pool) Get(opts GetOptions) (Item, error) {
	item, _, err := p.get(opts)
	return item, err
}

// get also reports whether the item was created by this call
func (p *Pool) get(opts GetOptions) (Item, bool, error) {
	prefix := p.prefixFor(opts.Prefix)

	if opts.Name != "" {
		if item, ok := p.items[prefix+opts.Name]; ok {
			return item, false, nil
		}
	}

	if p.size > 0 && len(p.values)+len(p.reserved) >= p.size {
		return nil, false, NewPoolExhaustedError(p.name)
	}

	source := opts.Source
	if source == nil {
		source = p.source
	}

	it := source()
	for {
		v, ok := it.Next()
		if !ok {
			return nil, false, NewPoolExhaustedError(p.name)
		}

		item, err := p.newItem(v, opts.Name, prefix)
		if err != nil {
			return nil, false, err
		}
		if p.inUse(item.Key()) {
			continue
		}

		if a, ok := item.(acquirer); ok {
			a.setAcquired(p.clock.Now())
		}
		p.add(item)
		p.logger.V(1).Info("allocated", "item", item.FullName(), "key", item.Key())
		return item, true, nil
	}
}

type acquirer interface {
	setAcquired(t time.Time)
}

// GetMulti returns n items. Items created by this call are released if
// the pool runs out before the last one.
func (p *Pool) GetMulti(n int, opts GetOptions) ([]Item, error) {
	if n > 1 && opts.Name != "" && !strings.Contains(opts.Name, "%d") {
		return nil, fmt.Errorf("name %q needs a %%d verb to get %d items: %w", opts.Name, n, ErrInvalidName)
	}

	res := make([]Item, 0, n)
	var created []Item

	for i := 1; i <= n; i++ {
		o := opts
		if strings.Contains(opts.Name, "%d") {
			o.Name = fmt.Sprintf(opts.Name, i)
		}

		item, isNew, err := p.get(o)
		if err != nil {
			for _, c := range created {
				p.remove(c.FullName())
			}
			return nil, err
		}
		if isNew {
			created = append(created, item)
		}
		res = append(res, item)
	}
	return res, nil
}

// Free releases the item registered under the full name of item. Freeing
// an item which is not allocated is not an error, it returns false.
func (p *Pool) Free(item Item) (Item, bool) {
	removed := p.remove(item.FullName())
	if removed == nil {
		p.logger.V(1).Info("not allocated", "item", item.FullName(), "key", item.Key())
		return nil, false
	}
	p.logger.V(1).Info("freed", "item", removed.FullName(), "key", removed.Key())
	return removed, true
}

// FreeEncoded decodes e before freeing it
func (p *Pool) FreeEncoded(e EncodedItem) (Item, bool, error) {
	item, err := DecodeItem(e)
	if err != nil {
		return nil, false, err
	}
	removed, ok := p.Free(item)
	return removed, ok, nil
}

// FreeAll releases every item whose full name starts with the prefix,
// in allocation order
func (p *Pool) FreeAll(opts FreeOptions) []Item {
	prefix := p.prefixFor(opts.Prefix)

	names := lo.Filter(p.order, func(n string, _ int) bool {
		return strings.HasPrefix(n, prefix)
	})

	res := make([]Item, 0, len(names))
	for _, n := range names {
		res = append(res, p.remove(n))
	}
	return res
}

// UpdateWith replaces the content of the pool. It also drops the
// reservations.
func (p *Pool) UpdateWith(items []Item) {
	p.reset()
	for _, item := range items {
		if _, dup := p.items[item.FullName()]; dup || p.inUse(item.Key()) {
			p.logger.Info("skipping duplicate item", "item", item.FullName(), "key", item.Key())
			continue
		}
		p.add(item)
	}
}

// Reserve marks keys as taken without any item being known for them
func (p *Pool) Reserve(keys ...string) {
	for _, k := range keys {
		if _, ok := p.values[k]; !ok {
			p.reserved[k] = struct{}{}
		}
	}
}

// Reserved returns the sorted keys reserved without an item
func (p *Pool) Reserved() []string {
	res := lo.Keys(p.reserved)
	slices.Sort(res)
	return res
}

// Keys returns the sorted keys of the allocated items
func (p *Pool) Keys() []string {
	res := lo.Keys(p.values)
	slices.Sort(res)
	return res
}

// Items returns the allocated items in allocation order
func (p *Pool) Items() []Item {
	return lo.Map(p.order, func(n string, _ int) Item {
		return p.items[n]
	})
}

// GetByName returns the item allocated under name in the pool namespace
func (p *Pool) GetByName(name string) (Item, bool) {
	return p.GetByFullName(p.prefix + name)
}

func (p *Pool) GetByFullName(fullName string) (Item, bool) {
	item, ok := p.items[fullName]
	return item, ok
}

func (p *Pool) Len() int {
	return len(p.items)
}
