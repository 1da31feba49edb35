package respool

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/clock"

	v1 "github.com/f5qa/respool/api/v1"
	"github.com/f5qa/respool/pkg/cache"
)

type FactoryOptions struct {
	// Prefix of the pools not declaring a scope
	Scope  string
	Retry  RetryPolicy
	Logger logr.Logger
	Clock  clock.PassiveClock
}

// Factory builds the pools and ranges of a session, and hands out the
// same instance every time the same name is requested
type Factory struct {
	mu      sync.Mutex
	session string
	cache   cache.Cache
	opts    FactoryOptions
	logger  logr.Logger

	pools  map[string]Allocator
	ranges map[string]Iterator
}

// NewFactory returns a factory whose pools are shared through c. Without
// a cache the pools only live in the current process.
func NewFactory(c cache.Cache, opts FactoryOptions) *Factory {
	session := uuid.NewString()

	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	return &Factory{
		session: session,
		cache:   c,
		opts:    opts,
		logger:  logger.WithValues("session", session),
		pools:   make(map[string]Allocator),
		ranges:  make(map[string]Iterator),
	}
}

func (f *Factory) Session() string {
	return f.session
}

type poolBuilder func(name string, args v1.PoolArgs, opts PoolOptions) (*Pool, error)

var poolBuilders = map[v1.PoolType]poolBuilder{
	v1.PoolTypeRange: func(name string, args v1.PoolArgs, opts PoolOptions) (*Pool, error) {
		return NewRangePool(name, args.Start.IntValue(), args.Size, args.Template, opts)
	},
	v1.PoolTypeIP: func(name string, args v1.PoolArgs, opts PoolOptions) (*Pool, error) {
		return NewIPPool(name, stringArg(args.Start), stringArg(args.Stop), opts)
	},
	v1.PoolTypeIPPort: func(name string, args v1.PoolArgs, opts PoolOptions) (*Pool, error) {
		return NewIPPortPool(name, ipPortArgs(args), opts)
	},
	v1.PoolTypeMember: func(name string, args v1.PoolArgs, opts PoolOptions) (*Pool, error) {
		return NewMemberPool(name, MemberPoolArgs{
			IPPortPoolArgs: ipPortArgs(args),
			LocalDir:       args.LocalDir,
			RemoteDir:      args.RemoteDir,
			Docker:         args.Docker,
			Tokens:         args.Tokens,
		}, opts)
	},
	v1.PoolTypeGeneric: func(name string, args v1.PoolArgs, opts PoolOptions) (*Pool, error) {
		return NewGenericPool(name, args.Values, opts)
	},
}

// stringArg returns "" for an unset value
func stringArg(v intstr.IntOrString) string {
	if v.Type == intstr.Int && v.IntVal == 0 {
		return ""
	}
	return v.String()
}

func ipPortArgs(args v1.PoolArgs) IPPortPoolArgs {
	return IPPortPoolArgs{
		IPStart:   stringArg(args.Start),
		IPStop:    stringArg(args.Stop),
		PortStart: args.PortStart,
		PortStop:  args.PortStop,
		Size:      args.Size,
	}
}

// Pool returns the pool called name, creating it from spec the first
// time. A new shared pool is synchronized with the cache before being
// returned.
func (f *Factory) Pool(ctx context.Context, name string, spec v1.PoolSpec) (Allocator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a, ok := f.pools[name]; ok {
		return a, nil
	}

	build, ok := poolBuilders[spec.Type]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w: %q", name, ErrUnknownType, spec.Type)
	}

	scope := spec.Scope
	if scope == "" {
		scope = f.opts.Scope
	}

	pool, err := build(name, spec.Args, PoolOptions{
		Prefix: scope,
		Logger: f.logger,
		Clock:  f.opts.Clock,
	})
	if err != nil {
		return nil, err
	}

	var a Allocator
	if f.cache == nil {
		a = NewLocalAllocator(pool)
	} else {
		a = NewSharedPool(pool, f.cache, SharedPoolOptions{
			Retry:   f.opts.Retry,
			ItemTTL: spec.Timeout.Duration,
			Logger:  f.logger,
		})
	}
	if err := a.Sync(ctx); err != nil {
		return nil, err
	}

	f.logger.Info("pool ready", "pool", name, "type", spec.Type, "scope", scope)
	f.pools[name] = a
	return a, nil
}

// Pools creates all the pools of specs, in name order
func (f *Factory) Pools(ctx context.Context, specs map[string]v1.PoolSpec) (map[string]Allocator, error) {
	names := lo.Keys(specs)
	slices.Sort(names)

	res := make(map[string]Allocator, len(specs))
	for _, n := range names {
		a, err := f.Pool(ctx, n, specs[n])
		if err != nil {
			return nil, err
		}
		res[n] = a
	}
	return res, nil
}

// Lookup returns a pool created earlier
func (f *Factory) Lookup(name string) (Allocator, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.pools[name]
	return a, ok
}

// PoolNames returns the sorted names of the pools created so far
func (f *Factory) PoolNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := lo.Keys(f.pools)
	slices.Sort(names)
	return names
}

type rangeBuilder func(args v1.RangeArgs) (Iterator, error)

var rangeBuilders = map[v1.RangeType]rangeBuilder{
	v1.RangeTypePort: func(args v1.RangeArgs) (Iterator, error) {
		r, err := NewPortRange(args.Start.IntValue(), args.Stop.IntValue())
		if err != nil {
			return nil, err
		}
		return AsIterator[int](r), nil
	},
	v1.RangeTypeIP: func(args v1.RangeArgs) (Iterator, error) {
		r, err := NewIPRange(stringArg(args.Start), stringArg(args.Stop))
		if err != nil {
			return nil, err
		}
		return AsIterator[netip.Addr](r), nil
	},
	v1.RangeTypeIPPort: func(args v1.RangeArgs) (Iterator, error) {
		ips, err := NewIPRange(stringArg(args.Start), stringArg(args.Stop))
		if err != nil {
			return nil, err
		}
		portStart := args.PortStart
		if portStart == 0 {
			portStart = DefaultPortStart
		}
		r, err := NewIPPortRange(ips, portStart, args.PortStop)
		if err != nil {
			return nil, err
		}
		return AsIterator[IPPort](r), nil
	},
}

// lockedIterator lets several goroutines draw from the same range
type lockedIterator struct {
	mu sync.Mutex
	it Iterator
}

func (l *lockedIterator) Next() (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.it.Next()
}

// Range returns the range called name, creating it from spec the first
// time. Ranges are not shared, every value is handed out once per
// session.
func (f *Factory) Range(name string, spec v1.RangeSpec) (Iterator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.ranges[name]; ok {
		return r, nil
	}

	build, ok := rangeBuilders[spec.Type]
	if !ok {
		return nil, fmt.Errorf("range %s: %w: %q", name, ErrUnknownType, spec.Type)
	}
	it, err := build(spec.Args)
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", name, err)
	}

	r := &lockedIterator{it: it}
	f.ranges[name] = r
	return r, nil
}

// Ranges creates all the ranges of specs
func (f *Factory) Ranges(specs map[string]v1.RangeSpec) (map[string]Iterator, error) {
	res := make(map[string]Iterator, len(specs))
	for n, spec := range specs {
		r, err := f.Range(n, spec)
		if err != nil {
			return nil, err
		}
		res[n] = r
	}
	return res, nil
}

func (f *Factory) LookupRange(name string) (Iterator, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.ranges[name]
	return r, ok
}
