/*
Copyright 2022.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controllers

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/f5qa/respool/pkg/respool"
)

const (
	defaultSweepInterval = time.Minute * 1
	defaultSweepGrace    = time.Minute * 5
)

// Sweepable is a pool whose index may list items that are gone
type Sweepable interface {
	Name() string
	Orphans(ctx context.Context) ([]string, error)
	DropOrphans(ctx context.Context, keys []string) (int, error)
}

var _ Sweepable = &respool.SharedPool{}

// PoolLister gives access to the pools of a session
type PoolLister interface {
	PoolNames() []string
	Lookup(name string) (respool.Allocator, bool)
}

// PoolSweeper removes from the shared pools the index entries whose item
// entry has been missing for longer than Grace. Such entries are left by
// expired items and by writers that died between the index update and
// the item writes.
type PoolSweeper struct {
	Pools    PoolLister
	Interval time.Duration
	Grace    time.Duration
	Clock    clock.PassiveClock
	Logger   logr.Logger

	mu sync.Mutex
	// pool -> orphan key -> first time it was seen
	seen map[string]map[string]time.Time
}

func (r *PoolSweeper) interval() time.Duration {
	if r.Interval <= 0 {
		return defaultSweepInterval
	}
	return r.Interval
}

func (r *PoolSweeper) grace() time.Duration {
	if r.Grace <= 0 {
		return defaultSweepGrace
	}
	return r.Grace
}

func (r *PoolSweeper) now() time.Time {
	if r.Clock == nil {
		return time.Now()
	}
	return r.Clock.Now()
}

// Reconcile sweeps the pool named by the request
func (r *PoolSweeper) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := r.Logger.WithName(req.Name)

	a, ok := r.Pools.Lookup(req.Name)
	if !ok {
		return ctrl.Result{}, nil
	}
	pool, ok := a.(Sweepable)
	if !ok {
		// Local pools have nothing to sweep
		return ctrl.Result{}, nil
	}

	orphans, err := pool.Orphans(ctx)
	if err != nil {
		logger.Error(err, "could not list orphans")
		return ctrl.Result{}, err
	}

	expired := r.track(req.Name, orphans)
	if len(expired) == 0 {
		return ctrl.Result{RequeueAfter: r.interval()}, nil
	}

	logger.Info("Dropping orphans", "keys", expired)
	dropped, err := pool.DropOrphans(ctx, expired)
	if err != nil {
		logger.Error(err, "error while dropping orphans")
		return ctrl.Result{}, err
	}
	r.forget(req.Name, expired)
	logger.Info("Orphans dropped", "Expected", len(expired), "Dropped", dropped)

	return ctrl.Result{RequeueAfter: r.interval()}, nil
}

// track records the current orphans of pool and returns those past the
// grace period
func (r *PoolSweeper) track(pool string, orphans []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seen == nil {
		r.seen = make(map[string]map[string]time.Time)
	}

	now := r.now()
	previous := r.seen[pool]
	current := make(map[string]time.Time, len(orphans))

	var expired []string
	for _, k := range orphans {
		first, ok := previous[k]
		if !ok {
			first = now
		}
		current[k] = first
		if now.Sub(first) >= r.grace() {
			expired = append(expired, k)
		}
	}
	r.seen[pool] = current
	return expired
}

func (r *PoolSweeper) forget(pool string, keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range keys {
		delete(r.seen[pool], k)
	}
}

// Tracked returns how many orphans of pool are waiting for the end of
// their grace period
func (r *PoolSweeper) Tracked(pool string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.seen[pool])
}

// SweepAll reconciles every pool once
func (r *PoolSweeper) SweepAll(ctx context.Context) {
	for _, name := range r.Pools.PoolNames() {
		if _, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: types.NamespacedName{Name: name}}); err != nil {
			r.Logger.Error(err, "sweep failed", "pool", name)
		}
	}
}

// Start sweeps all the pools every interval until ctx is done
func (r *PoolSweeper) Start(ctx context.Context) error {
	r.Logger.Info("starting pool sweeper", "interval", r.interval(), "grace", r.grace())
	wait.UntilWithContext(ctx, r.SweepAll, r.interval())
	return nil
}
