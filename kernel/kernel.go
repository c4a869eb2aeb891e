// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package kernel runs compute-shader shaped work on the CPU.
//
// A dispatch launches a number of thread groups. All threads of a group
// run concurrently and may synchronize with each other through the
// group barrier; distinct groups share nothing except global memory and
// may run in any order, including sequentially.
package kernel

import (
	"runtime"
	"sync"
)

// A ThreadFunc is the per-thread body of a kernel. localID identifies
// the thread within its group.
type ThreadFunc func(localID uint32)

// A Group is the execution context shared by the threads of one thread
// group.
type Group struct {
	threads uint32

	mu      sync.Mutex
	cond    *sync.Cond
	waiting uint32
	// generation counts completed barriers, so that threads released
	// from one barrier can't race threads arriving at the next.
	generation uint64
}

// Threads returns the number of threads in the group.
func (g *Group) Threads() uint32 {
	return g.threads
}

// Barrier blocks until every thread of the group has called it. It
// matches workgroupBarrier: all threads must reach the same barrier,
// or the group deadlocks.
func (g *Group) Barrier() {
	g.mu.Lock()
	gen := g.generation
	g.waiting++
	if g.waiting == g.threads {
		g.waiting = 0
		g.generation++
		g.cond.Broadcast()
	} else {
		for g.generation == gen {
			g.cond.Wait()
		}
	}
	g.mu.Unlock()
}

// Dispatch runs groups thread groups of threads threads each. For
// every group, fn is called once to set up group-shared state and
// returns the thread body, which is then run on threads concurrent
// threads. Dispatch returns when all groups have finished.
//
// Groups are distributed over a bounded pool of workers, so fn must
// not assume that any two groups run concurrently.
func Dispatch(groups, threads uint32, fn func(g *Group, groupID uint32) ThreadFunc) {
	if groups == 0 || threads == 0 {
		return
	}
	workers := uint32(runtime.GOMAXPROCS(0))
	if workers > groups {
		workers = groups
	}

	ids := make(chan uint32)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				runGroup(id, threads, fn)
			}
		}()
	}
	for id := uint32(0); id < groups; id++ {
		ids <- id
	}
	close(ids)
	wg.Wait()
}

func runGroup(groupID, threads uint32, fn func(g *Group, groupID uint32) ThreadFunc) {
	g := &Group{threads: threads}
	g.cond = sync.NewCond(&g.mu)
	body := fn(g, groupID)

	var wg sync.WaitGroup
	for localID := uint32(0); localID < threads; localID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body(localID)
		}()
	}
	wg.Wait()
}
