// Copyright 2026 The Subsecond Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group fans the same high-level command out to every target's
// orchestrator in a multi-target project (spec.md §4.H: "the driver
// dispatches the same high-level command to every orchestrator"), e.g. a
// native backend plus a wasm32 frontend sharing one transport.Server.
type Group struct {
	Orchestrators []*Orchestrator
}

// Start launches Run for every orchestrator in its own goroutine.
func (g *Group) Start(ctx context.Context) {
	for _, o := range g.Orchestrators {
		go o.Run(ctx)
	}
}

// Dispatch enqueues cmd on every orchestrator concurrently and waits for
// all of them to have accepted it onto their command channel. It does not
// wait for the builds themselves to finish — each orchestrator's command
// channel buffers the request and Run drains it serially, per target.
func (g *Group) Dispatch(ctx context.Context, cmd Command) error {
	eg, _ := errgroup.WithContext(ctx)
	for _, o := range g.Orchestrators {
		o := o
		eg.Go(func() error {
			o.Enqueue(cmd)
			return nil
		})
	}
	return eg.Wait()
}

// StopAll tears every orchestrator down, killing each target's child
// process.
func (g *Group) StopAll() {
	for _, o := range g.Orchestrators {
		o.Stop()
	}
}
