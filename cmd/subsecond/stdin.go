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

package main

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/shadr/subsecond/dlog"
	"github.com/shadr/subsecond/orchestrator"
)

// runStdinProtocol implements spec.md §6's interactive protocol: 'r' fans
// Thin out to every orchestrator, 'R' clears accumulated patches and
// rebuilds the fat binary, 'e' exits. It blocks reading from r until EOF
// or a line of "e" is seen.
func runStdinProtocol(ctx context.Context, r io.Reader, group *orchestrator.Group) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "r":
			if err := group.Dispatch(ctx, orchestrator.CmdThin); err != nil {
				dlog.Errorf("stdin: dispatching thin build: %v", err)
			}
		case "R":
			if err := group.Dispatch(ctx, orchestrator.CmdFatRebuild); err != nil {
				dlog.Errorf("stdin: dispatching fat rebuild: %v", err)
			}
		case "e":
			return
		case "":
			// ignore blank lines
		default:
			dlog.Warnf("stdin: unrecognized command %q", line)
		}
	}
}
