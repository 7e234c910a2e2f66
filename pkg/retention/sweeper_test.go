// Copyright 2026 The JobForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retention

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	calls      atomic.Int64
	lastCutoff atomic.Value
	rows       int
	err        error
}

func (f *fakePruner) prune(_ context.Context, cutoff time.Time) (int, error) {
	f.calls.Add(1)
	f.lastCutoff.Store(cutoff)
	return f.rows, f.err
}

func (f *fakePruner) PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return f.prune(ctx, cutoff)
}

func (f *fakePruner) PruneProcessedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return f.prune(ctx, cutoff)
}

func (f *fakePruner) PruneExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return f.prune(ctx, cutoff)
}

func TestSweepOnceCutoffAndTotal(t *testing.T) {
	jobs := &fakePruner{rows: 3}
	events := &fakePruner{rows: 2}
	tokens := &fakePruner{rows: 1}
	s := NewSweeper(Pruners{Jobs: jobs, Events: events, Tokens: tokens}, 30, time.Hour, nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	total := s.SweepOnce(context.Background(), now)

	require.Equal(t, 6, total)
	want := now.Add(-30 * 24 * time.Hour)
	assert.Equal(t, want, jobs.lastCutoff.Load())
	assert.Equal(t, want, events.lastCutoff.Load())
	assert.Equal(t, want, tokens.lastCutoff.Load())
}

func TestSweepOnceSkipsNilPruners(t *testing.T) {
	jobs := &fakePruner{rows: 4}
	s := NewSweeper(Pruners{Jobs: jobs}, 90, time.Hour, nil)

	total := s.SweepOnce(context.Background(), time.Now())
	require.Equal(t, 4, total)
	assert.Equal(t, int64(1), jobs.calls.Load())
}

func TestSweepOnceFailureIsolated(t *testing.T) {
	jobs := &fakePruner{err: errors.New("pg down")}
	events := &fakePruner{rows: 5}
	s := NewSweeper(Pruners{Jobs: jobs, Events: events}, 90, time.Hour, nil)

	total := s.SweepOnce(context.Background(), time.Now())
	require.Equal(t, 5, total, "failure on one plane must not block the others")
	assert.Equal(t, int64(1), events.calls.Load())
}

func TestSweeperDefaults(t *testing.T) {
	s := NewSweeper(Pruners{}, 0, 0, nil)
	assert.Equal(t, 90*24*time.Hour, s.horizon)
	assert.Equal(t, 24*time.Hour, s.interval)
}

func TestSweeperStartStop(t *testing.T) {
	jobs := &fakePruner{rows: 1}
	s := NewSweeper(Pruners{Jobs: jobs}, 1, 10*time.Millisecond, nil)

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for jobs.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	require.Greater(t, jobs.calls.Load(), int64(0), "ticker loop never swept")
}
