// Copyright 2025 Google LLC
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

package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/xv6kernel/core/internal/metrics"
)

func TestBufMetricsCounts(t *testing.T) {
	m := metrics.NewBufMetrics(nil)
	assert.Zero(t, m.MinorFaults())
	assert.Zero(t, m.MajorFaults())

	m.MinorFault()
	m.MinorFault()
	m.MajorFault()

	assert.Equal(t, 2.0, m.MinorFaults())
	assert.Equal(t, 1.0, m.MajorFaults())
}

func TestObjCacheMetricsCounts(t *testing.T) {
	m := metrics.NewObjCacheMetrics(nil)
	m.Hit()
	m.Miss()
	m.Miss()

	assert.Equal(t, 1.0, m.Hits())
	assert.Equal(t, 2.0, m.Misses())
}

func TestKernelMetricsAggregatesAndRegistersUnderCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	km := metrics.NewKernelMetrics(reg)

	km.Buf.MinorFault()
	km.ObjCache.Miss()
	km.LogCommit()
	km.LogCommit()
	km.MountAdded()
	km.MountAdded()
	km.MountRemoved()

	assert.Equal(t, 1.0, km.Buf.MinorFaults())
	assert.Equal(t, 1.0, km.ObjCache.Misses())
	assert.Equal(t, 2.0, km.LogCommits())

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families, "NewKernelMetrics must register its counters/gauges under the given registerer")
}

func TestNewKernelMetricsWithNilRegistryDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { metrics.NewKernelMetrics(nil) })
}
