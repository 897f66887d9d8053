// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

package symbolize

import (
	"math"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedEngine wires a synthetic process resolver into a fresh engine so Engine
// behavior can be exercised without touching /proc.
func seedEngine(t *testing.T, m *Metrics) (*Engine, int) {
	t.Helper()

	e := NewEngine(discardLogger(), Options{}, m)

	perfMap := writePerfMap(t, "1000 100 jit_foo\n2000 80 jit_bar\n")
	p, _ := newTestProcess(t, []fakeMapping{
		{path: perfMap, start: 0, end: math.MaxUint64},
	})
	e.procs.Put(p.pid, p)
	return e, p.pid
}

func TestEngineResolveProcessAddress(t *testing.T) {
	e, pid := seedEngine(t, nil)

	sym, ok := e.Resolve(pid, 0x1050)
	require.True(t, ok)
	assert.Equal(t, "jit_foo", sym.Name)
	assert.Equal(t, uint64(0x50), sym.Offset)
}

func TestEngineFrameCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "symtrace")
	require.NoError(t, err)

	e, pid := seedEngine(t, m)

	for i := 0; i < 3; i++ {
		sym, ok := e.Resolve(pid, 0x1050)
		require.True(t, ok)
		assert.Equal(t, "jit_foo", sym.Name)
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(m.cache.WithLabelValues("miss")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.cache.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.resolved.WithLabelValues("process", "resolved")))
}

func TestEngineRefreshDropsCachedFrames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "symtrace")
	require.NoError(t, err)

	e, pid := seedEngine(t, m)

	_, ok := e.Resolve(pid, 0x1050)
	require.True(t, ok)
	require.NoError(t, e.Refresh(pid))

	_, ok = e.Resolve(pid, 0x1050)
	require.True(t, ok)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.cache.WithLabelValues("miss")))
}

func TestEngineResolveName(t *testing.T) {
	e, pid := seedEngine(t, nil)

	addr, ok := e.ResolveName(pid, "", "jit_bar")
	require.True(t, ok)
	assert.Equal(t, uint64(0x2000), addr)

	_, ok = e.ResolveName(pid, "", "no_such_symbol")
	assert.False(t, ok)
}

func TestEngineForget(t *testing.T) {
	e, pid := seedEngine(t, nil)

	_, ok := e.Resolve(pid, 0x1050)
	require.True(t, ok)

	// After Forget the pid gets a fresh resolver keyed to the real /proc
	// entry, so the synthetic symbols are gone.
	e.Forget(pid)
	r, ok := e.procs.Get(pid)
	assert.False(t, ok)
	assert.Nil(t, r)
}

func TestEngineUnresolvedCarriesModuleContext(t *testing.T) {
	e, pid := seedEngine(t, nil)

	sym, ok := e.Resolve(pid, 0x10)
	assert.False(t, ok)
	assert.NotEmpty(t, sym.Module)
	assert.Equal(t, uint64(0x10), sym.Offset)
}

func TestEngineKernelResolverRequiresRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, the privilege refusal cannot be observed")
	}

	e := NewEngine(discardLogger(), Options{}, nil)
	err := e.Refresh(KernelPID)
	assert.Error(t, err)

	_, ok := e.Resolve(KernelPID, 0xffffffff81000000)
	assert.False(t, ok)
}
