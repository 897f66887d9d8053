// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

package symbolize

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platformbuilds/symtrace/internal/helpers/cache"
	"github.com/platformbuilds/symtrace/internal/procmaps"
)

// KernelPID selects the kernel symbol table in Engine calls, mirroring the
// pid < 0 convention of New.
const KernelPID = -1

const (
	resolverTTL    = 10 * time.Minute
	frameCacheSize = 4096
	frameCacheTTL  = 30 * time.Second
)

// Engine is the front door of the symbolization layer: it owns one resolver
// per traced pid plus the kernel table, a small bounded cache of recently
// resolved frames, and the library/language helpers. All methods are safe
// for concurrent use; per-resolver access is serialized internally.
type Engine struct {
	log     *slog.Logger
	opts    Options
	metrics *Metrics

	mu     sync.Mutex
	procs  *cache.ExpirableLRU[int, *ProcessSymbols]
	kernel *KernelSymbols

	kernelWarned bool

	// frames short-circuits repeated lookups of hot addresses. Entries are
	// only trusted for a short TTL since a pid can be reused underneath us.
	frames *expirable.LRU[frameKey, Symbol]
}

type frameKey struct {
	pid  int
	addr uint64
}

// NewEngine creates an engine. metrics may be nil.
func NewEngine(log *slog.Logger, opts Options, metrics *Metrics) *Engine {
	return &Engine{
		log:     log.With("component", "symbolize"),
		opts:    opts,
		metrics: metrics,
		procs:   cache.NewExpirableLRU[int, *ProcessSymbols](resolverTTL),
		frames:  expirable.NewLRU[frameKey, Symbol](frameCacheSize, nil, frameCacheTTL),
	}
}

// Resolve maps an address in pid's address space (or the kernel's, for
// pid < 0) to module + symbol + offset. A miss is routine, not an error:
// the result may still carry module and offset for raw-frame annotation.
func (e *Engine) Resolve(pid int, addr uint64) (Symbol, bool) {
	start := time.Now()
	defer func() { e.metrics.observeLatency(time.Since(start)) }()

	key := frameKey{pid: pid, addr: addr}
	if sym, ok := e.frames.Get(key); ok {
		e.metrics.recordCache(true)
		return sym, true
	}
	e.metrics.recordCache(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	source := "process"
	var resolver Resolver
	if pid < 0 {
		source = "kernel"
		resolver = e.kernelResolver()
	} else {
		resolver = e.processResolver(pid)
	}

	sym, ok := resolver.ResolveAddr(addr)
	if ok {
		e.frames.Add(key, sym)
		e.metrics.recordResolved(source)
	} else {
		e.metrics.recordUnresolved(source)
	}
	return sym, ok
}

// ResolveName maps an exact symbol name (optionally scoped to one module)
// back to an address, for probe placement.
func (e *Engine) ResolveName(pid int, module, name string) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pid < 0 {
		return e.kernelResolver().ResolveName(module, name)
	}
	return e.processResolver(pid).ResolveName(module, name)
}

// Refresh forces re-synchronization with live OS state: a full kallsyms
// reparse for the kernel, a staleness check (and rebuild if needed) for a
// process. Cached frames for the target are discarded.
func (e *Engine) Refresh(pid int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.frames.Purge()
	if pid < 0 {
		return e.kernelResolver().Refresh()
	}
	return e.processResolver(pid).Refresh()
}

// Forget drops all cached state for a pid, for exit notifications.
func (e *Engine) Forget(pid int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.procs.Remove(pid)
	e.frames.Purge()
}

// WhichLibrary resolves a short library name to an absolute path, preferring
// the target process's own view over the system linker cache. Empty means
// not found.
func (e *Engine) WhichLibrary(name string, pid int) string {
	return procmaps.WhichLibrary(name, pid)
}

// DetectLanguage guesses the implementation language of pid, or "".
func (e *Engine) DetectLanguage(pid int) string {
	return procmaps.DetectLanguage(pid)
}

// kernelResolver creates the kernel table on first use. The initial load is
// attempted right away so a privilege problem is logged once instead of
// surfacing as silent misses.
func (e *Engine) kernelResolver() *KernelSymbols {
	if e.kernel == nil {
		e.kernel = NewKernelSymbols(e.log)
		if err := e.kernel.Refresh(); err != nil && !e.kernelWarned {
			e.kernelWarned = true
			e.log.Warn("kernel symbols unavailable", "error", err)
		}
	}
	return e.kernel
}

func (e *Engine) processResolver(pid int) *ProcessSymbols {
	if r, ok := e.procs.Get(pid); ok {
		return r
	}
	e.procs.ExpireAll()

	r := NewProcessSymbols(pid, e.opts, e.log)
	e.procs.Put(pid, r)
	return r
}
