// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

package symbolize

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/platformbuilds/symtrace/internal/procmaps"
)

// ProcessSymbols owns the loaded-module view of one process and answers
// address and name queries against it. The module list is rebuilt only when
// the process identity token changes, so per-sample queries stay cheap.
// Instances are not safe for concurrent use.
type ProcessSymbols struct {
	pid  int
	opts Options
	log  *slog.Logger

	modules []*module
	stat    procStat

	// enumerate is swapped out by tests feeding synthetic mapping sets.
	enumerate func(pid int, cb procmaps.ModuleFunc) error
}

// NewProcessSymbols creates a resolver for pid. No OS state is touched until
// the first query or Refresh.
func NewProcessSymbols(pid int, opts Options, log *slog.Logger) *ProcessSymbols {
	return &ProcessSymbols{
		pid:       pid,
		opts:      opts,
		log:       log.With("component", "process_symbols", "pid", pid),
		stat:      newProcStat(fmt.Sprintf("/proc/%d/exe", pid)),
		enumerate: procmaps.EachModule,
	}
}

// Refresh re-enumerates the process's modules if its identity token changed
// since the last build (or nothing was built yet). Otherwise it is a no-op,
// which is what keeps refresh-per-sample affordable.
func (p *ProcessSymbols) Refresh() error {
	if p.modules != nil && !p.stat.stale() {
		return nil
	}
	return p.reload()
}

func (p *ProcessSymbols) reload() error {
	var mods []*module
	byPath := make(map[string]*module)

	err := p.enumerate(p.pid, func(path string, start, end uint64) bool {
		mod, ok := byPath[path]
		if !ok {
			mod = newModule(path, p.pid, p.opts, p.log)
			byPath[path] = mod
			mods = append(mods, mod)
		}

		// Ranges of distinct modules must not overlap; a conflicting range
		// is a data inconsistency and gets dropped, not first-match
		// resolved. The perf-map sentinel spans everything and is exempt.
		if mod.typ != typePerfMap && p.rangeConflicts(mods, mod, start, end) {
			p.log.Warn("overlapping mapping ranges across modules, dropping range",
				"module", path, "start", start, "end", end)
			return true
		}

		mod.ranges = append(mod.ranges, span{start: start, end: end})
		return true
	})
	if err != nil {
		p.modules = nil
		return fmt.Errorf("enumerate modules of pid %d: %w", p.pid, err)
	}

	p.modules = mods
	p.stat.reset()
	p.log.Debug("module list rebuilt", "modules", len(mods))
	return nil
}

func (p *ProcessSymbols) rangeConflicts(mods []*module, owner *module, start, end uint64) bool {
	for _, mod := range mods {
		if mod == owner || mod.typ == typePerfMap {
			continue
		}
		for _, r := range mod.ranges {
			if start < r.end && r.start < end {
				return true
			}
		}
	}
	return false
}

// ResolveAddr locates the module containing addr, loads its symbols if this
// is the first query against it, and performs the nearest-enclosing lookup.
// On a miss inside a known module the result still names the module and the
// module-relative offset for raw-address display.
func (p *ProcessSymbols) ResolveAddr(addr uint64) (Symbol, bool) {
	if p.modules == nil || p.stat.stale() {
		if err := p.reload(); err != nil {
			p.log.Debug("module reload failed", "error", err)
			return Symbol{}, false
		}
	}

	mod := p.findModule(addr)
	if mod == nil {
		return Symbol{}, false
	}

	mod.loadSymTable()
	offset := mod.offsetOf(addr)

	sym, ok := mod.findAddr(offset)
	if !ok {
		return Symbol{Module: mod.name, Offset: offset}, false
	}
	return Symbol{Module: mod.name, Name: sym.name, Offset: offset - sym.start}, true
}

// findModule returns the first module whose ranges contain addr. The
// perf-map sentinel is enumerated last, so real file-backed modules win.
func (p *ProcessSymbols) findModule(addr uint64) *module {
	for _, mod := range p.modules {
		if mod.contains(addr) {
			return mod
		}
	}
	return nil
}

// ResolveName finds an exact symbol name and returns its absolute address.
// moduleName narrows the search to one module, matched by full path or base
// name; empty searches all modules in mapping order.
func (p *ProcessSymbols) ResolveName(moduleName, name string) (uint64, bool) {
	if p.modules == nil || p.stat.stale() {
		if err := p.reload(); err != nil {
			return 0, false
		}
	}

	for _, mod := range p.modules {
		if moduleName != "" && mod.name != moduleName && filepath.Base(mod.name) != moduleName {
			continue
		}
		offset, ok := mod.findName(name)
		if !ok {
			continue
		}
		if mod.typ == typeSO {
			return mod.start() + offset, true
		}
		return offset, true
	}
	return 0, false
}
