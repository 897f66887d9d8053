// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

package symbolize

import (
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/platformbuilds/symtrace/internal/elfsyms"
	"github.com/platformbuilds/symtrace/internal/mountns"
	"github.com/platformbuilds/symtrace/internal/perfmap"
)

type moduleType int

const (
	typeUnknown moduleType = iota
	typeExec
	typeSO
	typePerfMap
)

// module aggregates every mapping range that shares one backing path. Its
// symbol table is loaded lazily, exactly once, on the first address or name
// query that lands in it; a failed load leaves the table empty for the
// resolver's lifetime instead of retrying per query.
type module struct {
	name   string
	ranges []span
	typ    moduleType
	pid    int
	opts   Options
	log    *slog.Logger

	loaded bool
	syms   []msym
	names  map[string]struct{}
}

type span struct {
	start uint64
	end   uint64
}

type msym struct {
	name  string
	start uint64
	size  uint64
}

func newModule(name string, pid int, opts Options, log *slog.Logger) *module {
	return &module{
		name: name,
		typ:  classify(name),
		pid:  pid,
		opts: opts,
		log:  log,
	}
}

// classify derives the module type from its path. Plain executables stay
// unknown here; the ELF header settles them when symbols load.
func classify(name string) moduleType {
	if perfmap.IsPerfMap(name) {
		return typePerfMap
	}
	if strings.HasSuffix(name, ".so") || strings.Contains(name, ".so.") {
		return typeSO
	}
	return typeUnknown
}

// contains reports whether addr falls in one of the module's ranges.
func (m *module) contains(addr uint64) bool {
	for _, r := range m.ranges {
		if addr >= r.start && addr < r.end {
			return true
		}
	}
	return false
}

func (m *module) start() uint64 {
	if len(m.ranges) == 0 {
		return 0
	}
	return m.ranges[0].start
}

// offsetOf converts an address to the coordinate space of the module's
// symbol table: shared objects record load-base-relative values, everything
// else absolute ones. Valid only after loadSymTable settled the type.
func (m *module) offsetOf(addr uint64) uint64 {
	if m.typ == typeSO {
		return addr - m.start()
	}
	return addr
}

// loadSymTable populates the symbol table on first use. The loaded flag is
// set up front: whatever the outcome, there is no second attempt.
func (m *module) loadSymTable() {
	if m.loaded {
		return
	}
	m.loaded = true

	if m.typ == typePerfMap {
		m.loadPerfMap()
		return
	}

	// The module may only be reachable inside the target's mount namespace
	// (containerized process). Same-namespace targets fail Enter and are
	// read directly.
	guard, err := mountns.Enter(m.pid)
	if err == nil {
		defer guard.Exit()
	} else if !errors.Is(err, mountns.ErrSameNamespace) {
		m.log.Debug("mount namespace switch unavailable",
			"module", m.name, "pid", m.pid, "error", err)
	}

	syms, kind, err := elfsyms.Load(m.name)
	if err != nil {
		m.log.Debug("symbol table load failed", "module", m.name, "error", err)
		return
	}

	// A PIE executable is ET_DYN: its symbols are base-relative like a
	// shared object's even when the path does not look like one.
	switch kind {
	case elfsyms.KindShared:
		m.typ = typeSO
	case elfsyms.KindExec:
		m.typ = typeExec
	}

	m.syms = make([]msym, 0, len(syms))
	m.names = make(map[string]struct{}, len(syms))
	for _, s := range syms {
		name := m.opts.demangleName(s.Name)
		m.syms = append(m.syms, msym{name: name, start: s.Start, size: s.Size})
		m.names[name] = struct{}{}
	}
	sort.Slice(m.syms, func(i, j int) bool { return m.syms[i].start < m.syms[j].start })
}

func (m *module) loadPerfMap() {
	syms, err := perfmap.ParseFile(m.name)
	if err != nil {
		m.log.Debug("perf map load failed", "module", m.name, "error", err)
		return
	}

	m.syms = make([]msym, 0, len(syms))
	m.names = make(map[string]struct{}, len(syms))
	for _, s := range syms {
		m.syms = append(m.syms, msym{name: s.Name, start: s.Start, size: s.Size})
		m.names[s.Name] = struct{}{}
	}
}

// findAddr performs the nearest-enclosing lookup over the module's symbols:
// greatest start not exceeding offset, no upper bound.
func (m *module) findAddr(offset uint64) (msym, bool) {
	m.loadSymTable()
	if len(m.syms) == 0 {
		return msym{}, false
	}

	idx := sort.Search(len(m.syms), func(i int) bool { return m.syms[i].start > offset })
	if idx == 0 {
		return msym{}, false
	}
	return m.syms[idx-1], true
}

// findName returns the table-space address of an exact symbol name. The name
// set answers the existence check; the slice scan recovers the entry.
func (m *module) findName(name string) (uint64, bool) {
	m.loadSymTable()
	if _, ok := m.names[name]; !ok {
		return 0, false
	}
	for i := range m.syms {
		if m.syms[i].name == name {
			return m.syms[i].start, true
		}
	}
	return 0, false
}
