// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

// Package symbolize resolves raw instruction addresses captured during
// tracing to module + offset + name, and names back to addresses for probe
// placement. It holds one symbol cache per traced process plus one for the
// kernel, rebuilding them lazily from live OS state.
package symbolize

import (
	"log/slog"

	"github.com/ianlancetaylor/demangle"
)

// Symbol is the result of an address resolution: the symbol source (module
// path or "[kernel]"), the resolved name, and the byte offset of the queried
// address past the symbol start. On a miss the Module and Offset fields may
// still be populated so callers can annotate unresolved frames.
type Symbol struct {
	Module string
	Name   string
	Offset uint64
}

// DemangleType selects how much of a mangled C++/Rust name is rendered.
type DemangleType string

const (
	DemangleNone       DemangleType = "none"
	DemangleSimplified DemangleType = "simplified"
	DemangleTemplates  DemangleType = "templates"
	DemangleFull       DemangleType = "full"
)

// Options tunes per-process resolution. The zero value means full demangling.
type Options struct {
	Demangle DemangleType
}

func (o Options) demangleOptions() []demangle.Option {
	switch o.Demangle {
	case DemangleNone:
		return nil
	case DemangleSimplified:
		return []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams, demangle.NoTemplateParams}
	case DemangleTemplates:
		return []demangle.Option{demangle.NoParams, demangle.NoEnclosingParams}
	default:
		return []demangle.Option{demangle.NoClones}
	}
}

// demangleName renders name according to the options. Unmangled names pass
// through untouched.
func (o Options) demangleName(name string) string {
	opts := o.demangleOptions()
	if opts == nil {
		return name
	}
	return demangle.Filter(name, opts...)
}

// Resolver is the capability shared by the kernel-backed and process-backed
// symbol caches. Implementations are not safe for concurrent use; callers
// serialize access per instance.
type Resolver interface {
	// Refresh re-synchronizes the cache with current OS state. For a process
	// cache this is a no-op while the process identity is unchanged.
	Refresh() error

	// ResolveAddr maps an address to the nearest enclosing symbol. When no
	// symbol matches, the returned Symbol may still carry the module and the
	// module-relative offset.
	ResolveAddr(addr uint64) (Symbol, bool)

	// ResolveName maps an exact symbol name to its address. module narrows
	// the search for process caches and is ignored by the kernel cache.
	ResolveName(module, name string) (uint64, bool)
}

// New returns a kernel resolver for pid < 0 and a process resolver
// otherwise.
func New(pid int, opts Options, log *slog.Logger) Resolver {
	if pid < 0 {
		return NewKernelSymbols(log)
	}
	return NewProcessSymbols(pid, opts, log)
}
