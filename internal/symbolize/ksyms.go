// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

package symbolize

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const kernelModule = "[kernel]"

// KernelSymbols resolves kernel addresses against /proc/kallsyms. The table
// is sorted by address for nearest-enclosing lookup and carries a name index
// for exact-match reverse lookup.
type KernelSymbols struct {
	log  *slog.Logger
	path string

	mu    sync.RWMutex
	syms  []ksym
	names map[string]uint64
}

type ksym struct {
	addr uint64
	name string
}

// NewKernelSymbols creates an empty kernel resolver. The table is populated
// on the first Refresh; an unprivileged process keeps an empty table and all
// lookups miss.
func NewKernelSymbols(log *slog.Logger) *KernelSymbols {
	return &KernelSymbols{
		log:  log.With("component", "kernel_symbols"),
		path: "/proc/kallsyms",
	}
}

// Refresh fully reparses the kernel symbol listing, replacing any prior
// table. Kernel symbol addresses are zeroed for unprivileged readers, so
// without root the load is refused outright.
func (k *KernelSymbols) Refresh() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("reading %s requires root", k.path)
	}
	return k.load()
}

func (k *KernelSymbols) load() error {
	f, err := os.Open(k.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", k.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	// The first line of the listing is a header.
	scanner.Scan()

	var syms []ksym
	names := make(map[string]uint64)
	for scanner.Scan() {
		// address type name [module]
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			continue
		}
		syms = append(syms, ksym{addr: addr, name: fields[2]})
		names[fields[2]] = addr
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", k.path, err)
	}

	sort.Slice(syms, func(i, j int) bool { return syms[i].addr < syms[j].addr })

	k.mu.Lock()
	k.syms = syms
	k.names = names
	k.mu.Unlock()

	k.log.Debug("kernel symbol table refreshed", "count", len(syms))
	return nil
}

// ResolveAddr returns the symbol with the greatest start address not
// exceeding addr. There is no upper bound: an address past the last symbol
// still resolves to it. Addresses below the first symbol miss.
func (k *KernelSymbols) ResolveAddr(addr uint64) (Symbol, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if len(k.syms) == 0 {
		return Symbol{}, false
	}

	idx := sort.Search(len(k.syms), func(i int) bool { return k.syms[i].addr > addr })
	if idx == 0 {
		return Symbol{}, false
	}

	sym := k.syms[idx-1]
	return Symbol{Module: kernelModule, Name: sym.name, Offset: addr - sym.addr}, true
}

// ResolveName looks up an exact symbol name. The module argument is ignored;
// the kernel is one namespace.
func (k *KernelSymbols) ResolveName(_, name string) (uint64, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	addr, ok := k.names[name]
	return addr, ok
}

// Count returns the number of loaded symbols.
func (k *KernelSymbols) Count() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.syms)
}
