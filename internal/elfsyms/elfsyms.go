// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

// Package elfsyms extracts function symbol entries from ELF objects. It is a
// deliberately thin capability: given a path it yields name/start/size
// triples from both the regular and the dynamic symbol tables, leaving
// address-space placement and lookup policy to the caller.
package elfsyms

import (
	"debug/elf"
	"fmt"
)

// Symbol is one function symbol read from an ELF file. Start is the symbol's
// link-time virtual address; Size is 0 when the object does not record one.
type Symbol struct {
	Name  string
	Start uint64
	Size  uint64
}

// Kind describes the object type of an ELF file.
type Kind int

const (
	KindUnknown Kind = iota
	KindExec         // ET_EXEC, symbols carry absolute addresses
	KindShared       // ET_DYN, symbols are relative to the load base
)

// Load opens an ELF object and collects its function symbols. Objects
// stripped of both symbol tables yield an empty slice and no error; only a
// file that cannot be opened or is not ELF at all fails.
func Load(path string) ([]Symbol, Kind, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, KindUnknown, fmt.Errorf("open elf %s: %w", path, err)
	}
	defer f.Close()

	kind := KindUnknown
	switch f.Type {
	case elf.ET_EXEC:
		kind = KindExec
	case elf.ET_DYN:
		kind = KindShared
	}

	var out []Symbol
	collect := func(syms []elf.Symbol) {
		for _, sym := range syms {
			if sym.Name == "" || sym.Value == 0 {
				continue
			}
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
				continue
			}
			out = append(out, Symbol{Name: sym.Name, Start: sym.Value, Size: sym.Size})
		}
	}

	// A stripped binary often keeps .dynsym even when .symtab is gone, so
	// both tables are read. ErrNoSymbols is routine, not a failure.
	if syms, err := f.Symbols(); err == nil {
		collect(syms)
	}
	if dynsyms, err := f.DynamicSymbols(); err == nil {
		collect(dynsyms)
	}

	return out, kind, nil
}
