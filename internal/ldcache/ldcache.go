// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

// Package ldcache parses the dynamic linker's library cache
// (/etc/ld.so.cache) into an in-process name → path table. The table is
// loaded at most once per process lifetime; a failed load permanently
// disables cache-backed lookups rather than retrying on every call.
package ldcache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/sys/unix"
)

// Entry is one library record copied out of the mapped cache file. The
// strings are owned copies; the mapping itself is unmapped after parsing.
type Entry struct {
	Name  string
	Path  string
	Flags int32
}

const (
	cachePath = "/etc/ld.so.cache"

	// Legacy format: header magic, entry count at byte 12, 12-byte entries,
	// then a flat string table the entry offsets index into.
	legacyMagic      = "ld.so-1.7.0"
	legacyHeaderSize = 16
	legacyEntrySize  = 12

	// New format: header magic + "1.1" version, entry count at byte 20,
	// string-table length at byte 24, 24-byte entries starting at byte 48.
	// String offsets are relative to the start of the new-format region.
	newMagic      = "glibc-ld.so.cache"
	newHeaderSize = 48
	newEntrySize  = 24
)

// Library type and ABI bits carried in Entry.Flags.
const (
	flagTypeMask = 0x00ff
	typeELFLibc6 = 0x0003

	flagABIMask     = 0xff00
	abiSparcLib64   = 0x0100
	abiIA64Lib64    = 0x0200
	abiX8664Lib64   = 0x0300
	abiS390Lib64    = 0x0400
	abiPowerPCLib64 = 0x0500
)

var errMalformed = errors.New("malformed ld.so.cache")

const (
	stateUnloaded = iota
	stateLoaded
	stateFailed
)

var (
	mu      sync.RWMutex
	state   int
	entries []Entry
	loadSF  singleflight.Group
)

// Parse decodes a complete cache file image. Both on-disk layouts are
// recognized: a file starting with the legacy magic holds either legacy
// entries alone or, when the remaining bytes after the aligned legacy region
// still fit a new-format header, a new-format region appended for
// compatibility. The size arithmetic alone selects the combined path; a bad
// signature where the new-format header belongs fails the load.
func Parse(buf []byte) ([]Entry, error) {
	if len(buf) < legacyHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", errMalformed, len(buf))
	}

	if !bytes.HasPrefix(buf, []byte(legacyMagic)) {
		return parseNew(buf)
	}

	count := binary.LittleEndian.Uint32(buf[12:16])
	legacyLen := legacyHeaderSize + int(count)*legacyEntrySize
	alignedLen := (legacyLen + 7) &^ 7

	if len(buf) > alignedLen+newHeaderSize {
		return parseNew(buf[alignedLen:])
	}
	return parseLegacy(buf, count, legacyLen)
}

func parseLegacy(buf []byte, count uint32, stringsOff int) ([]Entry, error) {
	if stringsOff > len(buf) {
		return nil, fmt.Errorf("%w: truncated legacy entries", errMalformed)
	}

	strtab := buf[stringsOff:]
	out := make([]Entry, 0, count)
	for i := 0; i < int(count); i++ {
		rec := buf[legacyHeaderSize+i*legacyEntrySize:]
		flags := int32(binary.LittleEndian.Uint32(rec))
		key := binary.LittleEndian.Uint32(rec[4:])
		val := binary.LittleEndian.Uint32(rec[8:])

		name, ok1 := cstring(strtab, key)
		path, ok2 := cstring(strtab, val)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: legacy string offset out of range", errMalformed)
		}
		out = append(out, Entry{Name: name, Path: path, Flags: flags})
	}
	return out, nil
}

func parseNew(buf []byte) ([]Entry, error) {
	if len(buf) < newHeaderSize {
		return nil, fmt.Errorf("%w: short new-format header", errMalformed)
	}
	if !bytes.HasPrefix(buf, []byte(newMagic)) {
		return nil, fmt.Errorf("%w: bad new-format magic", errMalformed)
	}

	count := binary.LittleEndian.Uint32(buf[20:24])
	if newHeaderSize+int(count)*newEntrySize > len(buf) {
		return nil, fmt.Errorf("%w: truncated new-format entries", errMalformed)
	}

	out := make([]Entry, 0, count)
	for i := 0; i < int(count); i++ {
		rec := buf[newHeaderSize+i*newEntrySize:]
		flags := int32(binary.LittleEndian.Uint32(rec))
		key := binary.LittleEndian.Uint32(rec[4:])
		val := binary.LittleEndian.Uint32(rec[8:])

		// Offsets are relative to the new-format region base.
		name, ok1 := cstring(buf, key)
		path, ok2 := cstring(buf, val)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: new-format string offset out of range", errMalformed)
		}
		out = append(out, Entry{Name: name, Path: path, Flags: flags})
	}
	return out, nil
}

// cstring copies the NUL-terminated string at off.
func cstring(buf []byte, off uint32) (string, bool) {
	if int64(off) >= int64(len(buf)) {
		return "", false
	}
	end := bytes.IndexByte(buf[off:], 0)
	if end < 0 {
		return "", false
	}
	return string(buf[off : int(off)+end]), true
}

// matchFlags reports whether an entry's type and ABI bits are usable by the
// current process: ELF libc6 type, with the 64-bit ABI variants accepted only
// on a 64-bit build.
func matchFlags(flags int32) bool {
	if flags&flagTypeMask != typeELFLibc6 {
		return false
	}

	switch flags & flagABIMask {
	case abiSparcLib64, abiIA64Lib64, abiX8664Lib64, abiS390Lib64, abiPowerPCLib64:
		return bits.UintSize == 64
	}
	return bits.UintSize == 32
}

// Lookup finds the first entry matching lib<name>.so with compatible flags
// and returns its path, or "".
func Lookup(table []Entry, libname string) string {
	soname := "lib" + libname + ".so"
	for i := range table {
		if strings.HasPrefix(table[i].Name, soname) && matchFlags(table[i].Flags) {
			return table[i].Path
		}
	}
	return ""
}

// Resolve looks a short library name up in the system cache, loading the
// cache on first use. Returns "" when the cache is unavailable or holds no
// compatible entry.
func Resolve(libname string) string {
	table := load()
	if table == nil {
		return ""
	}
	return Lookup(table, libname)
}

// load returns the process-wide table, performing the one-time load on first
// call. Concurrent first calls are collapsed; once the state is decided it
// never changes.
func load() []Entry {
	mu.RLock()
	s, table := state, entries
	mu.RUnlock()
	if s != stateUnloaded {
		return table
	}

	res, _, _ := loadSF.Do(cachePath, func() (interface{}, error) {
		parsed, err := readCacheFile(cachePath)

		mu.Lock()
		defer mu.Unlock()
		if state == stateUnloaded {
			if err != nil {
				state = stateFailed
			} else {
				state = stateLoaded
				entries = parsed
			}
		}
		return entries, nil
	})
	table, _ = res.([]Entry)
	return table
}

// readCacheFile maps the cache read-only, parses it, and unmaps before
// returning. All returned strings are copies.
func readCacheFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < legacyHeaderSize {
		return nil, fmt.Errorf("%w: file too small", errMalformed)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	defer func() { _ = unix.Munmap(data) }()

	return Parse(data)
}
