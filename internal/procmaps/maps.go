// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

// Package procmaps enumerates the executable, file-backed memory mappings of
// a process and provides the library/executable path lookups the rest of the
// engine builds on.
package procmaps

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/platformbuilds/symtrace/internal/perfmap"
)

// Mapping is a single executable, file-backed region of a process's address
// space as reported by /proc/<pid>/maps.
type Mapping struct {
	Path  string
	Start uint64
	End   uint64
}

// ModuleFunc is invoked once per retained mapping. Returning false stops the
// enumeration early; that is not treated as an error.
type ModuleFunc func(path string, start, end uint64) bool

// Pseudo-paths that are never backed by a loadable object. Mappings whose
// path begins with one of these are skipped.
var nonFileBackedPrefixes = []string{
	"//anon",
	"/dev/zero",
	"/anon_hugepage",
	"[stack",
	"/SYSV",
	"[heap]",
}

// isFileBacked reports whether a maps pathname refers to an on-disk object.
func isFileBacked(path string) bool {
	if path == "" {
		return false
	}
	for _, prefix := range nonFileBackedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// ParseMapping parses one /proc/<pid>/maps line. It returns false when the
// line is malformed or describes a mapping the symbolizer has no use for:
// non-executable regions and anonymous or pseudo-file regions.
func ParseMapping(line string) (Mapping, bool) {
	// start-end perms offset dev inode [whitespace] path
	fields := strings.SplitN(line, " ", 6)
	if len(fields) < 5 {
		return Mapping{}, false
	}

	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return Mapping{}, false
	}
	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return Mapping{}, false
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return Mapping{}, false
	}

	if !strings.Contains(fields[1], "x") {
		return Mapping{}, false
	}

	var path string
	if len(fields) == 6 {
		path = strings.TrimLeft(fields[5], " \t")
	}
	if !isFileBacked(path) {
		return Mapping{}, false
	}

	return Mapping{Path: path, Start: start, End: end}, true
}

// EachModule reads the memory-map listing of pid and invokes cb for every
// executable, file-backed mapping. After the listing is exhausted it invokes
// cb once more with the process's perf-map path and a whole-address-space
// range, so addresses not covered by any file-backed mapping still have a
// last-resort symbol source.
func EachModule(pid int, cb ModuleFunc) error {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return fmt.Errorf("open maps for pid %d: %w", pid, err)
	}
	defer f.Close()

	enumerate(f, perfmap.Path(pid), cb)
	return nil
}

// enumerate drives cb over the parsed listing plus the synthetic perf-map
// fallback entry. A false return from cb only aborts the listing walk; the
// fallback entry is still delivered.
func enumerate(r io.Reader, perfMapPath string, cb ModuleFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m, ok := ParseMapping(scanner.Text())
		if !ok {
			continue
		}
		if !cb(m.Path, m.Start, m.End) {
			break
		}
	}

	if perfMapPath != "" {
		cb(perfMapPath, 0, math.MaxUint64)
	}
}
