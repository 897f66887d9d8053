// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

// Package perfmap locates and parses the per-process perf-map files that
// managed runtimes (JVMs, V8, ...) emit for their JIT-compiled code. They are
// the symbol source of last resort for addresses no file-backed mapping
// covers.
package perfmap

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// Symbol is one JIT symbol from a perf-map file.
type Symbol struct {
	Start uint64
	Size  uint64
	Name  string
}

// Path returns the perf-map path for pid. The convention is
// /tmp/perf-<pid>.map, but a process in another mount namespace writes the
// file under its own /tmp with its namespace-local pid, so for such targets
// the path goes through /proc/<pid>/root and uses the innermost NSpid.
func Path(pid int) string {
	direct := "/tmp/perf-" + strconv.Itoa(pid) + ".map"

	proc, err := procfs.NewProc(pid)
	if err != nil {
		return direct
	}
	status, err := proc.NewStatus()
	if err != nil || len(status.NSpids) < 2 {
		// Single entry means the target shares our pid namespace.
		return direct
	}

	nspid := status.NSpids[len(status.NSpids)-1]
	return "/proc/" + strconv.Itoa(pid) + "/root/tmp/perf-" +
		strconv.FormatUint(nspid, 10) + ".map"
}

// IsPerfMap reports whether a module path names a perf-map file.
func IsPerfMap(path string) bool {
	return strings.HasSuffix(path, ".map")
}

// ParseFile reads and parses a perf-map file, returning its symbols sorted by
// start address.
func ParseFile(path string) ([]Symbol, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}

// Parse parses perf-map content. Lines are "<hex start> <hex size> <name>";
// malformed lines are skipped.
func Parse(r io.Reader) ([]Symbol, error) {
	var syms []Symbol

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		sym, ok := parseLine(scanner.Text())
		if ok {
			syms = append(syms, sym)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.Slice(syms, func(i, j int) bool { return syms[i].Start < syms[j].Start })
	return syms, nil
}

func parseLine(line string) (Symbol, bool) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 || parts[2] == "" {
		return Symbol{}, false
	}

	start, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return Symbol{}, false
	}
	size, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return Symbol{}, false
	}

	return Symbol{Start: start, Size: size, Name: parts[2]}, true
}
