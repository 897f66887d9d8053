// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

package procmaps

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/platformbuilds/symtrace/internal/ldcache"
)

// Which locates an executable by name the way the shell would: a name
// containing a path separator is used as-is, anything else is searched for
// along $PATH. Returns "" when no regular executable file matches.
func Which(binpath string) string {
	if strings.Contains(binpath, "/") {
		if isExecutable(binpath) {
			return binpath
		}
		return ""
	}

	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, binpath)
		if isExecutable(candidate) {
			return candidate
		}
	}
	return ""
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// WhichLibrary resolves a short library name ("c", "pthread") to an absolute
// shared-object path. Resolution order: a name that already carries a path
// separator is returned unchanged; next the target process's own mappings are
// scanned, which catches libraries only visible through the process's
// namespace or search path as well as versioned names the linker cache does
// not index; finally the system-wide linker cache is consulted. Returns ""
// when nothing matches — a missing library is not an error.
func WhichLibrary(libname string, pid int) string {
	if strings.Contains(libname, "/") {
		return libname
	}

	if pid != 0 {
		if path := soInProcess(libname, pid); path != "" {
			return path
		}
	}

	return ldcache.Resolve(libname)
}

// soInProcess scans a process's live mappings for a shared object matching
// /lib<name>. or /lib<name>- with a .so component. All mappings are
// considered here, not only executable ones, since data segments of a
// library carry the same pathname.
func soInProcess(libname string, pid int) string {
	f, err := os.Open("/proc/" + strconv.Itoa(pid) + "/maps")
	if err != nil {
		return ""
	}
	defer f.Close()

	return scanForLibrary(f, libname)
}

func scanForLibrary(r io.Reader, libname string) string {
	search1 := "/lib" + libname + "."
	search2 := "/lib" + libname + "-"

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), " ", 6)
		if len(fields) < 6 {
			continue
		}
		path := strings.TrimLeft(fields[5], " \t")
		if !strings.Contains(path, ".so") {
			continue
		}
		if strings.Contains(path, search1) || strings.Contains(path, search2) {
			return path
		}
	}
	return ""
}
