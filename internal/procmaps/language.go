// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

package procmaps

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// Language markers probed in order. The first match wins, both for the
// executable path and for library mappings.
var languages = []string{"java", "python", "ruby", "php", "node"}

// DetectLanguage guesses the implementation language of a process. It first
// inspects the real path of the executable, then falls back to scanning the
// process's library mappings for /lib<language> markers. A process that maps
// a C runtime but no language-specific library is reported as "c". Returns ""
// when nothing matches; false negatives are expected, callers must treat the
// result as a hint only.
func DetectLanguage(pid int) string {
	if proc, err := procfs.NewProc(pid); err == nil {
		if exe, err := proc.Executable(); err == nil {
			for _, lang := range languages {
				if strings.Contains(exe, lang) {
					return lang
				}
			}
		}
	}

	f, err := os.Open("/proc/" + strconv.Itoa(pid) + "/maps")
	if err != nil {
		return ""
	}
	defer f.Close()

	return languageFromMappings(f)
}

// languageFromMappings scans maps lines for language runtime libraries and,
// independently, for a C runtime mapping used as the native fallback.
func languageFromMappings(r io.Reader) string {
	libc := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), " ", 6)
		if len(fields) < 6 {
			continue
		}
		path := strings.TrimLeft(fields[5], " \t")

		for _, lang := range languages {
			if strings.Contains(path, "/lib"+lang) {
				return lang
			}
		}

		// "libc-2.31.so" or "libc.so.6", but not "libcrypto".
		if idx := strings.Index(path, "libc"); idx >= 0 && idx+4 < len(path) {
			if c := path[idx+4]; c == '-' || c == '.' {
				libc = true
			}
		}
	}

	if libc {
		return "c"
	}
	return ""
}
