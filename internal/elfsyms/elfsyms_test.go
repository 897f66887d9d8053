// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

package elfsyms

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRejectsNonELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-elf")
	require.NoError(t, os.WriteFile(path, []byte("just text\n"), 0o644))

	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestLoadOwnBinary(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	syms, kind, err := Load(exe)
	require.NoError(t, err)

	// The test binary is an unstripped Go executable, either ET_EXEC or (in
	// PIE builds) ET_DYN.
	assert.NotEqual(t, KindUnknown, kind)
	require.NotEmpty(t, syms)
	for _, s := range syms {
		assert.NotEmpty(t, s.Name)
		assert.NotZero(t, s.Start)
	}
}
