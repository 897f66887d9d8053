// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

package ldcache

import (
	"bytes"
	"encoding/binary"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nativeFlags yields entry flags that matchFlags accepts on the platform the
// test runs on.
func nativeFlags() int32 {
	if bits.UintSize == 64 {
		return typeELFLibc6 | abiX8664Lib64
	}
	return typeELFLibc6
}

func buildLegacy(entries []Entry) []byte {
	var strtab bytes.Buffer
	offsets := make([][2]uint32, len(entries))
	for i, e := range entries {
		offsets[i][0] = uint32(strtab.Len())
		strtab.WriteString(e.Name)
		strtab.WriteByte(0)
		offsets[i][1] = uint32(strtab.Len())
		strtab.WriteString(e.Path)
		strtab.WriteByte(0)
	}

	buf := make([]byte, legacyHeaderSize+len(entries)*legacyEntrySize)
	copy(buf, legacyMagic)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(entries)))
	for i, e := range entries {
		rec := buf[legacyHeaderSize+i*legacyEntrySize:]
		binary.LittleEndian.PutUint32(rec, uint32(e.Flags))
		binary.LittleEndian.PutUint32(rec[4:], offsets[i][0])
		binary.LittleEndian.PutUint32(rec[8:], offsets[i][1])
	}
	return append(buf, strtab.Bytes()...)
}

func buildNew(entries []Entry) []byte {
	// String offsets are relative to the region base, so lay the table out
	// after the fixed-size records first.
	strBase := newHeaderSize + len(entries)*newEntrySize
	var strtab bytes.Buffer
	offsets := make([][2]uint32, len(entries))
	for i, e := range entries {
		offsets[i][0] = uint32(strBase + strtab.Len())
		strtab.WriteString(e.Name)
		strtab.WriteByte(0)
		offsets[i][1] = uint32(strBase + strtab.Len())
		strtab.WriteString(e.Path)
		strtab.WriteByte(0)
	}

	buf := make([]byte, strBase)
	copy(buf, newMagic)
	binary.LittleEndian.PutUint32(buf[20:], uint32(len(entries)))
	binary.LittleEndian.PutUint32(buf[24:], uint32(strtab.Len()))
	for i, e := range entries {
		rec := buf[newHeaderSize+i*newEntrySize:]
		binary.LittleEndian.PutUint32(rec, uint32(e.Flags))
		binary.LittleEndian.PutUint32(rec[4:], offsets[i][0])
		binary.LittleEndian.PutUint32(rec[8:], offsets[i][1])
	}
	return append(buf, strtab.Bytes()...)
}

func testEntries() []Entry {
	return []Entry{
		{Name: "libc.so.6", Path: "/lib/x86_64-linux-gnu/libc.so.6", Flags: nativeFlags()},
		{Name: "libpthread.so.0", Path: "/lib/x86_64-linux-gnu/libpthread.so.0", Flags: nativeFlags()},
		{Name: "libm.so.6", Path: "/lib32/libm.so.6", Flags: typeELFLibc6},
	}
}

// legacyEntries is small enough that the whole file fits within the aligned
// legacy region plus a new-format header; anything bigger is treated as a
// combined file.
func legacyEntries() []Entry {
	return []Entry{
		{Name: "libc.so.6", Path: "/lib/libc.so.6", Flags: nativeFlags()},
		{Name: "libm.so", Path: "/lib/libm.so.6", Flags: nativeFlags()},
	}
}

func TestParseLegacyFormat(t *testing.T) {
	want := legacyEntries()
	got, err := Parse(buildLegacy(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseNewFormat(t *testing.T) {
	want := testEntries()
	got, err := Parse(buildNew(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// Both layouts must decode to the same logical table.
func TestParseFormatsAgree(t *testing.T) {
	want := legacyEntries()

	legacy, err := Parse(buildLegacy(want))
	require.NoError(t, err)
	current, err := Parse(buildNew(want))
	require.NoError(t, err)

	assert.Equal(t, legacy, current)
}

// Modern ldconfig appends a new-format region after the legacy one; the
// new-format region wins.
func TestParseCombinedFormat(t *testing.T) {
	want := testEntries()

	// In a combined file the legacy region holds only the header and records;
	// the new-format region starts at the next 8-byte boundary and both entry
	// sets share its string table.
	buf := make([]byte, legacyHeaderSize+legacyEntrySize)
	copy(buf, legacyMagic)
	binary.LittleEndian.PutUint32(buf[12:], 1)
	for len(buf)%8 != 0 {
		buf = append(buf, 0)
	}
	buf = append(buf, buildNew(want)...)

	got, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{name: "empty", buf: nil},
		{name: "short header", buf: []byte("ld.so")},
		{name: "unknown magic", buf: bytes.Repeat([]byte{0xab}, 64)},
		{name: "truncated legacy entries", buf: buildLegacy(legacyEntries())[:20]},
		{name: "truncated new entries", buf: buildNew(testEntries())[:newHeaderSize+4]},
		{
			name: "legacy string offset out of range",
			buf: func() []byte {
				buf := buildLegacy(legacyEntries())
				binary.LittleEndian.PutUint32(buf[legacyHeaderSize+4:], 0xffffff)
				return buf
			}(),
		},
		{
			// The size says a new-format region follows the legacy records,
			// but its signature does not check out; the load must fail rather
			// than fall back to a legacy read.
			name: "combined region with bad signature",
			buf: func() []byte {
				buf := make([]byte, legacyHeaderSize+legacyEntrySize)
				copy(buf, legacyMagic)
				binary.LittleEndian.PutUint32(buf[12:], 1)
				for len(buf)%8 != 0 {
					buf = append(buf, 0)
				}
				return append(buf, bytes.Repeat([]byte{0xcd}, 72)...)
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.buf)
			assert.ErrorIs(t, err, errMalformed)
		})
	}
}

func TestMatchFlags(t *testing.T) {
	is64 := bits.UintSize == 64

	assert.Equal(t, !is64, matchFlags(typeELFLibc6))
	assert.Equal(t, is64, matchFlags(typeELFLibc6|abiX8664Lib64))
	assert.Equal(t, is64, matchFlags(typeELFLibc6|abiS390Lib64))
	assert.False(t, matchFlags(0))
	assert.False(t, matchFlags(0x0001))
	assert.False(t, matchFlags(0x0001|abiX8664Lib64))
}

func TestLookup(t *testing.T) {
	table := []Entry{
		{Name: "libcrypto.so.3", Path: "/lib/libcrypto.so.3", Flags: nativeFlags()},
		{Name: "libc.so.6", Path: "/lib/libc.so.6", Flags: nativeFlags()},
		{Name: "libssl.so.3", Path: "/lib/libssl.so.3", Flags: 0},
	}

	// "c" must match libc.so.6, not the libcrypto entry listed first.
	assert.Equal(t, "/lib/libc.so.6", Lookup(table, "c"))
	assert.Equal(t, "/lib/libcrypto.so.3", Lookup(table, "crypto"))

	// Incompatible flags exclude an otherwise matching entry.
	assert.Empty(t, Lookup(table, "ssl"))
	assert.Empty(t, Lookup(table, "absent"))
}
