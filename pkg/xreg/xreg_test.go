package xreg

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEntry struct {
	path string
	typ  ValueType
	raw  []byte
}

// buildRegistry lays out a full size registry image holding entries followed
// by the empty key sentinel.
func buildRegistry(t *testing.T, entries []testEntry) []byte {
	t.Helper()

	data := make([]byte, HeaderSize+KeyRegionSize+ValueRegionSize)
	copy(data[0:4], Mark[:])
	copy(data[4:12], []byte{0, 0, 0, 1, 0, 0, 0, 2})
	copy(data[12:16], Mark[:])

	keys := data[keyRegionOffset : keyRegionOffset+KeyRegionSize]
	values := data[valueRegionOffset:]

	keyOff, valueOff := 0, 0
	putKey := func(name string) uint16 {
		off := keyOff
		binary.BigEndian.PutUint16(keys[off+2:], uint16(len(name)))
		keys[off+4] = 0x0a
		copy(keys[off+5:], name)
		keyOff += 5 + len(name) + 1
		return uint16(off)
	}
	putValue := func(keyOffset uint16, typ ValueType, raw []byte) {
		rec := values[valueOff:]
		binary.BigEndian.PutUint16(rec[2:], keyOffset)
		binary.BigEndian.PutUint16(rec[6:], uint16(len(raw)))
		rec[8] = byte(typ)
		copy(rec[9:], raw)
		valueOff += 9 + len(raw) + 1
	}

	// first key sits at offset 0 so a zeroed value record would resolve to it
	offsets := make([]uint16, len(entries))
	for i, e := range entries {
		offsets[i] = putKey(e.path)
	}
	sentinel := putKey("")
	for i, e := range entries {
		putValue(offsets[i], e.typ, e.raw)
	}
	putValue(sentinel, TypeBool, []byte{0})

	return data
}

func sampleEntries() []testEntry {
	return []testEntry{
		{"/setting/user/00000001/npaccount/accountid", TypeString, []byte("0123456789abcdef\x00\x00\x00\x00")},
		{"/setting/user/00000001/npaccount/loginid", TypeString, []byte("someone@example.com\x00")},
		{"/setting/user/00000001/trophy/enabled", TypeBool, []byte{1}},
		{"/setting/user/lastLoginUserId", TypeInteger, []byte{0, 0, 0, 1}},
	}
}

func TestParse(t *testing.T) {
	r, err := Parse(buildRegistry(t, sampleEntries()))
	require.NoError(t, err)

	require.Len(t, r.Entries(), 4)
	assert.Equal(t, Mark, r.Header.StartMark)
	assert.Equal(t, Mark, r.Header.EndMark)
	assert.Equal(t, [4]byte{0, 0, 0, 2}, r.Header.Unknown2)

	e, err := r.Get("/setting/user/lastLoginUserId")
	require.NoError(t, err)
	assert.Equal(t, TypeInteger, e.Value.Type)
	assert.Equal(t, "/setting/user/lastLoginUserId", e.Path())
	assert.Equal(t, uint8(0x0a), e.Key.Type)

	first := r.Entries()[0]
	assert.Equal(t, 0, first.Value.Offset)
	assert.Equal(t, 9+20+1, r.Entries()[1].Value.Offset)

	_, err = r.Get("/setting/user/00000002")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		value   Value
		want    any
		wantErr bool
	}{
		{"bool true", Value{Type: TypeBool, Raw: []byte{1}}, true, false},
		{"bool false", Value{Type: TypeBool, Raw: []byte{0}}, false, false},
		{"bool wide zero", Value{Type: TypeBool, Raw: []byte{0, 0, 0, 0}}, false, false},
		{"bool wide set", Value{Type: TypeBool, Raw: []byte{0, 0, 1, 0}}, true, false},
		{"int", Value{Type: TypeInteger, Raw: []byte{0, 0, 0x01, 0x00}}, uint64(256), false},
		{"int too wide", Value{Type: TypeInteger, Raw: make([]byte, 9)}, nil, true},
		{"string", Value{Type: TypeString, Raw: []byte("\x00abc\x00\x00")}, "abc", false},
		{"unknown", Value{Type: 7, Raw: []byte{1}}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.value.Decode()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHierarchy(t *testing.T) {
	r, err := Parse(buildRegistry(t, []testEntry{
		{"a/b", TypeInteger, []byte{1}},
		{"a/c", TypeInteger, []byte{2}},
	}))
	require.NoError(t, err)

	h, err := r.Hierarchy()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a": map[string]any{"b": uint64(1), "c": uint64(2)},
	}, h)
}

func TestHierarchyNested(t *testing.T) {
	r, err := Parse(buildRegistry(t, sampleEntries()))
	require.NoError(t, err)

	h, err := r.Hierarchy()
	require.NoError(t, err)

	user := h["setting"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, uint64(1), user["lastLoginUserId"])
	account := user["00000001"].(map[string]any)["npaccount"].(map[string]any)
	assert.Equal(t, "0123456789abcdef", account["accountid"])
	assert.Equal(t, true, user["00000001"].(map[string]any)["trophy"].(map[string]any)["enabled"])
}

func TestHierarchyConflict(t *testing.T) {
	tests := []struct {
		name    string
		entries []testEntry
	}{
		{"leaf then subtree", []testEntry{
			{"a", TypeInteger, []byte{1}},
			{"a/b", TypeInteger, []byte{2}},
		}},
		{"subtree then leaf", []testEntry{
			{"a/b", TypeInteger, []byte{2}},
			{"a", TypeInteger, []byte{1}},
		}},
		{"deep", []testEntry{
			{"/x/y", TypeBool, []byte{1}},
			{"/x/y/z/w", TypeBool, []byte{1}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Parse(buildRegistry(t, tt.entries))
			require.NoError(t, err)
			_, err = r.Hierarchy()
			assert.ErrorIs(t, err, ErrPathConflict)
		})
	}
}

func TestParseErrors(t *testing.T) {
	valid := buildRegistry(t, sampleEntries())

	noStart := append([]byte(nil), valid...)
	noStart[0] = 0

	noEnd := append([]byte(nil), valid...)
	noEnd[15] = 0

	badType := buildRegistry(t, []testEntry{{"a", 3, []byte{1}}})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", valid[:8]},
		{"missing start marker", noStart},
		{"missing end marker", noEnd},
		{"no value region", valid[:valueRegionOffset]},
		{"truncated before sentinel", valid[:valueRegionOffset+12]},
		{"unknown value type", badType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xRegistry.sys")
	require.NoError(t, os.WriteFile(path, buildRegistry(t, sampleEntries()), 0o644))

	r, err := Open(path)
	require.NoError(t, err)
	assert.Len(t, r.Entries(), 4)
	assert.Contains(t, r.String(), "/setting/user/lastLoginUserId (int) = 1")
}
