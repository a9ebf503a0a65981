// Package xreg parses the console system registry (xRegistry.sys).
//
// The file is a fixed size blob: a 16 byte header bracketed by BCADADBC
// markers, a 0xFFF0 byte key region and a 0x10000 byte value region. Value
// records are packed back to back and point at their key record by offset;
// the first record whose key is empty ends the live entries, the remainder
// of the region is padding.
package xreg

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/yesman-dev/yesman/internal/buf"
)

var (
	// ErrFormat indicates malformed or truncated registry data.
	ErrFormat = errors.New("xreg: invalid format")
	// ErrKeyNotFound indicates a lookup for a path the registry does not hold.
	ErrKeyNotFound = errors.New("xreg: key not found")
	// ErrPathConflict indicates a path that is both a value and a subtree.
	ErrPathConflict = errors.New("xreg: path is both a value and a subtree")
)

const (
	HeaderSize      = 0x10
	KeyRegionSize   = 0xFFF0
	ValueRegionSize = 0x10000

	keyRegionOffset   = HeaderSize
	valueRegionOffset = HeaderSize + KeyRegionSize

	keyRecordHeaderSize   = 5
	valueRecordHeaderSize = 9
)

// Mark is the start and end marker of the header
var Mark = [4]byte{0xBC, 0xAD, 0xAD, 0xBC}

// ValueType is the type tag of a value record
type ValueType uint8

const (
	TypeBool    ValueType = 0
	TypeInteger ValueType = 1
	TypeString  ValueType = 2
)

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInteger:
		return "int"
	case TypeString:
		return "string"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Header is the 16 byte registry header
type Header struct {
	StartMark [4]byte
	Unknown1  [4]byte
	Unknown2  [4]byte
	EndMark   [4]byte
}

// Key is a key record from the key region
type Key struct {
	Unknown [2]byte
	Type    uint8
	Name    string
}

// Value is a value record from the value region
type Value struct {
	Unknown1  [2]byte
	KeyOffset uint16
	Unknown2  [2]byte
	Type      ValueType
	Raw       []byte
	// Offset is the position of the record inside the value region
	Offset int
}

// Decode returns the typed value: bool, uint64 or string. A bool is true when
// any of its bytes is non-zero, so an all-zero record of any width decodes as
// false rather than being truthy for merely being non-empty.
func (v *Value) Decode() (any, error) {
	switch v.Type {
	case TypeBool:
		for _, b := range v.Raw {
			if b != 0 {
				return true, nil
			}
		}
		return false, nil
	case TypeInteger:
		n, ok := buf.UintBE(v.Raw)
		if !ok {
			return nil, fmt.Errorf("%w: integer value is %d bytes wide", ErrFormat, len(v.Raw))
		}
		return n, nil
	case TypeString:
		return string(bytes.Trim(v.Raw, "\x00")), nil
	default:
		return nil, fmt.Errorf("%w: unknown value type %d", ErrFormat, v.Type)
	}
}

// Entry binds a key record to its value record
type Entry struct {
	Key   Key
	Value Value
}

// Path returns the slash delimited key path
func (e *Entry) Path() string { return e.Key.Name }

// Registry represents a parsed registry file
type Registry struct {
	Header  Header
	entries []*Entry
}

// Open reads and parses the registry file at path
func Open(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a registry from data
func Parse(data []byte) (*Registry, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, got %d", ErrFormat, HeaderSize, len(data))
	}

	var r Registry
	copy(r.Header.StartMark[:], data[0:4])
	copy(r.Header.Unknown1[:], data[4:8])
	copy(r.Header.Unknown2[:], data[8:12])
	copy(r.Header.EndMark[:], data[12:16])
	if r.Header.StartMark != Mark {
		return nil, fmt.Errorf("%w: invalid header start mark % x", ErrFormat, r.Header.StartMark)
	}
	if r.Header.EndMark != Mark {
		return nil, fmt.Errorf("%w: invalid header end mark % x", ErrFormat, r.Header.EndMark)
	}

	keys := region(data, keyRegionOffset, KeyRegionSize)
	values := region(data, valueRegionOffset, ValueRegionSize)

	for off := 0; ; {
		value, n, err := readValue(values, off)
		if err != nil {
			return nil, err
		}
		key, err := readKey(keys, int(value.KeyOffset))
		if err != nil {
			return nil, fmt.Errorf("value at %#x: %w", off, err)
		}
		if key.Name == "" {
			break
		}
		if value.Type > TypeString {
			return nil, fmt.Errorf("%w: %s has unknown value type %d", ErrFormat, key.Name, value.Type)
		}
		r.entries = append(r.entries, &Entry{Key: *key, Value: *value})
		off += n
	}

	return &r, nil
}

// region returns the part of data in [off, off+size), clamped to the buffer
func region(data []byte, off, size int) []byte {
	if off >= len(data) {
		return nil
	}
	return data[off:min(off+size, len(data))]
}

func readValue(values []byte, off int) (*Value, int, error) {
	if _, err := buf.CheckRange(len(values), off, valueRecordHeaderSize); err != nil {
		return nil, 0, fmt.Errorf("%w: value record at %#x: %v", ErrFormat, off, err)
	}
	rec := values[off:]
	length := int(buf.U16BE(rec[6:]))
	// the terminator byte may fall off the end of a truncated region
	if _, err := buf.CheckRange(len(rec), valueRecordHeaderSize, length); err != nil {
		return nil, 0, fmt.Errorf("%w: value record at %#x: %v", ErrFormat, off, err)
	}
	v := &Value{
		KeyOffset: buf.U16BE(rec[2:]),
		Type:      ValueType(rec[8]),
		Raw:       bytes.Clone(rec[valueRecordHeaderSize : valueRecordHeaderSize+length]),
		Offset:    off,
	}
	copy(v.Unknown1[:], rec[0:2])
	copy(v.Unknown2[:], rec[4:6])
	return v, valueRecordHeaderSize + length + 1, nil
}

func readKey(keys []byte, off int) (*Key, error) {
	if _, err := buf.CheckRange(len(keys), off, keyRecordHeaderSize); err != nil {
		return nil, fmt.Errorf("%w: key record at %#x: %v", ErrFormat, off, err)
	}
	rec := keys[off:]
	length := int(buf.U16BE(rec[2:]))
	if _, err := buf.CheckRange(len(rec), keyRecordHeaderSize, length); err != nil {
		return nil, fmt.Errorf("%w: key record at %#x: %v", ErrFormat, off, err)
	}
	k := &Key{
		Type: rec[4],
		Name: string(rec[keyRecordHeaderSize : keyRecordHeaderSize+length]),
	}
	copy(k.Unknown[:], rec[0:2])
	return k, nil
}

// Entries returns the live entries in file order
func (r *Registry) Entries() []*Entry {
	return r.entries
}

// Get returns the entry stored under path
func (r *Registry) Get(path string) (*Entry, error) {
	for _, e := range r.entries {
		if e.Key.Name == path {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, path)
}

// Hierarchy folds the entries into nested maps keyed by path segment
func (r *Registry) Hierarchy() (map[string]any, error) {
	root := make(map[string]any)
	for _, e := range r.entries {
		value, err := e.Value.Decode()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Key.Name, err)
		}
		parts := strings.Split(strings.Trim(e.Key.Name, "/"), "/")
		node := root
		for i, part := range parts[:len(parts)-1] {
			switch child := node[part].(type) {
			case nil:
				next := make(map[string]any)
				node[part] = next
				node = next
			case map[string]any:
				node = child
			default:
				return nil, fmt.Errorf("%w: %s (value at /%s)", ErrPathConflict, e.Key.Name, strings.Join(parts[:i+1], "/"))
			}
		}
		leaf := parts[len(parts)-1]
		if _, ok := node[leaf].(map[string]any); ok {
			return nil, fmt.Errorf("%w: %s", ErrPathConflict, e.Key.Name)
		}
		node[leaf] = value
	}
	return root, nil
}

func (r *Registry) String() string {
	var out strings.Builder
	entries := make([]*Entry, len(r.entries))
	copy(entries, r.entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Key.Name < entries[j].Key.Name
	})
	for _, e := range entries {
		value, err := e.Value.Decode()
		if err != nil {
			value = fmt.Sprintf("<%v>", err)
		}
		out.WriteString(fmt.Sprintf("%s (%s) = %v\n", e.Key.Name, e.Value.Type, value))
	}
	return out.String()
}
