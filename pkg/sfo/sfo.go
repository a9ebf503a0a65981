// Package sfo reads and patches SFO (PARAM.SFO) metadata containers.
package sfo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/yesman-dev/yesman/internal/buf"
)

var (
	// ErrFormat indicates malformed or truncated SFO data.
	ErrFormat = errors.New("sfo: invalid format")
	// ErrKeyNotFound indicates a lookup for a key the container does not hold.
	ErrKeyNotFound = errors.New("sfo: key not found")
	// ErrValueTooLarge indicates a value larger than the param's reserved window.
	ErrValueTooLarge = errors.New("sfo: value exceeds reserved length")
	// ErrNotImplemented is returned when adding a key that is not already present.
	ErrNotImplemented = errors.New("sfo: adding new keys is not supported")
)

const (
	Magic   uint32 = 0x46535000 // "\x00PSF"
	Version uint32 = 0x0101     // 1.1

	HeaderSize     = 20
	IndexEntrySize = 16

	AccountIDSize = 16
	PSIDSize      = 16
)

// Format is the param_fmt field of an index entry.
type Format uint16

const (
	FormatUTF8Special Format = 0x0004 // utf8 without NUL terminator
	FormatUTF8        Format = 0x0204 // NUL terminated utf8
	FormatInt32       Format = 0x0404
)

func (f Format) String() string {
	switch f {
	case FormatUTF8Special:
		return "utf8-S"
	case FormatUTF8:
		return "utf8"
	case FormatInt32:
		return "int32"
	default:
		return fmt.Sprintf("%#04x", uint16(f))
	}
}

// Header is the fixed 20 byte SFO header
type Header struct {
	Magic           uint32 `json:"magic"`
	Version         uint32 `json:"version"`
	KeyTableOffset  uint32 `json:"key_table_offset"`
	DataTableOffset uint32 `json:"data_table_offset"`
	NumEntries      uint32 `json:"num_entries"`
}

// IndexEntry is a single 16 byte index table entry
type IndexEntry struct {
	KeyOffset  uint16 `json:"key_offset"`
	Format     Format `json:"param_format"`
	Length     uint32 `json:"param_length"`
	MaxLength  uint32 `json:"param_max_length"`
	DataOffset uint32 `json:"data_offset"`
}

// Param is a decoded key/value pair bound to its index entry
type Param struct {
	Key   string
	Value []byte

	index *IndexEntry
}

// Format returns the param's value format
func (p *Param) Format() Format { return p.index.Format }

// Length returns the number of used bytes in the param's window
func (p *Param) Length() uint32 { return p.index.Length }

// MaxLength returns the size of the param's reserved window
func (p *Param) MaxLength() uint32 { return p.index.MaxLength }

// String renders the value according to its format
func (p *Param) String() string {
	switch p.index.Format {
	case FormatInt32:
		return strconv.FormatUint(uint64(buf.U32LE(p.Value)), 10)
	case FormatUTF8:
		return string(bytes.TrimRight(p.Value, "\x00"))
	default:
		if utf8.Valid(p.Value) {
			return string(p.Value)
		}
		return fmt.Sprintf("%x", p.Value)
	}
}

// SFO represents a parsed SFO container
type SFO struct {
	Header Header
	Index  []IndexEntry
	Params []*Param
}

// Open reads and parses the SFO file at path
func Open(path string) (*SFO, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses an SFO container from data
func Parse(data []byte) (*SFO, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, got %d", ErrFormat, HeaderSize, len(data))
	}

	s := &SFO{
		Header: Header{
			Magic:           buf.U32LE(data[0:]),
			Version:         buf.U32LE(data[4:]),
			KeyTableOffset:  buf.U32LE(data[8:]),
			DataTableOffset: buf.U32LE(data[12:]),
			NumEntries:      buf.U32LE(data[16:]),
		},
	}

	if s.Header.Magic != Magic {
		return nil, fmt.Errorf("%w: invalid magic %#x", ErrFormat, s.Header.Magic)
	}
	if s.Header.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %#x", ErrFormat, s.Header.Version)
	}
	if uint64(s.Header.NumEntries)*IndexEntrySize > uint64(len(data)) {
		return nil, fmt.Errorf("%w: index table of %d entries is truncated", ErrFormat, s.Header.NumEntries)
	}

	contentOffset := s.contentOffset()
	if _, err := buf.CheckRange(len(data), HeaderSize, contentOffset-HeaderSize); err != nil {
		return nil, fmt.Errorf("%w: index table: %v", ErrFormat, err)
	}
	if int(s.Header.KeyTableOffset) < contentOffset || int(s.Header.KeyTableOffset) > len(data) {
		return nil, fmt.Errorf("%w: key table offset %#x outside [%#x, %#x]", ErrFormat, s.Header.KeyTableOffset, contentOffset, len(data))
	}
	if int(s.Header.DataTableOffset) < contentOffset || int(s.Header.DataTableOffset) > len(data) {
		return nil, fmt.Errorf("%w: data table offset %#x outside [%#x, %#x]", ErrFormat, s.Header.DataTableOffset, contentOffset, len(data))
	}

	s.Index = make([]IndexEntry, s.Header.NumEntries)
	for i := range s.Index {
		e := data[HeaderSize+i*IndexEntrySize:]
		s.Index[i] = IndexEntry{
			KeyOffset:  buf.U16LE(e[0:]),
			Format:     Format(buf.U16LE(e[2:])),
			Length:     buf.U32LE(e[4:]),
			MaxLength:  buf.U32LE(e[8:]),
			DataOffset: buf.U32LE(e[12:]),
		}
	}

	content := data[contentOffset:]
	keyBase, valueBase := s.bases()

	s.Params = make([]*Param, len(s.Index))
	for i := range s.Index {
		entry := &s.Index[i]

		keyStart := keyBase + int(entry.KeyOffset)
		if keyStart >= len(content) {
			return nil, fmt.Errorf("%w: entry %d key offset %#x out of bounds", ErrFormat, i, entry.KeyOffset)
		}
		keyLen := bytes.IndexByte(content[keyStart:], 0)
		if keyLen < 0 {
			return nil, fmt.Errorf("%w: entry %d key is not NUL terminated", ErrFormat, i)
		}

		if entry.Length > entry.MaxLength {
			return nil, fmt.Errorf("%w: entry %d length %d exceeds max length %d", ErrFormat, i, entry.Length, entry.MaxLength)
		}
		valueStart := valueBase + int(entry.DataOffset)
		if _, err := buf.CheckRange(len(content), valueStart, int(entry.MaxLength)); err != nil {
			return nil, fmt.Errorf("%w: entry %d value window: %v", ErrFormat, i, err)
		}

		s.Params[i] = &Param{
			Key:   string(content[keyStart : keyStart+keyLen]),
			Value: bytes.Clone(content[valueStart : valueStart+int(entry.Length)]),
			index: entry,
		}
	}

	return s, nil
}

func (s *SFO) contentOffset() int {
	return HeaderSize + IndexEntrySize*int(s.Header.NumEntries)
}

// bases returns the key and value blob offsets relative to the end of the index table
func (s *SFO) bases() (keyBase, valueBase int) {
	contentOffset := s.contentOffset()
	return int(s.Header.KeyTableOffset) - contentOffset, int(s.Header.DataTableOffset) - contentOffset
}

// Keys returns the param keys in index table order
func (s *SFO) Keys() []string {
	keys := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		keys = append(keys, p.Key)
	}
	return keys
}

// Contains reports whether the container holds key
func (s *SFO) Contains(key string) bool {
	_, err := s.Get(key)
	return err == nil
}

// Get returns the param stored under key
func (s *SFO) Get(key string) (*Param, error) {
	for _, p := range s.Params {
		if p.Key == key {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
}

// Set overwrites the value of an existing key inside its reserved window.
// The container is left untouched when the call fails.
func (s *SFO) Set(key string, value []byte) error {
	p, err := s.Get(key)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotImplemented, key)
	}
	if len(value) > int(p.index.MaxLength) {
		return fmt.Errorf("%w: %s value is %d bytes, max is %d", ErrValueTooLarge, key, len(value), p.index.MaxLength)
	}
	p.Value = bytes.Clone(value)
	p.index.Length = uint32(len(value))
	return nil
}

// SetString encodes str according to the key's format and stores it
func (s *SFO) SetString(key, str string) error {
	p, err := s.Get(key)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotImplemented, key)
	}
	value := []byte(str)
	if p.index.Format == FormatUTF8 {
		value = append(value, 0)
	}
	return s.Set(key, value)
}

// SetUint32 stores v as a little-endian int32 param
func (s *SFO) SetUint32(key string, v uint32) error {
	value := make([]byte, 4)
	buf.PutU32LE(value, v)
	return s.Set(key, value)
}

// Update copies the values of keys from other into s. When keys is empty every
// key of other is considered. Keys missing from s are skipped unless addNew is set.
func (s *SFO) Update(other *SFO, keys []string, addNew bool) error {
	if len(keys) == 0 {
		keys = other.Keys()
	}
	for _, key := range keys {
		if !s.Contains(key) && !addNew {
			continue
		}
		p, err := other.Get(key)
		if err != nil {
			return err
		}
		if err := s.Set(key, p.Value); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the length of the serialized container
func (s *SFO) Size() int {
	return s.contentOffset() + s.contentSize()
}

func (s *SFO) contentSize() int {
	keyBase, valueBase := s.bases()
	size := valueBase
	for i, entry := range s.Index {
		if end := valueBase + int(entry.DataOffset) + int(entry.MaxLength); end > size {
			size = end
		}
		if i < len(s.Params) {
			if end := keyBase + int(entry.KeyOffset) + len(s.Params[i].Key) + 1; end > size {
				size = end
			}
		}
	}
	return size
}

// Bytes serializes the container
func (s *SFO) Bytes() []byte {
	out := make([]byte, s.Size())

	buf.PutU32LE(out[0:], s.Header.Magic)
	buf.PutU32LE(out[4:], s.Header.Version)
	buf.PutU32LE(out[8:], s.Header.KeyTableOffset)
	buf.PutU32LE(out[12:], s.Header.DataTableOffset)
	buf.PutU32LE(out[16:], s.Header.NumEntries)

	for i, entry := range s.Index {
		e := out[HeaderSize+i*IndexEntrySize:]
		buf.PutU16LE(e[0:], entry.KeyOffset)
		buf.PutU16LE(e[2:], uint16(entry.Format))
		buf.PutU32LE(e[4:], entry.Length)
		buf.PutU32LE(e[8:], entry.MaxLength)
		buf.PutU32LE(e[12:], entry.DataOffset)
	}

	content := out[s.contentOffset():]
	keyBase, valueBase := s.bases()
	for _, p := range s.Params {
		copy(content[keyBase+int(p.index.KeyOffset):], p.Key)
		copy(content[valueBase+int(p.index.DataOffset):], p.Value)
	}

	return out
}

// WriteTo writes the serialized container to w
func (s *SFO) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.Bytes())
	return int64(n), err
}

// Write writes the serialized container to the file at path
func (s *SFO) Write(path string) error {
	if err := os.WriteFile(path, s.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *SFO) String() string {
	var out bytes.Buffer
	out.WriteString("SFO Header:\n")
	out.WriteString(fmt.Sprintf("  Magic:   %#x\n", s.Header.Magic))
	out.WriteString(fmt.Sprintf("  Version: %d.%d\n", s.Header.Version>>8, s.Header.Version&0xff))
	out.WriteString(fmt.Sprintf("  Entries: %d\n", s.Header.NumEntries))
	out.WriteString(fmt.Sprintf("  Size:    %s\n", humanize.Bytes(uint64(s.Size()))))
	out.WriteString("SFO Params:\n")
	for _, p := range s.Params {
		out.WriteString(fmt.Sprintf("  %-20s %-7s %3d/%-4d %s\n", p.Key, p.index.Format, p.index.Length, p.index.MaxLength, p))
	}
	return out.String()
}
