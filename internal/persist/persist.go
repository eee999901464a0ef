// Package persist implements PersistStore (spec.md §4.10, §6): a
// name -> binary-blob store with an on-disk layout compatible with
// the `SLP4` format, atomic commit via rename, and read-time upgrade
// from older record versions.
package persist

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/lci-cfg/internal/cfgerrors"
	"github.com/standardbeagle/lci-cfg/internal/cfglog"
)

const (
	Magic      = "SLP4"
	HeaderSize = 4096
	KeyBlockSize = 4096
	headerPrefixSize  = 12 // magic(4) + flags(4) + key_count(4)
	firstKeyBlockSize = HeaderSize - headerPrefixSize // 4084-byte first block embedded in the header
	maxFileSize       = 2 << 30 // 2 GiB, spec.md §4.10 oversized-file bound
	maxKeySize        = 4096    // spec.md §4.10's "unreasonably large key" bound

	v4RecordHeaderSize = 8
	v5RecordHeaderSize = 16
)

// Version is a persisted record's on-disk format version.
type Version uint8

const (
	VersionV2 Version = 2
	VersionV3 Version = 3
	VersionV4 Version = 4
	VersionV5 Version = 5 // this module's checksummed default write format
)

func recordHeaderSize(v Version) int {
	if v == VersionV5 {
		return v5RecordHeaderSize
	}
	return v4RecordHeaderSize
}

// Handle identifies a live entry for Read/WriteEntry. It is an opaque
// value stable only for the lifetime of the in-memory Store; reopening
// a committed file assigns fresh handles.
type Handle uint32

type memEntry struct {
	handle     Handle
	version    Version
	onDisk     Version // version the bytes were read from disk as, 0 if never persisted
	inUse      bool
	payload    []byte
}

// Store is an in-memory PersistStore bound to a canonical file path.
// Mutations are applied in memory; Commit serializes the whole store
// to a temp file and renames it over path.
type Store struct {
	mu      sync.Mutex
	path    string
	writeVersion Version

	entries    map[string]*memEntry
	order      []string // stable serialization order, also alloc/rename order
	nextHandle Handle

	gate gate
}

// gate implements spec.md §5's map-entry gate: readers/writers of a
// live entry increment a counter for the copy's duration; AllocEntry
// waits for the counter to drain before it adds or replaces an entry.
type gate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	mapped int
}

func (g *gate) init() {
	if g.cond == nil {
		g.cond = sync.NewCond(&g.mu)
	}
}

func (g *gate) acquire() {
	g.init()
	g.mu.Lock()
	g.mapped++
	g.mu.Unlock()
}

func (g *gate) release() {
	g.mu.Lock()
	g.mapped--
	if g.mapped == 0 {
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}

func (g *gate) waitForDrain() {
	g.init()
	g.mu.Lock()
	for g.mapped > 0 {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// NewStore creates an empty store bound to path, writing v5 records by
// default.
func NewStore(path string) *Store {
	return &Store{
		path:         path,
		writeVersion: VersionV5,
		entries:      make(map[string]*memEntry),
	}
}

// SetWriteVersion overrides the record version Commit writes. Passing
// VersionV4 produces the spec-exact, checksum-free wire format for
// interop with tooling that expects it.
func (s *Store) SetWriteVersion(v Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeVersion = v
}

// AllocEntry implements alloc_entry: if name already exists its old
// entry is replaced by a fresh zeroed one (the old handle no longer
// resolves); size is rounded up to 8 bytes for the payload buffer.
// Returns the new handle.
func (s *Store) AllocEntry(name string, size uint32) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(name) > maxKeySize {
		return 0, cfgerrors.NewPersistError("alloc", s.path, errKeyTooLarge)
	}

	s.gate.waitForDrain()

	if _, exists := s.entries[name]; !exists {
		s.order = append(s.order, name)
	}

	s.nextHandle++
	s.entries[name] = &memEntry{
		handle:  s.nextHandle,
		version: s.writeVersion,
		inUse:   true,
		payload: make([]byte, alignUp8(size)),
	}
	return s.nextHandle, nil
}

// LookupEntry implements lookup_entry: returns the handle, payload
// size, and version for name, marking the entry in_use as a side
// effect so the next commit preserves it.
func (s *Store) LookupEntry(name string) (Handle, uint32, Version, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return 0, 0, 0, false
	}
	e.inUse = true
	return e.handle, uint32(len(e.payload)), e.version, true
}

// RenameEntry renames old to new, preserving the handle.
func (s *Store) RenameEntry(oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[oldName]
	if !ok {
		return cfgerrors.NewPersistError("rename", s.path, errNoSuchEntry)
	}
	delete(s.entries, oldName)
	s.entries[newName] = e
	for i, n := range s.order {
		if n == oldName {
			s.order[i] = newName
			break
		}
	}
	return nil
}

// ReadEntry copies an entry's payload into dst, taking the map-entry
// gate for the duration of the copy (spec.md §4.10's non-mmap
// alternative to map_entry/unmap_entry).
func (s *Store) ReadEntry(h Handle, dst []byte) (int, error) {
	s.gate.acquire()
	defer s.gate.release()

	s.mu.Lock()
	e := s.findByHandle(h)
	s.mu.Unlock()
	if e == nil {
		return 0, cfgerrors.NewPersistError("read", s.path, errNoSuchEntry)
	}
	n := copy(dst, e.payload)
	return n, nil
}

// WriteEntry copies src into an entry's payload, taking the map-entry
// gate for the duration of the copy. src must not be longer than the
// entry's allocated size.
func (s *Store) WriteEntry(h Handle, src []byte) error {
	s.gate.acquire()
	defer s.gate.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findByHandle(h)
	if e == nil {
		return cfgerrors.NewPersistError("write", s.path, errNoSuchEntry)
	}
	if len(src) > len(e.payload) {
		return cfgerrors.NewPersistError("write", s.path, errPayloadTooLarge)
	}
	copy(e.payload, src)
	return nil
}

func (s *Store) findByHandle(h Handle) *memEntry {
	for _, e := range s.entries {
		if e.handle == h {
			return e
		}
	}
	return nil
}

func alignUp8(n uint32) uint32 {
	return (n + 7) &^ 7
}

// EntryInfo summarizes one live entry for dump/inspection tooling.
type EntryInfo struct {
	Name    string
	Size    uint32
	Version Version
	InUse   bool
}

// List returns every entry currently held by the store, in stable
// serialization order.
func (s *Store) List() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.order))
	for _, name := range s.order {
		e, ok := s.entries[name]
		if !ok {
			continue
		}
		out = append(out, EntryInfo{Name: name, Size: uint32(len(e.payload)), Version: e.version, InUse: e.inUse})
	}
	return out
}

var (
	errNoSuchEntry     = stringError("no such entry")
	errKeyTooLarge     = stringError("key exceeds maximum size")
	errPayloadTooLarge = stringError("payload larger than entry's allocated size")
	errFileTooLarge    = stringError("persist file exceeds the 2 GiB size bound")
	errBadMagic        = stringError("bad magic or unsupported header flags")
	errCorruptKeyBlock = stringError("corrupt key block: truncated entry or out-of-bounds chain pointer")
)

type stringError string

func (e stringError) Error() string { return string(e) }

// --- serialization ---------------------------------------------------

// keyRef is one key-block entry: a name paired with either the file
// offset of its record header, or (when name == "") the next key block's file
// offset as a chain pointer, with 0 meaning end of chain.
type keyRef struct {
	name   string
	offset uint32
}

// layoutKeyBlocks packs refs into a 4084-byte first block (embedded in
// the header) followed by as many additional 4096-byte blocks as
// needed, threading chain pointers between them. additionalBlockBase
// is the file offset of the first additional block; each further block
// follows it at KeyBlockSize intervals once the caller appends them
// after the header.
func layoutKeyBlocks(refs []keyRef, additionalBlockBase uint32) (first []byte, additional [][]byte) {
	const termSize = 8 // empty key (u32 len=0) + u32 chain pointer
	cur := make([]byte, 0, firstKeyBlockSize)
	capacity := uint32(firstKeyBlockSize)

	var blocks [][]byte
	flush := func(nextOffset uint32) {
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], 0)
		cur = append(cur, tmp[:]...)
		binary.BigEndian.PutUint32(tmp[:], nextOffset)
		cur = append(cur, tmp[:]...)
		blocks = append(blocks, cur)
	}

	nextBlockOffset := additionalBlockBase
	for _, r := range refs {
		need := uint32(4+len(r.name)+4)
		if uint32(len(cur))+need+termSize > capacity {
			flush(nextBlockOffset)
			nextBlockOffset += KeyBlockSize
			cur = make([]byte, 0, KeyBlockSize)
			capacity = KeyBlockSize
		}
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(len(r.name)))
		cur = append(cur, tmp[:]...)
		cur = append(cur, r.name...)
		binary.BigEndian.PutUint32(tmp[:], r.offset)
		cur = append(cur, tmp[:]...)
	}
	flush(0)

	first = blocks[0]
	additional = blocks[1:]
	return first, additional
}

// parseKeyBlockChain decodes an embedded first block plus however many
// chained additional blocks follow, returning the refs in on-disk
// order. read(offset, size) must return exactly size bytes at offset.
func parseKeyBlockChain(first []byte, read func(offset uint32, size uint32) ([]byte, error)) ([]keyRef, error) {
	var refs []keyRef
	block := first
	for {
		pos := 0
		var nextOffset uint32
		chained := false
		for {
			if pos+4 > len(block) {
				// A block filled to its end without an empty-key
				// terminator (older files) ends the chain here.
				return refs, nil
			}
			keyLen := binary.BigEndian.Uint32(block[pos : pos+4])
			pos += 4
			if keyLen == 0 {
				if pos+4 > len(block) {
					return nil, errCorruptKeyBlock
				}
				nextOffset = binary.BigEndian.Uint32(block[pos : pos+4])
				pos += 4
				chained = nextOffset != 0
				break
			}
			if keyLen > maxKeySize || pos+int(keyLen)+4 > len(block) {
				return nil, errCorruptKeyBlock
			}
			name := string(block[pos : pos+int(keyLen)])
			pos += int(keyLen)
			offset := binary.BigEndian.Uint32(block[pos : pos+4])
			pos += 4
			refs = append(refs, keyRef{name: name, offset: offset})
		}
		if !chained {
			return refs, nil
		}
		next, err := read(nextOffset, KeyBlockSize)
		if err != nil {
			return nil, errCorruptKeyBlock
		}
		block = next
	}
}

func encodeRecordHeader(version Version, size uint32, inUse bool, payload []byte) []byte {
	hdr := make([]byte, recordHeaderSize(version))
	binary.BigEndian.PutUint32(hdr[0:4], size)
	if inUse {
		hdr[4] = 1
	}
	hdr[5] = byte(version)
	// hdr[6:8] padding, left zero
	if version == VersionV5 {
		binary.BigEndian.PutUint64(hdr[8:16], xxhash.Sum64(payload))
	}
	return hdr
}

func decodeRecordHeader(hdr []byte) (size uint32, inUse bool, version Version) {
	size = binary.BigEndian.Uint32(hdr[0:4])
	inUse = hdr[4] != 0
	version = Version(hdr[5])
	return size, inUse, version
}

// Commit serializes every entry the store holds to a temp file beside
// path and atomically renames it into place (spec.md §4.10's
// commit-via-rename). An entry not in use is written with in_use=0, so
// the next LoadStore drops it unless LoadAll is set. Entries are
// re-laid out fresh in their stable order, so committing a
// just-loaded, untouched store reproduces a byte-identical file as
// long as the load kept every record and the write version matches
// the records' on-disk version.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type laidOut struct {
		name    string
		offset  uint32 // record start: the key block points at the record header
		record  []byte // full record bytes (header+payload+padding), starting at offset
	}

	var laid []laidOut
	cursor := uint32(0) // offset of next record, relative to "after all key blocks"
	for _, name := range s.order {
		e, ok := s.entries[name]
		if !ok {
			continue
		}
		hdrLen := uint32(recordHeaderSize(e.version))
		recordLen := hdrLen + uint32(len(e.payload))
		laid = append(laid, laidOut{name: name, offset: cursor})
		cursor += recordLen
	}

	// First pass above computed offsets relative to the start of the
	// value area; now that we know how many key blocks precede it we
	// can translate to absolute file offsets.
	refs := make([]keyRef, 0, len(laid))
	for _, l := range laid {
		refs = append(refs, keyRef{name: l.name})
	}
	// Two-pass layout: first guess with additionalBlockBase=HeaderSize
	// to learn how many additional key blocks are needed, then shift
	// value offsets past them once known.
	first, additional := layoutKeyBlocks(refs, HeaderSize)
	valueAreaStart := HeaderSize + uint32(len(additional))*KeyBlockSize

	refs = refs[:0]
	for _, l := range laid {
		refs = append(refs, keyRef{name: l.name, offset: l.offset + valueAreaStart})
	}
	first, additional = layoutKeyBlocks(refs, HeaderSize)
	// valueAreaStart is stable across both passes: the number of
	// additional key blocks depends only on names+count, not on the
	// offsets stored inside them.

	buf := make([]byte, 0, valueAreaStart+cursor)
	header := make([]byte, headerPrefixSize)
	copy(header[0:4], Magic)
	binary.BigEndian.PutUint32(header[4:8], 0)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(laid)))
	buf = append(buf, header...)
	buf = append(buf, first...)
	if pad := HeaderSize - len(buf); pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	for _, b := range additional {
		buf = append(buf, b...)
		if pad := KeyBlockSize - len(b); pad > 0 {
			buf = append(buf, make([]byte, pad)...)
		}
	}

	for _, name := range s.order {
		e, ok := s.entries[name]
		if !ok {
			continue
		}
		hdr := encodeRecordHeader(e.version, uint32(len(e.payload)), e.inUse, e.payload)
		buf = append(buf, hdr...)
		buf = append(buf, e.payload...)
	}

	if uint64(len(buf)) > maxFileSize {
		return cfgerrors.NewPersistError("commit", s.path, errFileTooLarge)
	}

	tmpPath := s.path + "-"
	if err := os.WriteFile(tmpPath, buf, 0o644); err != nil {
		return cfgerrors.NewPersistError("commit", s.path, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return cfgerrors.NewPersistError("commit", s.path, err)
	}
	cfglog.Persist("committed %d entries to %q", len(laid), s.path)
	return nil
}

// Cancel discards any partially written temp file and drops the
// store's in-memory state. The store must not be used afterward.
func (s *Store) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpPath := s.path + "-"
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return cfgerrors.NewPersistError("cancel", s.path, err)
	}
	s.entries = make(map[string]*memEntry)
	s.order = nil
	return nil
}

// LoadOptions configures LoadStore.
type LoadOptions struct {
	// LoadAll keeps entries marked in_use=0 on disk instead of
	// dropping them (spec.md §4.10's load-all mode).
	LoadAll bool
	// Downgrade sets the loaded store's write version to v4 instead
	// of v5, for byte-exact interop round trips (testable property 7).
	Downgrade bool
}

// LoadStore reads a committed file from path. A corrupt header (bad
// magic, nonzero flags, unreadable key blocks) is not a hard failure:
// per spec.md §7 it abandons the file and returns a fresh empty store.
// An entry whose offset or record header lies outside the file is
// dropped and logged, and the remaining entries still load. A record
// whose declared size runs past the end of the file, or whose v5
// checksum does not match, ends the load there: the entries before it
// are kept and the rest are discarded.
func LoadStore(path string, opts LoadOptions) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStore(path), nil
		}
		return nil, cfgerrors.NewPersistError("load", path, err)
	}
	if uint64(len(data)) > maxFileSize {
		return nil, cfgerrors.NewPersistError("load", path, errFileTooLarge)
	}

	s := NewStore(path)
	if opts.Downgrade {
		s.writeVersion = VersionV4
	}

	if len(data) < HeaderSize || string(data[0:4]) != Magic || binary.BigEndian.Uint32(data[4:8]) != 0 {
		cfglog.Warn("persist: %q has a bad header, starting empty", path)
		return s, nil
	}

	read := func(offset, size uint32) ([]byte, error) {
		end := uint64(offset) + uint64(size)
		if end > uint64(len(data)) {
			return nil, errCorruptKeyBlock
		}
		return data[offset:end], nil
	}

	refs, err := parseKeyBlockChain(data[headerPrefixSize:HeaderSize], read)
	if err != nil {
		cfglog.Warn("persist: %q has a corrupt key chain, starting empty", path)
		return NewStore(path), nil
	}

	for _, ref := range refs {
		if uint64(ref.offset)+uint64(recordHeaderSize(VersionV4)) > uint64(len(data)) {
			cfglog.Error("persist: entry %q has an out-of-bounds offset, dropping", ref.name)
			continue
		}
		// Peek the version byte to know the real header size before
		// slicing the payload.
		version := Version(data[ref.offset+5])
		hdrLen := recordHeaderSize(version)
		if uint64(ref.offset)+uint64(hdrLen) > uint64(len(data)) {
			cfglog.Error("persist: entry %q has a truncated record header, dropping", ref.name)
			continue
		}
		hdr := data[ref.offset : ref.offset+uint32(hdrLen)]
		size, inUse, onDisk := decodeRecordHeader(hdr)
		payloadStart := ref.offset + uint32(hdrLen)
		if uint64(payloadStart)+uint64(size) > uint64(len(data)) {
			cfglog.Error("persist: entry %q's declared size runs past end of file, truncating store here", ref.name)
			break
		}
		if !inUse && !opts.LoadAll {
			continue
		}
		payload := make([]byte, size)
		copy(payload, data[payloadStart:uint64(payloadStart)+uint64(size)])

		if onDisk == VersionV5 {
			want := binary.BigEndian.Uint64(hdr[8:16])
			if got := xxhash.Sum64(payload); got != want {
				cfglog.Error("persist: entry %q failed its checksum, truncating store here", ref.name)
				break
			}
		}

		if onDisk == VersionV2 || onDisk == VersionV3 {
			upgraded := make([]byte, 4+len(payload))
			binary.BigEndian.PutUint32(upgraded[0:4], uint32(len(payload)))
			copy(upgraded[4:], payload)
			payload = upgraded
			cfglog.Persist("upgraded entry %q from v%d on read", ref.name, onDisk)
		}

		s.order = append(s.order, ref.name)
		s.nextHandle++
		s.entries[ref.name] = &memEntry{
			handle:  s.nextHandle,
			version: s.writeVersion,
			onDisk:  onDisk,
			inUse:   inUse,
			payload: payload,
		}
	}

	return s, nil
}
