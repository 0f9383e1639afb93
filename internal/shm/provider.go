// Package shm provides named shared-memory segments, the fixed-bucket pool
// allocator carving chunks out of them, and the resizable multi-segment
// memory publishers loan from. Segment contents are addressed exclusively by
// (segment id, offset) pairs; the local base pointer never leaves the
// process that mapped it.
package shm

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/iox2go/iceoryx2/internal/logx"
)

// Management block layout, written by the creator at offset 0 before the
// initialized flag flips. Openers validate it before touching the payload.
const (
	mgmtMagic      uint32 = 0x69783268 // "ix2h"
	mgmtVersion    uint32 = 1
	mgmtHeaderSize        = 64

	mgmtOffMagic       = 0
	mgmtOffVersion     = 4
	mgmtOffCapacity    = 8
	mgmtOffOwnerPID    = 16
	mgmtOffInitialized = 24
)

// openPollInterval is how often an opener racing a creator re-checks the
// initialized flag.
const openPollInterval = 5 * time.Millisecond

// Provider creates and opens named shared-memory segments. With Local set,
// segments are plain heap allocations visible only within this process;
// otherwise they are files under Root mapped with mmap, so any co-located
// process can open them by name.
type Provider struct {
	Root  string
	Local bool
}

// Segment is one named shared-memory object. The creator owns the
// underlying OS resource unless ownership is released; the owner removes
// the backing file when the segment is closed.
type Segment struct {
	name  string
	data  []byte
	file  *os.File
	path  string
	owned bool
	local bool

	mu     sync.Mutex
	closed bool
}

func (p *Provider) segmentPath(name string) string {
	return filepath.Join(p.Root, name+".segment")
}

// Create creates a new named segment of the given payload capacity. It
// fails with SegmentAlreadyExists if a segment of that name exists, using
// the filesystem's exclusive-create semantic as the race arbiter.
func (p *Provider) Create(name string, capacity uint64) (*Segment, error) {
	if capacity == 0 {
		return nil, SegmentSizeTooSmall
	}
	if p.Local {
		s := &Segment{name: name, data: make([]byte, mgmtHeaderSize+capacity), owned: true, local: true}
		s.writeManagement(capacity)
		return s, nil
	}

	if err := os.MkdirAll(p.Root, 0o750); err != nil {
		return nil, wrapOSError(err)
	}
	path := p.segmentPath(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o640)
	if err != nil {
		if os.IsExist(err) {
			return nil, SegmentAlreadyExists
		}
		return nil, wrapOSError(err)
	}

	total := int64(mgmtHeaderSize + capacity)
	if err := unix.Ftruncate(int(f.Fd()), total); err != nil {
		f.Close()
		os.Remove(path)
		return nil, wrapOSError(err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, wrapOSError(err)
	}

	s := &Segment{name: name, data: data, file: f, path: path, owned: true}
	s.writeManagement(capacity)
	logx.For("shm").Debugf("created segment %q (%d bytes payload)", name, capacity)
	return s, nil
}

// Open attaches to an existing named segment, waiting up to timeout for a
// racing creator to finish writing the management block. A timeout of zero
// fails fast with SegmentInitializationNotYetFinalized.
func (p *Provider) Open(name string, timeout time.Duration) (*Segment, error) {
	if p.Local {
		// Local segments have no cross-process identity to open by name;
		// in-process collaborators share the *Segment value directly.
		return nil, SegmentDoesNotExist
	}
	path := p.segmentPath(name)
	deadline := time.Now().Add(timeout)
	for {
		s, err := p.tryOpen(path, name)
		if err == nil {
			return s, nil
		}
		if err != SegmentInitializationNotYetFinalized || !time.Now().Before(deadline) {
			return nil, err
		}
		time.Sleep(openPollInterval)
	}
}

func (p *Provider) tryOpen(path, name string) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, SegmentDoesNotExist
		}
		return nil, wrapOSError(err)
	}
	st, err := f.Stat()
	if err != nil || st.Size() < mgmtHeaderSize {
		f.Close()
		return nil, SegmentInitializationNotYetFinalized
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, wrapOSError(err)
	}
	s := &Segment{name: name, data: data, file: f, path: path}
	if !s.initialized() {
		s.unmap()
		return nil, SegmentInitializationNotYetFinalized
	}
	return s, nil
}

// List enumerates the names of every segment currently present under Root.
func (p *Provider) List() ([]string, error) {
	if p.Local {
		return nil, nil
	}
	entries, err := os.ReadDir(p.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if n, ok := strings.CutSuffix(e.Name(), ".segment"); ok {
			names = append(names, n)
		}
	}
	return names, nil
}

// Remove deletes the backing file of a named segment without opening it.
func (p *Provider) Remove(name string) error {
	if p.Local {
		return nil
	}
	if err := os.Remove(p.segmentPath(name)); err != nil && !os.IsNotExist(err) {
		return wrapOSError(err)
	}
	return nil
}

func (s *Segment) writeManagement(capacity uint64) {
	binary.LittleEndian.PutUint32(s.data[mgmtOffMagic:], mgmtMagic)
	binary.LittleEndian.PutUint32(s.data[mgmtOffVersion:], mgmtVersion)
	binary.LittleEndian.PutUint64(s.data[mgmtOffCapacity:], capacity)
	binary.LittleEndian.PutUint64(s.data[mgmtOffOwnerPID:], uint64(os.Getpid()))
	// The initialized flag is written last: openers that observe it set are
	// guaranteed a fully written management block.
	binary.LittleEndian.PutUint32(s.data[mgmtOffInitialized:], 1)
}

func (s *Segment) initialized() bool {
	if binary.LittleEndian.Uint32(s.data[mgmtOffMagic:]) != mgmtMagic {
		return false
	}
	if binary.LittleEndian.Uint32(s.data[mgmtOffVersion:]) != mgmtVersion {
		return false
	}
	return binary.LittleEndian.Uint32(s.data[mgmtOffInitialized:]) == 1
}

// Name returns the segment's name within the provider's namespace.
func (s *Segment) Name() string { return s.name }

// Capacity returns the payload capacity recorded in the management block.
func (s *Segment) Capacity() uint64 {
	return binary.LittleEndian.Uint64(s.data[mgmtOffCapacity:])
}

// OwnerPID returns the pid of the creating process.
func (s *Segment) OwnerPID() int {
	return int(binary.LittleEndian.Uint64(s.data[mgmtOffOwnerPID:]))
}

// Payload returns the user-visible byte region past the management block.
// All PointerOffsets are relative to the start of this slice.
func (s *Segment) Payload() []byte { return s.data[mgmtHeaderSize:] }

// ReleaseOwnership makes the segment persistent: closing it will no longer
// remove the backing OS resource.
func (s *Segment) ReleaseOwnership() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned = false
}

// HasOwnership reports whether closing this segment removes the backing
// resource.
func (s *Segment) HasOwnership() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned
}

func (s *Segment) unmap() {
	if s.local {
		s.data = nil
		return
	}
	if s.data != nil {
		unix.Munmap(s.data)
		s.data = nil
	}
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

// Close unmaps the segment and, if this handle owns the OS resource,
// removes it.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	owned := s.owned
	s.unmap()
	if owned && !s.local {
		os.Remove(s.path)
	}
	return nil
}

func wrapOSError(err error) error {
	if os.IsPermission(err) {
		return SegmentInsufficientPermissions
	}
	logx.For("shm").Debugf("os error: %v", err)
	return SegmentInternalError
}
