// Package disk implements the raw fixed-size page I/O and page-id
// allocation the buffer pool consumes.
package disk

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"

	"github.com/kvnovik/relcore/src/pkg/common"
	"github.com/kvnovik/relcore/src/storage/page"
)

// Manager reads and writes fixed-size pages in a single backing file and
// hands out fresh page ids from a monotonic counter via
// ReadPage/WritePage/AllocatePage/DeallocatePage. It is backed by
// afero.Fs rather than raw os.* calls so tests can run against
// afero.NewMemMapFs() with no real file on disk.
type Manager struct {
	fs   afero.Fs
	path string

	mu   sync.Mutex
	file afero.File

	offset     int64
	stride     int64
	nextPageID int64 // atomic, counts allocations since open; actual id is offset+n*stride
}

// New opens (creating if absent) the backing file at path on fs. Page ids
// are allocated densely starting at 0.
func New(fs afero.Fs, path string) (*Manager, error) {
	return NewStrided(fs, path, 0, 1)
}

// NewStrided opens the backing file like New, but allocates page ids as
// offset, offset+stride, offset+2*stride, ... This is how a striped buffer
// pool gives each of its underlying instances a disjoint slice of the page
// id space: instance i of n is opened with NewStrided(fs, path, i, n), so
// every id it ever allocates is congruent to i modulo n.
func NewStrided(fs afero.Fs, path string, offset, stride int) (*Manager, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "opening data file")
	}

	return &Manager{
		fs:     fs,
		path:   path,
		file:   f,
		offset: int64(offset),
		stride: int64(stride),
	}, nil
}

// Close releases the backing file handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}

// AllocatePage returns a fresh page id. Ids are never reused within a
// process lifetime.
func (m *Manager) AllocatePage() common.PageID {
	n := atomic.AddInt64(&m.nextPageID, 1) - 1
	return common.PageID(m.offset + n*m.stride)
}

// DeallocatePage does nothing; page ids are never reused. Page-id reuse is not implemented:
// the core never runs long enough between process restarts for id space
// exhaustion to matter, and reuse would require a free list durable across
// crashes, which is out of scope alongside WAL/recovery.
func (m *Manager) DeallocatePage(common.PageID) {}

// ReadPage reads id's bytes into a fresh page.
func (m *Manager) ReadPage(id common.PageID) (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, page.Size)
	_, err := m.file.ReadAt(buf, int64(id)*int64(page.Size))
	if err != nil {
		return nil, errors.Wrapf(err, "reading page %d", id)
	}

	p := page.New()
	p.SetData(buf)
	return p, nil
}

// WritePage writes p's bytes to id's slot in the backing file.
func (m *Manager) WritePage(id common.PageID, p *page.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.file.WriteAt(p.GetData(), int64(id)*int64(page.Size))
	if err != nil {
		return errors.Wrapf(err, "writing page %d", id)
	}
	return nil
}
