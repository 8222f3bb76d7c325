package volume

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"

	"github.com/JABClari/zero/pkg/page"
	"github.com/JABClari/zero/pkg/zerr"
)

// filePager is the volume's bufferpool.Pager implementation: one file per
// store under the volume directory, a page addressed at byte offset
// pid*pageSize within that store's file. No implementation of this existed
// anywhere in the example pack; grounded on spec.md §6's "dense page id
// within a volume" data model and on wal/partition.go's pattern of one
// fixed-layout file per logical unit.
type filePager struct {
	dir      string
	pageSize uint32

	mu    sync.Mutex
	files map[page.StoreID]*os.File
}

func newFilePager(dir string, pageSize uint32) *filePager {
	return &filePager{dir: dir, pageSize: pageSize, files: make(map[page.StoreID]*os.File)}
}

func storeFileName(store page.StoreID) string {
	return fmt.Sprintf("store-%08d.dat", uint32(store))
}

func (fp *filePager) fileFor(store page.StoreID) (*os.File, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if f, ok := fp.files[store]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(fp.dir, storeFileName(store)), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, zerr.Wrap(zerr.IOError, err, "volume: open store %d file", store)
	}
	fp.files[store] = f
	return f, nil
}

// ReadPage reads pid's page from store's file. A pid never written before
// reads back as an all-zero page: per pkg/btree.Store.Create's note, a page
// that never existed on disk needs no log record to reconstruct, so
// allocation alone (without an explicit format write) is enough to make it
// readable.
func (fp *filePager) ReadPage(store page.StoreID, pid page.PageID) (*page.Page, error) {
	f, err := fp.fileFor(store)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, fp.pageSize)
	off := int64(pid) * int64(fp.pageSize)
	n, err := f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, zerr.Wrap(zerr.IOError, err, "volume: read store %d page %d", store, pid)
	}
	if n < len(buf) {
		return page.New(fp.pageSize), nil
	}
	return page.Wrap(buf), nil
}

// WritePage writes p's full contents to pid's offset in store's file,
// extending the file (as a sparse hole) if pid lies beyond the current end.
func (fp *filePager) WritePage(store page.StoreID, pid page.PageID, p *page.Page) error {
	f, err := fp.fileFor(store)
	if err != nil {
		return err
	}
	off := int64(pid) * int64(fp.pageSize)
	if _, err := f.WriteAt(p.Bytes(), off); err != nil {
		return zerr.Wrap(zerr.IOError, err, "volume: write store %d page %d", store, pid)
	}
	return nil
}

// Sync fsyncs every store file touched so far.
func (fp *filePager) Sync() error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	var err error
	for store, f := range fp.files {
		if serr := f.Sync(); serr != nil {
			err = multierr.Append(err, zerr.Wrap(zerr.IOError, serr, "volume: sync store %d file", store))
		}
	}
	return err
}

// Close closes every open store file.
func (fp *filePager) Close() error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	var err error
	for store, f := range fp.files {
		if cerr := f.Close(); cerr != nil {
			err = multierr.Append(err, zerr.Wrap(zerr.IOError, cerr, "volume: close store %d file", store))
		}
	}
	return err
}
