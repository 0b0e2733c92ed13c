package source

import (
	"os"

	"golang.org/x/exp/mmap"

	"github.com/indrora/payload-extract/payload"
)

// LocalFile is a memory-mapped local file. Memory-mapped regions let
// concurrent ReadAt calls proceed lock-free, so it reports Cleavable.
type LocalFile struct {
	path string
	ra   *mmap.ReaderAt
}

// OpenLocalFile memory-maps path for read-only random access.
func OpenLocalFile(path string) (*LocalFile, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, payload.Wrap(payload.KindInputNotFound, err, "open %s", path)
		}
		return nil, payload.Wrap(payload.KindIoWrite, err, "stat %s", path)
	}
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, payload.Wrap(payload.KindIoWrite, err, "mmap %s", path)
	}
	return &LocalFile{path: path, ra: ra}, nil
}

func (f *LocalFile) Len() int64 { return int64(f.ra.Len()) }

func (f *LocalFile) ReadAt(buf []byte, offset int64) (int, error) {
	total := f.Len()
	if offset < 0 || offset > total {
		return 0, payload.Wrap(payload.KindIoWrite, nil, "%s: offset %d out of range [0,%d]", f.path, offset, total)
	}
	want := len(buf)
	if offset+int64(want) > total {
		want = int(total - offset)
	}
	if want == 0 {
		return 0, nil
	}
	n, err := f.ra.ReadAt(buf[:want], offset)
	if n == want {
		// mmap.ReaderAt.ReadAt returns io.EOF when it reads exactly to the
		// end of the mapping; that is not an error for our contract.
		return n, nil
	}
	return n, err
}

func (f *LocalFile) Close() error { return f.ra.Close() }

func (f *LocalFile) Cleavable() bool { return true }
