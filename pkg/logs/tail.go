package logs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"
)

// maxTailRead bounds how many bytes a single refresh reads. When more than
// this was appended since the last read, the older part is skipped: the
// stream buffer could not hold it anyway.
const maxTailRead = 4 << 20

// FileSource is a log file read incrementally, on demand, for one logical
// source. There is no background goroutine: new lines are absorbed only when
// somebody queries the source.
type FileSource struct {
	Name string
	Path string

	mu      sync.Mutex
	offset  int64
	modTime time.Time
	info    os.FileInfo // identity of the file at the last read
}

// NewFileSource creates a tail reader positioned at the start of path.
func NewFileSource(name, path string) *FileSource {
	return &FileSource{Name: name, Path: path}
}

// Offset returns the byte offset of the next read.
func (f *FileSource) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// LastModified returns the file modification time seen at the last read.
func (f *FileSource) LastModified() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modTime
}

// Refresh returns the non-empty lines appended since the previous call.
// Only complete lines are returned; an unterminated last line is returned
// once its newline has been written.
//
// A missing file yields no lines and rewinds the reader, so a file that is
// recreated later is read from its start. A file that was replaced (rotation)
// or shrank below the stored offset (truncation) is likewise re-read from
// offset 0.
func (f *FileSource) Refresh() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			f.rewind()
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", f.Path, err)
	}

	switch {
	case f.info != nil && !os.SameFile(f.info, info):
		f.rewind()
	case info.Size() < f.offset:
		f.rewind()
	case info.ModTime().Equal(f.modTime) && info.Size() == f.offset:
		return nil, nil
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer file.Close()

	start := f.offset
	skipPartial := false
	if info.Size()-start > maxTailRead {
		start = info.Size() - maxTailRead
		skipPartial = true
	}
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek %s: %w", f.Path, err)
	}
	data, err := io.ReadAll(io.LimitReader(file, maxTailRead))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}

	// A trailing fragment without a newline is still being written; leave
	// it for the next refresh unless it alone fills the read window.
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[:i+1]
	} else if len(data) < maxTailRead {
		data = data[:0]
	}

	f.offset = start + int64(len(data))
	f.modTime = info.ModTime()
	f.info = info

	segments := strings.Split(string(data), "\n")
	if skipPartial && len(segments) > 0 {
		segments = segments[1:]
	}
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.TrimSpace(strings.ToValidUTF8(s, ""))
		if s != "" {
			lines = append(lines, s)
		}
	}
	return lines, nil
}

func (f *FileSource) rewind() {
	f.offset = 0
	f.modTime = time.Time{}
	f.info = nil
}
