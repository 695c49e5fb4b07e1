package chunk

import (
	"context"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
)

// Source yields the chunks of a transfer in order. NextChunk returns io.EOF
// once every chunk has been read.
type Source interface {
	NextChunk(ctx context.Context) ([]byte, error)
}

// Sink reassembles a transfer.
type Sink interface {
	Begin(ctx context.Context, m Metadata) error
	WriteChunk(ctx context.Context, chunk []byte) error
	End(ctx context.Context) error
}

// |||||| BUFFER ||||||

// Buffer is an in-memory Source and Sink.
type Buffer struct {
	mu     sync.Mutex
	meta   Metadata
	chunks [][]byte
	next   int
	ended  bool
}

// Split cuts data into a Buffer of size-byte chunks.
func Split(data []byte, size int) *Buffer {
	b := &Buffer{}
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		b.chunks = append(b.chunks, data[:n])
		data = data[n:]
	}
	return b
}

func (b *Buffer) NextChunk(context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next >= len(b.chunks) {
		return nil, io.EOF
	}
	c := b.chunks[b.next]
	b.next++
	return c, nil
}

func (b *Buffer) Begin(_ context.Context, m Metadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta = m
	return nil
}

func (b *Buffer) WriteChunk(_ context.Context, chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, append([]byte(nil), chunk...))
	return nil
}

func (b *Buffer) End(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = true
	return nil
}

func (b *Buffer) Metadata() Metadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta
}

func (b *Buffer) Ended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ended
}

// Bytes returns every chunk joined.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []byte
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// |||||| FILES ||||||

// FileSource reads a list of files as consecutive chunks.
type FileSource struct {
	fs        vfs.FS
	paths     []string
	chunkSize int
	cur       vfs.File
	idx       int
	buf       []byte
}

// OpenFiles prepares paths for sending and describes them. Files are named
// by their base name in the metadata.
func OpenFiles(fs vfs.FS, chunkSize int, paths ...string) (*FileSource, Metadata, error) {
	files := make([]FileInfo, len(paths))
	for i, p := range paths {
		info, err := fs.Stat(p)
		if err != nil {
			return nil, Metadata{}, errors.Wrapf(err, "[chunk] - failed to stat %s", p)
		}
		files[i] = FileInfo{Name: fs.PathBase(p), Size: info.Size()}
	}
	src := &FileSource{fs: fs, paths: paths, chunkSize: chunkSize, buf: make([]byte, chunkSize)}
	return src, NewMetadata(chunkSize, files...), nil
}

func (s *FileSource) NextChunk(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.cur == nil {
			if s.idx >= len(s.paths) {
				return nil, io.EOF
			}
			f, err := s.fs.Open(s.paths[s.idx])
			if err != nil {
				return nil, errors.Wrapf(err, "[chunk] - failed to open %s", s.paths[s.idx])
			}
			s.cur = f
		}
		n, err := io.ReadFull(s.cur, s.buf)
		if n > 0 {
			return append([]byte(nil), s.buf[:n]...), nil
		}
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(err, "[chunk] - failed to read %s", s.paths[s.idx])
		}
		if err := s.cur.Close(); err != nil {
			return nil, err
		}
		s.cur = nil
		s.idx++
	}
}

func (s *FileSource) Close() error {
	if s.cur == nil {
		return nil
	}
	return s.cur.Close()
}

// DirSink writes received files into a directory.
type DirSink struct {
	fs      vfs.FS
	dir     string
	meta    Metadata
	cur     vfs.File
	idx     int
	written int64
}

func NewDirSink(fs vfs.FS, dir string) *DirSink {
	return &DirSink{fs: fs, dir: dir}
}

func (s *DirSink) Begin(_ context.Context, m Metadata) error {
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return errors.Wrapf(err, "[chunk] - failed to create %s", s.dir)
	}
	s.meta = m
	return s.advance()
}

// advance opens the next file still expecting bytes, creating empty files it
// passes on the way.
func (s *DirSink) advance() error {
	for s.cur == nil && s.idx < len(s.meta.Files) {
		f, err := s.fs.Create(s.fs.PathJoin(s.dir, s.fs.PathBase(s.meta.Files[s.idx].Name)))
		if err != nil {
			return errors.Wrapf(err, "[chunk] - failed to create %s", s.meta.Files[s.idx].Name)
		}
		if s.meta.Files[s.idx].Size > 0 {
			s.cur = f
			return nil
		}
		if err := f.Close(); err != nil {
			return err
		}
		s.idx++
	}
	return nil
}

func (s *DirSink) WriteChunk(_ context.Context, chunk []byte) error {
	if s.cur == nil {
		return errors.Wrap(ErrMalformed, "chunk past the last file")
	}
	file := s.meta.Files[s.idx]
	if s.written+int64(len(chunk)) > file.Size {
		return errors.Wrapf(ErrMalformed, "chunk overruns %s", file.Name)
	}
	if _, err := s.cur.Write(chunk); err != nil {
		return errors.Wrapf(err, "[chunk] - failed to write %s", file.Name)
	}
	s.written += int64(len(chunk))
	if s.written < file.Size {
		return nil
	}
	if err := s.finishFile(); err != nil {
		return err
	}
	return s.advance()
}

func (s *DirSink) finishFile() error {
	err := s.cur.Sync()
	err = errors.CombineErrors(err, s.cur.Close())
	s.cur = nil
	s.written = 0
	s.idx++
	return err
}

func (s *DirSink) End(context.Context) error {
	if s.cur != nil || s.idx < len(s.meta.Files) {
		return errors.Wrapf(ErrIncomplete, "%d of %d files written", s.idx, len(s.meta.Files))
	}
	return nil
}
