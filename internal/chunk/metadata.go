// Package chunk moves files through a relay tree: the sending side splits
// files into fixed-size chunks behind a metadata frame, and the receiving
// side reassembles them.
package chunk

import (
	"github.com/ShaikAli65/PeerConnect-sub000/internal/wire"
	"github.com/cockroachdb/errors"
)

var (
	ErrMalformed = errors.New("[chunk] - malformed metadata")
	// ErrIncomplete is returned when a stream ends before every announced
	// chunk arrived.
	ErrIncomplete = errors.New("[chunk] - transfer incomplete")
)

type FileInfo struct {
	Name string
	Size int64
}

// Metadata describes a transfer. It travels as the first frame of a stream.
type Metadata struct {
	Files      []FileInfo
	ChunkSize  int
	ChunkCount int
}

// chunksFor returns the number of chunks a file of size bytes is split into.
// Chunks never span files.
func chunksFor(size int64, chunkSize int) int {
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}

// NewMetadata describes files split into chunkSize chunks.
func NewMetadata(chunkSize int, files ...FileInfo) Metadata {
	m := Metadata{Files: files, ChunkSize: chunkSize}
	for _, f := range files {
		m.ChunkCount += chunksFor(f.Size, chunkSize)
	}
	return m
}

func (m Metadata) Validate() error {
	if m.ChunkSize <= 0 {
		return errors.Wrap(ErrMalformed, "chunk size must be positive")
	}
	want := 0
	for _, f := range m.Files {
		if f.Name == "" || f.Size < 0 {
			return errors.Wrapf(ErrMalformed, "invalid file %q", f.Name)
		}
		want += chunksFor(f.Size, m.ChunkSize)
	}
	if want != m.ChunkCount {
		return errors.Wrapf(ErrMalformed, "chunk count %d does not match files (%d)", m.ChunkCount, want)
	}
	return nil
}

// Size returns the total number of bytes in the transfer.
func (m Metadata) Size() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

func (m Metadata) Encode() ([]byte, error) {
	files := make([]wire.Body, len(m.Files))
	for i, f := range m.Files {
		files[i] = wire.Body{"name": f.Name, "size": f.Size}
	}
	return wire.Encode(wire.Packet{
		Header: wire.HeaderTransferMetadata,
		Body: wire.Body{
			"chunk_size":  m.ChunkSize,
			"chunk_count": m.ChunkCount,
			"files":       files,
		},
	})
}

func DecodeMetadata(b []byte) (Metadata, error) {
	pkt, err := wire.Decode(b)
	if err != nil {
		return Metadata{}, errors.Wrap(ErrMalformed, err.Error())
	}
	if pkt.Header != wire.HeaderTransferMetadata {
		return Metadata{}, errors.Wrapf(ErrMalformed, "unexpected header %s", pkt.Header)
	}
	m := Metadata{
		ChunkSize:  pkt.Body.Int("chunk_size"),
		ChunkCount: pkt.Body.Int("chunk_count"),
	}
	for _, f := range pkt.Body.Bodies("files") {
		m.Files = append(m.Files, FileInfo{Name: f.String("name"), Size: int64(f.Int("size"))})
	}
	return m, m.Validate()
}
