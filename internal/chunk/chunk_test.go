package chunk_test

import (
	"bytes"
	"context"
	"io"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/chunk"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// loopback records forwarded frames and replays them to a pump.
type loopback struct {
	frames   [][]byte
	finished bool
	fail     func(frame []byte) error
}

func (l *loopback) Forward(_ context.Context, frame []byte) error {
	if l.fail != nil {
		if err := l.fail(frame); err != nil {
			return err
		}
	}
	l.frames = append(l.frames, append([]byte{}, frame...))
	return nil
}

func (l *loopback) Finish(context.Context) { l.finished = true }

func (l *loopback) Pump(ctx context.Context, consume func(context.Context, []byte) error) error {
	for _, f := range l.frames {
		if err := consume(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(fs vfs.FS, name string, data []byte) {
	f, err := fs.Create(name)
	Expect(err).ToNot(HaveOccurred())
	_, err = f.Write(data)
	Expect(err).ToNot(HaveOccurred())
	Expect(f.Close()).To(Succeed())
}

func readFile(fs vfs.FS, name string) []byte {
	f, err := fs.Open(name)
	Expect(err).ToNot(HaveOccurred())
	defer f.Close()
	b, err := io.ReadAll(f)
	Expect(err).ToNot(HaveOccurred())
	return b
}

var _ = Describe("Metadata", func() {
	It("Should count chunks per file", func() {
		m := chunk.NewMetadata(4,
			chunk.FileInfo{Name: "a", Size: 9},
			chunk.FileInfo{Name: "b", Size: 4},
			chunk.FileInfo{Name: "c", Size: 0},
		)
		Expect(m.ChunkCount).To(Equal(4))
		Expect(m.Size()).To(Equal(int64(13)))
		b, err := m.Encode()
		Expect(err).ToNot(HaveOccurred())
		decoded, err := chunk.DecodeMetadata(b)
		Expect(err).ToNot(HaveOccurred())
		Expect(decoded).To(Equal(m))
	})
	It("Should reject metadata whose chunk count disagrees with its files", func() {
		m := chunk.Metadata{ChunkSize: 4, ChunkCount: 1, Files: []chunk.FileInfo{{Name: "a", Size: 9}}}
		b, err := m.Encode()
		Expect(err).ToNot(HaveOccurred())
		_, err = chunk.DecodeMetadata(b)
		Expect(err).To(MatchError(chunk.ErrMalformed))
	})
	It("Should reject a frame that is not metadata", func() {
		_, err := chunk.DecodeMetadata([]byte("chunk"))
		Expect(err).To(MatchError(chunk.ErrMalformed))
	})
})

var _ = Describe("Transfer", func() {
	ctx := context.Background()

	It("Should reassemble files sent through a tree", func() {
		fs := vfs.NewMem()
		a := bytes.Repeat([]byte("a"), 10)
		writeFile(fs, "a.txt", a)
		writeFile(fs, "empty", nil)
		writeFile(fs, "b.txt", []byte("bee"))
		src, m, err := chunk.OpenFiles(fs, 4, "a.txt", "empty", "b.txt")
		Expect(err).ToNot(HaveOccurred())
		Expect(m.ChunkCount).To(Equal(4))

		tree := &loopback{}
		sent, err := chunk.Send(ctx, tree, m, src, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(sent.Chunks).To(Equal(4))
		Expect(tree.finished).To(BeTrue())
		Expect(tree.frames[len(tree.frames)-1]).To(BeEmpty())

		received, err := chunk.Receive(ctx, tree, chunk.NewDirSink(fs, "recv"))
		Expect(err).ToNot(HaveOccurred())
		Expect(received.Chunks).To(Equal(4))
		Expect(received.Metadata).To(Equal(m))
		Expect(readFile(fs, "recv/a.txt")).To(Equal(a))
		Expect(readFile(fs, "recv/empty")).To(BeEmpty())
		Expect(readFile(fs, "recv/b.txt")).To(Equal([]byte("bee")))
	})

	It("Should count chunks no child accepted", func() {
		calls := 0
		tree := &loopback{fail: func(frame []byte) error {
			calls++
			if calls == 2 {
				return errors.New("exhausted")
			}
			return nil
		}}
		data := []byte("abcdefgh")
		rep, err := chunk.Send(ctx, tree, chunk.NewMetadata(4, chunk.FileInfo{Name: "x", Size: 8}), chunk.Split(data, 4), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(rep.Chunks).To(Equal(2))
		Expect(rep.Undelivered).To(Equal(1))

		sink := &chunk.Buffer{}
		_, err = chunk.Receive(ctx, tree, sink)
		Expect(err).To(MatchError(chunk.ErrIncomplete))
		Expect(sink.Ended()).To(BeFalse())
	})

	It("Should collect chunks into a buffer", func() {
		tree := &loopback{}
		data := []byte("hello, tree")
		m := chunk.NewMetadata(3, chunk.FileInfo{Name: "x", Size: int64(len(data))})
		_, err := chunk.Send(ctx, tree, m, chunk.Split(data, 3), nil)
		Expect(err).ToNot(HaveOccurred())
		sink := &chunk.Buffer{}
		_, err = chunk.Receive(ctx, tree, sink)
		Expect(err).ToNot(HaveOccurred())
		Expect(sink.Bytes()).To(Equal(data))
		Expect(sink.Metadata()).To(Equal(m))
		Expect(sink.Ended()).To(BeTrue())
	})
})
