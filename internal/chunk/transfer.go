package chunk

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Forwarder relays frames to the children of the root of a tree.
type Forwarder interface {
	Forward(ctx context.Context, frame []byte) error
	Finish(ctx context.Context)
}

// Pumper relays frames from a relay's parent, handing each to consume.
type Pumper interface {
	Pump(ctx context.Context, consume func(ctx context.Context, frame []byte) error) error
}

// Report summarizes one side of a transfer.
type Report struct {
	Metadata Metadata
	// Chunks is the number of chunks sent or received.
	Chunks int
	// Undelivered counts chunks no child accepted. Their subtrees hold an
	// incomplete transfer.
	Undelivered int
}

// Send streams a transfer from the root: the metadata frame, every chunk of
// src, then the empty end-of-stream frame. Chunks no child accepts are
// counted and skipped rather than aborting the transfer.
func Send(ctx context.Context, fwd Forwarder, m Metadata, src Source, logger *zap.Logger) (Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rep := Report{Metadata: m}
	defer fwd.Finish(ctx)
	frame, err := m.Encode()
	if err != nil {
		return rep, err
	}
	if err := fwd.Forward(ctx, frame); err != nil {
		return rep, errors.Wrap(err, "[chunk] - failed to send metadata")
	}
	for {
		c, err := src.NextChunk(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return rep, err
		}
		if len(c) == 0 {
			continue
		}
		if err := fwd.Forward(ctx, c); err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			logger.Debug("chunk undelivered", zap.Int("chunk", rep.Chunks), zap.Error(err))
			rep.Undelivered++
		}
		rep.Chunks++
	}
	if err := fwd.Forward(ctx, []byte{}); err != nil && ctx.Err() != nil {
		return rep, ctx.Err()
	}
	return rep, nil
}

// Receive drives a non-root relay into sink until the end of the stream.
func Receive(ctx context.Context, p Pumper, sink Sink) (Report, error) {
	var (
		rep   Report
		began bool
	)
	err := p.Pump(ctx, func(ctx context.Context, frame []byte) error {
		switch {
		case !began:
			m, err := DecodeMetadata(frame)
			if err != nil {
				return err
			}
			rep.Metadata, began = m, true
			return sink.Begin(ctx, m)
		case len(frame) == 0:
			if rep.Chunks != rep.Metadata.ChunkCount {
				return errors.Wrapf(ErrIncomplete, "received %d of %d chunks", rep.Chunks, rep.Metadata.ChunkCount)
			}
			return sink.End(ctx)
		default:
			rep.Chunks++
			return sink.WriteChunk(ctx, frame)
		}
	})
	return rep, err
}
