package palm

import (
	"context"
	"sync"
)

// parentFuture is resolved at most once. The first resolve wins; later calls
// are ignored and report false.
type parentFuture struct {
	once sync.Once
	done chan struct{}
	link *Link
}

func newParentFuture() *parentFuture {
	return &parentFuture{done: make(chan struct{})}
}

func (f *parentFuture) resolve(l *Link) (won bool) {
	f.once.Do(func() {
		f.link = l
		close(f.done)
		won = true
	})
	return won
}

func (f *parentFuture) resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// wait blocks until the future resolves or ctx is done. A root relay resolves
// to a nil link.
func (f *parentFuture) wait(ctx context.Context) (*Link, error) {
	select {
	case <-f.done:
		return f.link, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
