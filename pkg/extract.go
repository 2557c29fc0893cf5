package pkg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

type extractOptionData struct {
	workers  int
	progress func(done int64)
}

// ExtractOption functions can be supplied to ExtractAll.
type ExtractOption func(*extractOptionData)

// WithWorkers bounds the number of entries decoded at the same time.
func WithWorkers(n int) ExtractOption {
	return func(o *extractOptionData) {
		o.workers = n
	}
}

// WithProgress reports the running total of bytes written to the sinks.
// Calls are serialized and the total never decreases.
func WithProgress(fn func(done int64)) ExtractOption {
	return func(o *extractOptionData) {
		o.progress = fn
	}
}

// A SinkFunc returns the destination of one entry. It is closed once the
// entry has been written. Returning a nil writer skips the entry, which is
// how directories are usually handled.
type SinkFunc func(e FileEntry) (io.WriteCloser, error)

// ExtractAll decodes every entry into the writer sink returns for it. Each
// worker reads through its own view of the source. A failing entry does not
// stop the others; all failures are joined into the returned error.
// Cancelling ctx stops the batch before the next entry starts.
func (p *Package) ExtractAll(ctx context.Context, sink SinkFunc, options ...ExtractOption) error {
	o := &extractOptionData{workers: runtime.NumCPU()}
	for _, opt := range options {
		opt(o)
	}
	if o.workers < 1 {
		o.workers = 1
	}

	entries, err := p.Entries()
	if err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
		done int64
	)

	report := func(n int64) {
		mu.Lock()
		defer mu.Unlock()

		done += n
		if o.progress != nil {
			o.progress(done)
		}
	}

	fail := func(e *FileEntry, err error) {
		mu.Lock()
		defer mu.Unlock()

		errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
	}

	g := new(errgroup.Group)
	g.SetLimit(o.workers)

	for i := range entries {
		if ctx.Err() != nil {
			break
		}

		e := &entries[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			n, err := p.extractTo(view(p.src), e, sink)
			if err != nil {
				fail(e, err)
				return nil
			}

			report(n)
			return nil
		})
	}

	g.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (p *Package) extractTo(src Source, e *FileEntry, sink SinkFunc) (int64, error) {
	w, err := sink(*e)
	if err != nil || w == nil {
		return 0, err
	}

	cw := &countingWriter{w: w}
	err = p.extractEntry(src, e.Index, cw)

	if cerr := w.Close(); err == nil {
		err = cerr
	}

	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}
