package client

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/core/log"
	"github.com/ebogdum/hnsfs/internal/pathutil"
	"github.com/ebogdum/hnsfs/metadata"
	"github.com/ebogdum/hnsfs/metrics"
)

// WriteStream buffers writes to one file. It is not safe for concurrent use.
//
// An append stream appends the buffer to the file on Flush, when the buffer
// fills and on Close. A create stream publishes nothing before Close: content
// that outgrows the buffer is staged in a hidden sibling file, which Close
// concatenates onto the target in one store call.
type WriteStream struct {
	client *StoreClient
	ctx    context.Context
	path   string
	buf    []byte
	closed bool

	create    bool
	overwrite bool
	staging   string
}

var _ io.WriteCloser = (*WriteStream)(nil)

func (c *StoreClient) newWriteStream(ctx context.Context, path string) *WriteStream {
	return &WriteStream{
		client: c,
		ctx:    ctx,
		path:   path,
		buf:    make([]byte, 0, c.cfg.WriteBufferSize),
	}
}

func (c *StoreClient) newCreateStream(ctx context.Context, path string, overwrite bool) *WriteStream {
	w := c.newWriteStream(ctx, path)
	w.create = true
	w.overwrite = overwrite
	return w
}

// stagingPath names the hidden sibling a create stream spills into.
func stagingPath(path string) string {
	return pathutil.Join(pathutil.Parent(path), "."+pathutil.Base(path)+".part-"+uuid.NewString())
}

// Write buffers p, flushing each time the buffer fills.
func (w *WriteStream) Write(p []byte) (int, error) {
	if w.closed {
		return 0, closedError(w.path)
	}

	limit := w.client.cfg.WriteBufferSize
	written := 0
	for len(p) > 0 {
		n := min(limit-len(w.buf), len(p))
		w.buf = append(w.buf, p[:n]...)
		written += n
		p = p[n:]

		if len(w.buf) >= limit {
			if err := w.flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Flush hands the buffered bytes to the store. For a create stream they stay
// invisible at the target until Close.
func (w *WriteStream) Flush() error {
	if w.closed {
		return closedError(w.path)
	}
	return w.flush()
}

// Close flushes what remains and releases the stream. A create stream
// publishes its content here. Closing twice is a no-op.
func (w *WriteStream) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer func() { w.buf = nil }()

	if !w.create {
		return w.flush()
	}
	if w.staging == "" {
		return w.createTarget()
	}
	if err := w.flush(); err != nil {
		w.discardStaging()
		return err
	}
	return w.publish()
}

func (w *WriteStream) flush() error {
	if len(w.buf) == 0 {
		return nil
	}

	var err error
	switch {
	case !w.create:
		err = w.client.invoke(w.ctx, "append", w.path, func(ctx context.Context) error {
			return w.client.transport.Append(ctx, w.path, bytes.NewReader(w.buf))
		})
	case w.staging == "":
		staging := stagingPath(w.path)
		err = w.client.invoke(w.ctx, "create_file", staging, func(ctx context.Context) error {
			return w.client.transport.Create(ctx, staging, bytes.NewReader(w.buf), false)
		})
		if err == nil {
			w.staging = staging
		}
	default:
		err = w.client.invoke(w.ctx, "append", w.staging, func(ctx context.Context) error {
			return w.client.transport.Append(ctx, w.staging, bytes.NewReader(w.buf))
		})
	}
	if err != nil {
		return err
	}
	metrics.ClientBytesTotal.WithLabelValues("write").Add(float64(len(w.buf)))
	w.buf = w.buf[:0]
	return nil
}

// createTarget writes a buffer that never spilled straight to the target.
func (w *WriteStream) createTarget() error {
	err := w.client.invoke(w.ctx, "create_file", w.path, func(ctx context.Context) error {
		return w.client.transport.Create(ctx, w.path, bytes.NewReader(w.buf), w.overwrite)
	})
	if err != nil {
		return err
	}
	metrics.ClientBytesTotal.WithLabelValues("write").Add(float64(len(w.buf)))
	return nil
}

// publish moves the staged content onto the target.
func (w *WriteStream) publish() error {
	if !w.overwrite {
		exists, err := w.client.Exists(w.ctx, w.path)
		if err != nil {
			w.discardStaging()
			return err
		}
		if exists {
			w.discardStaging()
			return metadata.Errorf(metadata.ErrAlreadyExists, "%s was created while the stream was open", w.path)
		}
	}
	err := w.client.invoke(w.ctx, "create_file", w.path, func(ctx context.Context) error {
		return w.client.transport.Concat(ctx, w.path, []string{w.staging})
	})
	if err != nil {
		w.discardStaging()
	}
	return err
}

func (w *WriteStream) discardStaging() {
	err := w.client.invoke(w.ctx, "delete", w.staging, func(ctx context.Context) error {
		return w.client.transport.Delete(ctx, w.staging, false)
	})
	if err != nil && !errors.Is(err, metadata.ErrNotFound) {
		w.client.logger.Warn("Failed to remove staged content",
			log.PathField("path", w.staging),
			zap.Error(err))
	}
}

// ReadStream reads one file sequentially. It is finite and cannot be rewound.
type ReadStream struct {
	path      string
	body      io.ReadCloser
	requestID string
	closed    bool
}

var _ io.ReadCloser = (*ReadStream)(nil)

// Read reads the next bytes of the file. The end of the file is io.EOF.
func (r *ReadStream) Read(p []byte) (int, error) {
	if r.closed {
		return 0, closedError(r.path)
	}

	n, err := r.body.Read(p)
	if n > 0 {
		metrics.ClientBytesTotal.WithLabelValues("read").Add(float64(n))
	}
	if err != nil && err != io.EOF {
		err = toRemoteError("read_stream", r.requestID, err)
	}
	return n, err
}

// Close releases the underlying transport resources. Closing twice is a no-op.
func (r *ReadStream) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.body.Close()
}

func closedError(path string) error {
	return metadata.Errorf(metadata.ErrInvalidState, "stream for %s is closed", path)
}
