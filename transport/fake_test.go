package transport

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
)

type fakeConn struct {
	mu sync.Mutex

	listings map[string][]DirEntry
	files    map[string][]byte
	// sizes overrides the size reported by Open.
	sizes   map[string]int64
	written map[string]*bytes.Buffer
	// writeLimit makes created files accept at most this many bytes per write.
	writeLimit   int
	keepAliveErr error
	closed       bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		listings: make(map[string][]DirEntry),
		files:    make(map[string][]byte),
		sizes:    make(map[string]int64),
		written:  make(map[string]*bytes.Buffer),
	}
}

func (c *fakeConn) List(dir string) ([]DirEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.listings[dir]
	if !ok {
		return nil, os.ErrNotExist
	}
	return entries, nil
}

func (c *fakeConn) Open(p string) (io.ReadCloser, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[p]
	if !ok {
		return nil, 0, os.ErrNotExist
	}
	size := int64(len(data))
	if override, ok := c.sizes[p]; ok {
		size = override
	}
	return io.NopCloser(bytes.NewReader(data)), size, nil
}

func (c *fakeConn) Create(p string) (io.WriteCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := &bytes.Buffer{}
	c.written[p] = buf
	return &fakeWriter{buf: buf, limit: c.writeLimit}, nil
}

func (c *fakeConn) KeepAlive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAliveErr
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.limit > 0 && len(p) > w.limit {
		p = p[:w.limit]
	}
	return w.buf.Write(p)
}

func (w *fakeWriter) Close() error { return nil }

type fakeDialer struct {
	conn  *fakeConn
	err   error
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context, target Target, state func(State)) (Conn, error) {
	d.dials++
	state(StateTrustPending)
	if d.err != nil {
		return nil, d.err
	}
	state(StateAuthenticating)
	return d.conn, nil
}
