package transport

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/b1naryth1ef/sshexplorer/metrics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBufferSize        = 32 * 1024
	DefaultKeepAliveInterval = 500 * time.Millisecond
)

type SessionOptions struct {
	CacheDir          string
	BufferSize        int
	KeepAliveInterval time.Duration

	// Progress, if set, returns a writer that receives a copy of every
	// chunk moved by a transfer of the named file.
	Progress func(name string, size int64) io.Writer

	Log *logrus.Entry
}

type liveness uint8

const (
	livenessUnknown liveness = 0
	livenessAlive   liveness = 1
	livenessDead    liveness = 2
)

// Session is the transport worker. It owns the single live Conn and
// processes requests strictly one at a time from Run's goroutine.
type Session struct {
	dialer Dialer
	opts   SessionOptions
	log    *logrus.Entry

	requests chan Request
	events   chan Event

	conn       Conn
	generation uint64
	state      State
	lastCheck  liveness
	buf        []byte
}

func NewSession(dialer Dialer, opts SessionOptions) *Session {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if opts.CacheDir == "" {
		opts.CacheDir = filepath.Join(os.TempDir(), "sshexplorer")
	}
	log := opts.Log
	if log == nil {
		log = logrus.WithField("component", "session")
	}

	return &Session{
		dialer:   dialer,
		opts:     opts,
		log:      log,
		requests: make(chan Request, 64),
		events:   make(chan Event, 64),
		buf:      make([]byte, opts.BufferSize),
	}
}

func (s *Session) Requests() chan<- Request {
	return s.requests
}

func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.KeepAliveInterval)
	defer ticker.Stop()
	defer s.teardown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.requests:
			s.handle(ctx, req)
		case <-ticker.C:
			s.checkLiveness(ctx)
		}
	}
}

func (s *Session) handle(ctx context.Context, req Request) {
	switch req.Type {
	case RequestConnect:
		s.connect(ctx, req)
	case RequestList:
		s.list(ctx, req.Path)
	case RequestDownload:
		s.download(ctx, req.Path)
	case RequestUpload:
		s.upload(ctx, req.LocalPath, req.Path)
	default:
		s.log.Warnf("ignoring unsupported request type %v", req.Type)
	}
}

func (s *Session) emit(ctx context.Context, ev Event) {
	ev.Generation = s.generation
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Session) setState(ctx context.Context, state State, err error) {
	s.state = state
	s.emit(ctx, Event{Type: EventState, State: state, Err: err})
}

func (s *Session) fail(ctx context.Context, err *Error) {
	s.log.WithField("kind", err.Kind.String()).Errorf("%v", err.Err)
	s.emit(ctx, Event{Type: EventError, Path: err.Path, Err: err})
}

func (s *Session) teardown() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debugf("closing connection: %v", err)
	}
	s.conn = nil
}

func (s *Session) connect(ctx context.Context, req Request) {
	s.teardown()
	s.generation = req.Generation
	s.lastCheck = livenessUnknown

	log := s.log.WithField("target", req.Target.String())
	log.Infof("connecting")
	s.setState(ctx, StateConnecting, nil)

	conn, err := s.dialer.Dial(ctx, req.Target, func(state State) {
		s.setState(ctx, state, nil)
	})
	if err != nil {
		metrics.RecordConnect(false)
		terr := newError(ConnectionError, "", err)
		s.fail(ctx, terr)
		s.setState(ctx, StateFailed, terr)
		return
	}

	metrics.RecordConnect(true)
	s.conn = conn
	log.Infof("connected")
	s.setState(ctx, StateReady, nil)
}

// checkLiveness reports connected/disconnected on every tick. First is set
// on the transition from "never checked or failed" to "alive", which happens
// once per successful connect.
func (s *Session) checkLiveness(ctx context.Context) {
	alive := false
	if s.conn != nil {
		if err := s.conn.KeepAlive(); err != nil {
			s.log.Warnf("keepalive failed: %v", err)
			s.teardown()
			terr := newError(ConnectionError, "", errors.Wrap(ErrConnLost, err.Error()))
			s.fail(ctx, terr)
			s.setState(ctx, StateFailed, terr)
		} else {
			alive = true
		}
	}

	prev := s.lastCheck
	if alive {
		s.lastCheck = livenessAlive
	} else {
		s.lastCheck = livenessDead
	}
	metrics.SetConnected(alive)

	s.emit(ctx, Event{
		Type:      EventStatus,
		Connected: alive,
		First:     alive && prev != livenessAlive,
	})
}

func (s *Session) list(ctx context.Context, dir string) {
	if s.conn == nil {
		s.fail(ctx, newError(ListingError, dir, ErrNotConnected))
		return
	}

	s.log.Debugf("listing %s", dir)
	entries, err := s.conn.List(dir)
	if err != nil {
		metrics.RecordListing(false)
		s.fail(ctx, newError(ListingError, dir, err))
		return
	}
	metrics.RecordListing(true)

	result := make([]DirEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		result = append(result, entry)
	}

	s.emit(ctx, Event{Type: EventListing, Path: dir, Entries: result})
}

func (s *Session) progress(name string, size int64) io.Writer {
	if s.opts.Progress == nil {
		return nil
	}
	return s.opts.Progress(name, size)
}

// LocalPath is where a download of remotePath lands in the private cache.
func (s *Session) LocalPath(remotePath string) string {
	return filepath.Join(s.opts.CacheDir, path.Base(remotePath))
}

func (s *Session) download(ctx context.Context, remotePath string) {
	if s.conn == nil {
		s.fail(ctx, newError(TransferError, remotePath, ErrNotConnected))
		return
	}

	localPath := s.LocalPath(remotePath)
	n, err := s.fetch(remotePath, localPath)
	if err != nil {
		metrics.RecordTransfer("download", false, 0)
		s.fail(ctx, newError(TransferError, remotePath, err))
		return
	}

	metrics.RecordTransfer("download", true, n)
	s.log.Debugf("downloaded %s -> %s (%d bytes)", remotePath, localPath, n)
	s.emit(ctx, Event{Type: EventFileReceived, Path: remotePath, LocalPath: localPath})
}

// fetch copies remotePath into localPath. The local file is only removed on
// failure if this call created or truncated it.
func (s *Session) fetch(remotePath, localPath string) (int64, error) {
	src, size, err := s.conn.Open(remotePath)
	if err != nil {
		return 0, errors.Wrap(err, "open remote file")
	}
	defer src.Close()

	if err := os.MkdirAll(s.opts.CacheDir, 0o700); err != nil {
		return 0, errors.Wrap(err, "create cache directory")
	}
	dst, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, errors.Wrap(err, "create local file")
	}

	n, err := copyBuffer(dst, src, size, s.buf, s.progress(path.Base(remotePath), size))
	if err == nil {
		if err = dst.Close(); err != nil {
			err = errors.Wrap(err, "close local file")
		}
	} else {
		dst.Close()
	}
	if err != nil {
		if rerr := os.Remove(localPath); rerr != nil && !os.IsNotExist(rerr) {
			s.log.Warnf("failed to remove partial download %s: %v", localPath, rerr)
		}
		return n, err
	}
	return n, nil
}

func (s *Session) upload(ctx context.Context, localPath, remotePath string) {
	if s.conn == nil {
		s.fail(ctx, newError(TransferError, remotePath, ErrNotConnected))
		return
	}

	n, err := s.send(localPath, remotePath)
	if err != nil {
		metrics.RecordTransfer("upload", false, 0)
		s.fail(ctx, newError(TransferError, remotePath, err))
		return
	}

	metrics.RecordTransfer("upload", true, n)
	s.log.Debugf("uploaded %s -> %s (%d bytes)", localPath, remotePath, n)
	s.emit(ctx, Event{Type: EventFileSent, Path: remotePath, LocalPath: localPath})
}

func (s *Session) send(localPath, remotePath string) (int64, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return 0, errors.Wrap(err, "open local file")
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat local file")
	}

	dst, err := s.conn.Create(remotePath)
	if err != nil {
		return 0, errors.Wrap(err, "create remote file")
	}

	n, err := copyBuffer(dst, src, info.Size(), s.buf, s.progress(filepath.Base(localPath), info.Size()))
	if err != nil {
		dst.Close()
		return n, err
	}
	if err := dst.Close(); err != nil {
		return n, errors.Wrap(err, "close remote file")
	}
	return n, nil
}
