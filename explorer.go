// Package sshexplorer browses and transfers files on a remote host over a
// single SSH connection.
package sshexplorer

import (
	"context"
	"path"

	"github.com/b1naryth1ef/sshexplorer/cache"
	"github.com/b1naryth1ef/sshexplorer/metrics"
	"github.com/b1naryth1ef/sshexplorer/transport"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultMaxDownloadSize is the reference cap on files opened for download.
const DefaultMaxDownloadSize = 100 * 1024 * 1024

var (
	ErrNotFound    = errors.New("no such file")
	ErrIsDirectory = errors.New("is a directory")
	ErrTooLarge    = errors.New("file exceeds the download size limit")
)

// Options carries the size policy and the observer callbacks. Every
// callback runs on the explorer goroutine, in event order.
type Options struct {
	MaxDownloadSize int64

	Observer cache.Observer
	OnState  func(state transport.State, err error)
	OnStatus func(connected, first bool)
	OnListed func(path string, changes []cache.Change)
	OnFile   func(localPath, remotePath string)
	OnSent   func(localPath, remotePath string)
	OnError  func(err error)

	Log *logrus.Entry
}

type Status struct {
	Target     transport.Target `json:"target"`
	Generation uint64           `json:"generation"`
	State      string           `json:"state"`
	Connected  bool             `json:"connected"`
}

// Explorer owns the cache and routes between it and the session worker.
// The tree is only touched from Run's goroutine; other goroutines reach it
// through the methods below, which are queued onto that goroutine.
type Explorer struct {
	opts Options
	log  *logrus.Entry

	requests chan<- transport.Request
	events   <-chan transport.Event
	calls    chan func()

	tree       *cache.Tree
	queue      []transport.Request
	target     transport.Target
	generation uint64
	state      transport.State
	connected  bool
}

func New(requests chan<- transport.Request, events <-chan transport.Event, opts Options) *Explorer {
	log := opts.Log
	if log == nil {
		log = logrus.WithField("component", "explorer")
	}

	e := &Explorer{
		opts:     opts,
		log:      log,
		requests: requests,
		events:   events,
		calls:    make(chan func()),
	}
	e.tree = cache.New(e.wanted, opts.Observer, log.WithField("component", "cache"))
	return e
}

// NewWithSession wires an Explorer to a Session's channels.
func NewWithSession(session *transport.Session, opts Options) *Explorer {
	return New(session.Requests(), session.Events(), opts)
}

func (e *Explorer) Run(ctx context.Context) error {
	for {
		var out chan<- transport.Request
		var next transport.Request
		if len(e.queue) > 0 {
			out = e.requests
			next = e.queue[0]
		}

		select {
		case <-ctx.Done():
			return nil
		case out <- next:
			e.queue = e.queue[1:]
		case ev, ok := <-e.events:
			if !ok {
				return nil
			}
			e.handle(ev)
		case fn := <-e.calls:
			fn()
		}
	}
}

// do runs fn on the explorer goroutine. Once fn has been handed over it
// always runs to completion, so do waits for it even if ctx ends first and
// fn's captured results are never written after do returns.
func (e *Explorer) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case e.calls <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (e *Explorer) enqueue(req transport.Request) {
	e.queue = append(e.queue, req)
}

func (e *Explorer) wanted(p string) {
	e.enqueue(transport.Request{Type: transport.RequestList, Path: p})
}

// Connect tears down whatever came before and starts a new connection
// generation. The cache is emptied below the root.
func (e *Explorer) Connect(ctx context.Context, target transport.Target) error {
	return e.do(ctx, func() { e.connect(target) })
}

func (e *Explorer) connect(target transport.Target) {
	e.generation++
	e.target = target
	e.connected = false
	e.state = transport.StateConnecting
	e.queue = e.queue[:0]
	e.tree.Reset()

	e.log.WithField("generation", e.generation).Infof("connecting to %s", target)
	e.enqueue(transport.Request{
		Type:       transport.RequestConnect,
		Generation: e.generation,
		Target:     target,
	})
}

// Expand is the user expanding a node: list it and preload its
// subdirectories.
func (e *Explorer) Expand(ctx context.Context, p string) error {
	return e.do(ctx, func() { e.tree.UserExpanded(p) })
}

// Refresh lists p again without preloading.
func (e *Explorer) Refresh(ctx context.Context, p string) error {
	return e.do(ctx, func() { e.tree.Refresh(p) })
}

// Open requests a download of the file at p. Directories, unknown paths and
// files over the size limit are refused without contacting the transport.
func (e *Explorer) Open(ctx context.Context, p string) error {
	var err error
	if derr := e.do(ctx, func() { err = e.open(p) }); derr != nil {
		return derr
	}
	return err
}

func (e *Explorer) open(p string) error {
	id, err := e.tree.Resolve(p, false)
	if err != nil {
		return errors.Wrap(ErrNotFound, cache.Clean(p))
	}
	entry, _ := e.tree.Entry(id)
	if entry.IsDir {
		return errors.Wrap(ErrIsDirectory, entry.Path)
	}
	if e.opts.MaxDownloadSize > 0 && entry.Size > e.opts.MaxDownloadSize {
		return errors.Wrapf(ErrTooLarge, "%s is %d bytes", entry.Path, entry.Size)
	}

	e.enqueue(transport.Request{Type: transport.RequestDownload, Path: entry.Path})
	return nil
}

func (e *Explorer) Upload(ctx context.Context, localPath, remotePath string) error {
	return e.do(ctx, func() {
		e.enqueue(transport.Request{
			Type:      transport.RequestUpload,
			Path:      cache.Clean(remotePath),
			LocalPath: localPath,
		})
	})
}

// View runs fn on the explorer goroutine with exclusive access to the tree.
func (e *Explorer) View(ctx context.Context, fn func(tree *cache.Tree)) error {
	return e.do(ctx, func() { fn(e.tree) })
}

func (e *Explorer) Status(ctx context.Context) (Status, error) {
	var status Status
	err := e.do(ctx, func() {
		status = Status{
			Target:     e.target,
			Generation: e.generation,
			State:      e.state.String(),
			Connected:  e.connected,
		}
	})
	return status, err
}

func (e *Explorer) handle(ev transport.Event) {
	if ev.Generation != e.generation {
		e.log.Debugf("discarding event %d from generation %d (current %d)", ev.Type, ev.Generation, e.generation)
		return
	}

	switch ev.Type {
	case transport.EventState:
		e.state = ev.State
		if e.opts.OnState != nil {
			e.opts.OnState(ev.State, ev.Err)
		}
	case transport.EventStatus:
		e.connected = ev.Connected
		if ev.First {
			e.log.Infof("connection established, preloading /")
			e.tree.ConnectionEstablished()
		}
		if e.opts.OnStatus != nil {
			e.opts.OnStatus(ev.Connected, ev.First)
		}
	case transport.EventListing:
		p := cache.Clean(ev.Path)
		changes := e.tree.Reconcile(p, ev.Entries)
		metrics.SetTreeNodes(e.tree.Len())
		if e.opts.OnListed != nil {
			e.opts.OnListed(p, changes)
		}
	case transport.EventFileReceived:
		if e.opts.OnFile != nil {
			e.opts.OnFile(ev.LocalPath, ev.Path)
		}
	case transport.EventFileSent:
		e.tree.Refresh(path.Dir(ev.Path))
		if e.opts.OnSent != nil {
			e.opts.OnSent(ev.LocalPath, ev.Path)
		}
	case transport.EventError:
		e.log.Warnf("%v", ev.Err)
		if e.opts.OnError != nil {
			e.opts.OnError(ev.Err)
		}
	}
}
