package main

import (
	"context"
	"errors"
	"io"

	"github.com/b1naryth1ef/sshexplorer"
	"github.com/b1naryth1ef/sshexplorer/cache"
	"github.com/b1naryth1ef/sshexplorer/connections"
	"github.com/b1naryth1ef/sshexplorer/transport"
	"github.com/b1naryth1ef/sshexplorer/trust"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type appEventType = uint8

const (
	appEventState  appEventType = 0
	appEventStatus appEventType = 1
	appEventListed appEventType = 2
	appEventFile   appEventType = 3
	appEventSent   appEventType = 4
	appEventError  appEventType = 5
)

type appEvent struct {
	Type      appEventType
	State     transport.State
	First     bool
	Path      string
	LocalPath string
	Err       error
}

// app runs a session and an explorer for the lifetime of one command and
// funnels explorer callbacks into a channel the command can wait on.
type app struct {
	explorer *sshexplorer.Explorer
	session  *transport.Session
	events   chan appEvent
}

type appOptions struct {
	progress bool
}

func newApp(opts appOptions) *app {
	a := &app{events: make(chan appEvent, 1024)}

	prompter := newTerminalPrompter()
	verifier := trust.NewVerifier(trust.NewStore(cfg.KnownHosts), prompter, nil)
	dialer := &transport.SSHDialer{
		HostKeyCallback:  verifier.Check,
		Password:         prompter.Password,
		ConnectTimeout:   cfg.ConnectTimeout,
		KeepAliveTimeout: cfg.KeepAliveTimeout,
	}

	sessionOpts := transport.SessionOptions{
		CacheDir:          cfg.CacheDir,
		BufferSize:        cfg.BufferSize,
		KeepAliveInterval: cfg.KeepAliveInterval,
	}
	if opts.progress {
		sessionOpts.Progress = func(name string, size int64) io.Writer {
			return progressbar.DefaultBytes(size, name)
		}
	}
	a.session = transport.NewSession(dialer, sessionOpts)

	a.explorer = sshexplorer.NewWithSession(a.session, sshexplorer.Options{
		MaxDownloadSize: cfg.MaxDownloadSize,
		OnState: func(state transport.State, err error) {
			a.post(appEvent{Type: appEventState, State: state, Err: err})
		},
		OnStatus: func(connected, first bool) {
			if first {
				a.post(appEvent{Type: appEventStatus, First: true})
			}
		},
		OnListed: func(p string, changes []cache.Change) {
			a.post(appEvent{Type: appEventListed, Path: p})
		},
		OnFile: func(localPath, remotePath string) {
			a.post(appEvent{Type: appEventFile, Path: remotePath, LocalPath: localPath})
		},
		OnSent: func(localPath, remotePath string) {
			a.post(appEvent{Type: appEventSent, Path: remotePath, LocalPath: localPath})
		},
		OnError: func(err error) {
			var terr *transport.Error
			p := ""
			if errors.As(err, &terr) {
				p = terr.Path
			}
			a.post(appEvent{Type: appEventError, Path: p, Err: err})
		},
	})
	return a
}

// post never blocks the explorer goroutine; commands that do not wait on
// events simply let the buffer fill.
func (a *app) post(ev appEvent) {
	select {
	case a.events <- ev:
	default:
		logrus.Debugf("dropping app event %d for %s", ev.Type, ev.Path)
	}
}

// await reads events until match reports done or an error.
func (a *app) await(ctx context.Context, match func(ev appEvent) (bool, error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.events:
			done, err := match(ev)
			if err != nil || done {
				return err
			}
		}
	}
}

func (a *app) awaitConnected(ctx context.Context) error {
	return a.await(ctx, func(ev appEvent) (bool, error) {
		switch ev.Type {
		case appEventState:
			if ev.State == transport.StateFailed {
				return false, ev.Err
			}
		case appEventStatus:
			return ev.First, nil
		}
		return false, nil
	})
}

// errorFor reports whether ev is an error about p.
func errorFor(ev appEvent, p string) bool {
	return ev.Type == appEventError && ev.Path != "" && cache.Clean(ev.Path) == cache.Clean(p)
}

// run connects to target and calls fn once the connection is live. The
// session and explorer stop when fn returns.
func (a *app) run(ctx context.Context, target transport.Target, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.session.Run(ctx)
	})
	g.Go(func() error {
		return a.explorer.Run(ctx)
	})
	g.Go(func() error {
		defer cancel()
		if err := a.explorer.Connect(ctx, target); err != nil {
			return err
		}
		if err := a.awaitConnected(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resolveTarget accepts a saved connection name or a user@host[:port] string.
func resolveTarget(raw string) (transport.Target, error) {
	store, err := connections.Open(cfg.ConnectionsFile)
	if err != nil {
		return transport.Target{}, err
	}
	if c, ok := store.Get(raw); ok {
		return c.Target(), nil
	}
	return transport.ParseTarget(raw)
}
