package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTarget = Target{User: "alice", Host: "example.com", Port: 22}

func newTestSession(t *testing.T, dialer Dialer) *Session {
	return NewSession(dialer, SessionOptions{
		CacheDir:   filepath.Join(t.TempDir(), "cache"),
		BufferSize: 4,
	})
}

// drain returns every event the session has produced so far.
func drain(s *Session) []Event {
	var events []Event
	for {
		select {
		case ev := <-s.events:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func ofType(events []Event, typ EventType) []Event {
	var result []Event
	for _, ev := range events {
		if ev.Type == typ {
			result = append(result, ev)
		}
	}
	return result
}

func connected(t *testing.T, conn *fakeConn) *Session {
	s := newTestSession(t, &fakeDialer{conn: conn})
	s.handle(context.Background(), Request{Type: RequestConnect, Generation: 1, Target: testTarget})
	drain(s)
	return s
}

func TestSessionConnectReportsStates(t *testing.T) {
	s := newTestSession(t, &fakeDialer{conn: newFakeConn()})
	s.handle(context.Background(), Request{Type: RequestConnect, Generation: 7, Target: testTarget})

	events := drain(s)
	var states []State
	for _, ev := range events {
		require.Equal(t, EventState, ev.Type)
		assert.Equal(t, uint64(7), ev.Generation)
		states = append(states, ev.State)
	}
	assert.Equal(t, []State{StateConnecting, StateTrustPending, StateAuthenticating, StateReady}, states)
}

func TestSessionConnectFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	s := newTestSession(t, &fakeDialer{err: dialErr})
	ctx := context.Background()

	s.handle(ctx, Request{Type: RequestConnect, Generation: 1, Target: testTarget})
	events := drain(s)

	errs := ofType(events, EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, ConnectionError, KindOf(errs[0].Err))
	assert.ErrorIs(t, errs[0].Err, dialErr)

	last := events[len(events)-1]
	assert.Equal(t, EventState, last.Type)
	assert.Equal(t, StateFailed, last.State)

	s.checkLiveness(ctx)
	status := ofType(drain(s), EventStatus)
	require.Len(t, status, 1)
	assert.False(t, status[0].Connected)
	assert.False(t, status[0].First)
}

func TestSessionTrustFailureKeepsKind(t *testing.T) {
	s := newTestSession(t, &fakeDialer{err: &Error{Kind: TrustError, Err: errors.New("declined")}})
	s.handle(context.Background(), Request{Type: RequestConnect, Generation: 1, Target: testTarget})

	errs := ofType(drain(s), EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, TrustError, KindOf(errs[0].Err))
}

func TestSessionLivenessFirstOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := connected(t, newFakeConn())

	var firsts int
	for i := 0; i < 5; i++ {
		s.checkLiveness(ctx)
		for _, ev := range ofType(drain(s), EventStatus) {
			assert.True(t, ev.Connected)
			if ev.First {
				firsts++
				assert.Equal(t, 0, i, "first must be reported on the first check")
			}
		}
	}
	assert.Equal(t, 1, firsts)

	// A new connection has its own first check.
	s.handle(ctx, Request{Type: RequestConnect, Generation: 2, Target: testTarget})
	drain(s)
	s.checkLiveness(ctx)
	status := ofType(drain(s), EventStatus)
	require.Len(t, status, 1)
	assert.True(t, status[0].First)
	assert.Equal(t, uint64(2), status[0].Generation)
}

func TestSessionLivenessBeforeConnect(t *testing.T) {
	s := newTestSession(t, &fakeDialer{conn: newFakeConn()})
	s.checkLiveness(context.Background())

	status := ofType(drain(s), EventStatus)
	require.Len(t, status, 1)
	assert.False(t, status[0].Connected)
	assert.False(t, status[0].First)
}

func TestSessionKeepAliveFailure(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConn()
	s := connected(t, conn)

	s.checkLiveness(ctx)
	drain(s)

	conn.keepAliveErr = errors.New("broken pipe")
	s.checkLiveness(ctx)
	events := drain(s)

	errs := ofType(events, EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, ErrConnLost)

	status := ofType(events, EventStatus)
	require.Len(t, status, 1)
	assert.False(t, status[0].Connected)
	assert.False(t, status[0].First)

	assert.True(t, conn.closed)
	assert.Nil(t, s.conn)
	assert.Equal(t, StateFailed, s.state)
}

func TestSessionListFiltersDotEntries(t *testing.T) {
	conn := newFakeConn()
	conn.listings["/home/"] = []DirEntry{
		{Name: "."},
		{Name: ".."},
		{Name: "alice", IsDir: true},
		{Name: ".profile"},
	}
	s := connected(t, conn)

	s.handle(context.Background(), Request{Type: RequestList, Path: "/home/"})
	listings := ofType(drain(s), EventListing)
	require.Len(t, listings, 1)
	assert.Equal(t, "/home/", listings[0].Path)

	var names []string
	for _, entry := range listings[0].Entries {
		names = append(names, entry.Name)
	}
	assert.Equal(t, []string{"alice", ".profile"}, names)
}

func TestSessionListEmptyDirectory(t *testing.T) {
	conn := newFakeConn()
	conn.listings["/empty/"] = []DirEntry{{Name: "."}, {Name: ".."}}
	s := connected(t, conn)

	s.handle(context.Background(), Request{Type: RequestList, Path: "/empty/"})
	listings := ofType(drain(s), EventListing)
	require.Len(t, listings, 1)
	assert.NotNil(t, listings[0].Entries)
	assert.Empty(t, listings[0].Entries)
}

func TestSessionListFailure(t *testing.T) {
	s := connected(t, newFakeConn())

	s.handle(context.Background(), Request{Type: RequestList, Path: "/missing/"})
	events := drain(s)
	assert.Empty(t, ofType(events, EventListing))

	errs := ofType(events, EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, ListingError, KindOf(errs[0].Err))
	assert.Equal(t, "/missing/", errs[0].Path)
}

func TestSessionRequiresConnection(t *testing.T) {
	s := newTestSession(t, &fakeDialer{conn: newFakeConn()})
	ctx := context.Background()

	s.handle(ctx, Request{Type: RequestList, Path: "/"})
	s.handle(ctx, Request{Type: RequestDownload, Path: "/etc/motd"})
	s.handle(ctx, Request{Type: RequestUpload, Path: "/tmp/x", LocalPath: "x"})

	errs := ofType(drain(s), EventError)
	require.Len(t, errs, 3)
	for _, ev := range errs {
		assert.ErrorIs(t, ev.Err, ErrNotConnected)
	}
	assert.Equal(t, ListingError, KindOf(errs[0].Err))
	assert.Equal(t, TransferError, KindOf(errs[1].Err))
	assert.Equal(t, TransferError, KindOf(errs[2].Err))
}

func TestSessionDownload(t *testing.T) {
	conn := newFakeConn()
	conn.files["/etc/motd"] = []byte("welcome to example.com\n")
	s := connected(t, conn)

	s.handle(context.Background(), Request{Type: RequestDownload, Path: "/etc/motd"})
	received := ofType(drain(s), EventFileReceived)
	require.Len(t, received, 1)
	assert.Equal(t, "/etc/motd", received[0].Path)
	assert.Equal(t, s.LocalPath("/etc/motd"), received[0].LocalPath)

	data, err := os.ReadFile(received[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "welcome to example.com\n", string(data))
}

func TestSessionDownloadShortRead(t *testing.T) {
	conn := newFakeConn()
	conn.files["/var/log/big"] = []byte("12345")
	conn.sizes["/var/log/big"] = 10
	s := connected(t, conn)

	s.handle(context.Background(), Request{Type: RequestDownload, Path: "/var/log/big"})
	events := drain(s)
	assert.Empty(t, ofType(events, EventFileReceived))

	errs := ofType(events, EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, TransferError, KindOf(errs[0].Err))
	assert.ErrorIs(t, errs[0].Err, ErrShortRead)

	_, err := os.Stat(s.LocalPath("/var/log/big"))
	assert.True(t, os.IsNotExist(err), "partial download must be removed")
}

func TestSessionFailedOpenKeepsEarlierDownload(t *testing.T) {
	conn := newFakeConn()
	conn.files["/a/report.txt"] = []byte("quarterly numbers")
	s := connected(t, conn)

	s.handle(context.Background(), Request{Type: RequestDownload, Path: "/a/report.txt"})
	require.Len(t, ofType(drain(s), EventFileReceived), 1)

	// Same base name, so the same local path, but the remote open fails.
	s.handle(context.Background(), Request{Type: RequestDownload, Path: "/b/report.txt"})
	errs := ofType(drain(s), EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, TransferError, KindOf(errs[0].Err))

	data, err := os.ReadFile(s.LocalPath("/a/report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", string(data))
}

func TestSessionUpload(t *testing.T) {
	local := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(local, []byte("remember the milk"), 0o600))

	conn := newFakeConn()
	s := connected(t, conn)

	s.handle(context.Background(), Request{Type: RequestUpload, Path: "/home/alice/notes.txt", LocalPath: local})
	sent := ofType(drain(s), EventFileSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "/home/alice/notes.txt", sent[0].Path)
	assert.Equal(t, "remember the milk", conn.written["/home/alice/notes.txt"].String())
}

func TestSessionUploadShortWrite(t *testing.T) {
	local := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(local, []byte("remember the milk"), 0o600))

	conn := newFakeConn()
	conn.writeLimit = 2
	s := connected(t, conn)

	s.handle(context.Background(), Request{Type: RequestUpload, Path: "/home/alice/notes.txt", LocalPath: local})
	events := drain(s)
	assert.Empty(t, ofType(events, EventFileSent))

	errs := ofType(events, EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, ErrShortWrite)
	assert.Equal(t, "/home/alice/notes.txt", errs[0].Path)
}

func TestSessionRun(t *testing.T) {
	conn := newFakeConn()
	conn.listings["/"] = []DirEntry{{Name: "etc", IsDir: true}}
	s := NewSession(&fakeDialer{conn: conn}, SessionOptions{
		CacheDir:          t.TempDir(),
		KeepAliveInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Requests() <- Request{Type: RequestConnect, Generation: 3, Target: testTarget}
	s.Requests() <- Request{Type: RequestList, Path: "/"}

	var sawFirst, sawListing bool
	deadline := time.After(5 * time.Second)
	for !sawFirst || !sawListing {
		select {
		case ev := <-s.Events():
			if ev.Type != EventStatus || ev.Connected {
				assert.Equal(t, uint64(3), ev.Generation)
			}
			if ev.Type == EventStatus && ev.First {
				sawFirst = true
			}
			if ev.Type == EventListing {
				sawListing = true
				assert.Len(t, ev.Entries, 1)
			}
		case <-deadline:
			t.Fatal("timed out waiting for session events")
		}
	}

	cancel()
	require.NoError(t, <-done)
	assert.True(t, conn.closed)
}
