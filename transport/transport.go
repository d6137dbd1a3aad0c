package transport

import (
	"context"
	"io"
	"time"
)

// Conn is one authenticated connection with its file-transfer sub-channel.
// Implementations are not safe for concurrent use; the Session serializes
// every call.
type Conn interface {
	List(path string) ([]DirEntry, error)
	Open(path string) (io.ReadCloser, int64, error)
	Create(path string) (io.WriteCloser, error)
	KeepAlive() error
	Close() error
}

// Dialer opens a Conn to target, reporting intermediate session states
// (trust pending, authenticating) through state as it goes.
type Dialer interface {
	Dial(ctx context.Context, target Target, state func(State)) (Conn, error)
}

type DirEntry struct {
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	UID         uint32    `json:"uid"`
	GID         uint32    `json:"gid"`
	Owner       string    `json:"owner"`
	Group       string    `json:"group"`
	Permissions uint32    `json:"permissions"`
	IsDir       bool      `json:"is_dir"`
	ModTime     time.Time `json:"mtime"`
	CreateTime  time.Time `json:"ctime"`
}

func (d DirEntry) Equal(o DirEntry) bool {
	return d.Path == o.Path &&
		d.Name == o.Name &&
		d.Size == o.Size &&
		d.UID == o.UID &&
		d.GID == o.GID &&
		d.Owner == o.Owner &&
		d.Group == o.Group &&
		d.Permissions == o.Permissions &&
		d.IsDir == o.IsDir &&
		d.ModTime.Equal(o.ModTime) &&
		d.CreateTime.Equal(o.CreateTime)
}

type State uint8

const (
	StateDisconnected   State = 0
	StateConnecting     State = 1
	StateTrustPending   State = 2
	StateAuthenticating State = 3
	StateReady          State = 4
	StateFailed         State = 5
)

var stateNames = []string{
	StateDisconnected:   "disconnected",
	StateConnecting:     "connecting",
	StateTrustPending:   "trust-pending",
	StateAuthenticating: "authenticating",
	StateReady:          "ready",
	StateFailed:         "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

type RequestType = uint8

const (
	RequestConnect  RequestType = 0
	RequestList     RequestType = 1
	RequestDownload RequestType = 2
	RequestUpload   RequestType = 3
)

// Request flows from the explorer to the session worker.
type Request struct {
	Type       RequestType
	Generation uint64
	Target     Target
	Path       string
	LocalPath  string
}

type EventType = uint8

const (
	EventState        EventType = 0
	EventStatus       EventType = 1
	EventListing      EventType = 2
	EventFileReceived EventType = 3
	EventFileSent     EventType = 4
	EventError        EventType = 5
)

// Event flows from the session worker back to the explorer. Generation is
// the connection generation that was live when the event was produced.
type Event struct {
	Type       EventType
	Generation uint64

	State State

	Connected bool
	First     bool

	Path      string
	Entries   []DirEntry
	LocalPath string

	Err error
}
