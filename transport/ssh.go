package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/alexhunt7/ssher"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	sshagent "github.com/xanzy/ssh-agent"
	"golang.org/x/crypto/ssh"
)

const (
	DefaultConnectTimeout   = 15 * time.Second
	DefaultKeepAliveTimeout = 5 * time.Second
)

var errKeepAliveTimeout = errors.New("keepalive timed out")

// SSHDialer opens SSH connections with an SFTP sub-channel. HostKeyCallback
// decides whether the server identity is trusted; Password is asked for a
// secret only after every local credential has been rejected.
type SSHDialer struct {
	HostKeyCallback  ssh.HostKeyCallback
	Password         func(user, host string) (string, error)
	ConnectTimeout   time.Duration
	KeepAliveTimeout time.Duration
	Log              *logrus.Entry
}

func (d *SSHDialer) logger() *logrus.Entry {
	if d.Log != nil {
		return d.Log
	}
	return logrus.WithField("component", "ssh")
}

func (d *SSHDialer) Dial(ctx context.Context, target Target, state func(State)) (Conn, error) {
	log := d.logger().WithField("target", target.String())

	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, errors.Wrap(err, "couldn't connect ssh")
	}

	// The deadline bounds every exchange with the server until the session
	// is usable. It is lifted while a prompt waits on the user.
	arm := func() { netConn.SetDeadline(time.Now().Add(timeout)) }
	disarm := func() { netConn.SetDeadline(time.Time{}) }
	arm()
	stop := context.AfterFunc(ctx, func() { netConn.Close() })
	defer stop()

	auth, closeAgent := d.authMethods(target, log, arm, disarm)
	defer closeAgent()

	// trustErr is set from the handshake goroutine and read once
	// NewClientConn has returned.
	var trustErr error
	config := &ssh.ClientConfig{
		User: target.User,
		Auth: auth,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			state(StateTrustPending)
			if d.HostKeyCallback == nil {
				trustErr = errors.New("no host key verifier configured")
				return trustErr
			}
			disarm()
			err := d.HostKeyCallback(hostname, remote, key)
			arm()
			if err != nil {
				trustErr = err
				return err
			}
			state(StateAuthenticating)
			return nil
		},
	}

	fail := func(err error, msg string) error {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), msg)
		}
		return errors.Wrap(err, msg)
	}

	c, chans, reqs, err := ssh.NewClientConn(netConn, target.Addr(), config)
	if err != nil {
		netConn.Close()
		if trustErr != nil {
			return nil, &Error{Kind: TrustError, Err: trustErr}
		}
		return nil, fail(err, "ssh handshake failed")
	}
	client := ssh.NewClient(c, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fail(err, "couldn't initialise SFTP")
	}

	keepAliveTimeout := d.KeepAliveTimeout
	if keepAliveTimeout <= 0 {
		keepAliveTimeout = DefaultKeepAliveTimeout
	}
	conn := &sshConn{
		client:           client,
		sftp:             sftpClient,
		keepAliveTimeout: keepAliveTimeout,
		users:            lookupNames(client, "passwd", log),
		groups:           lookupNames(client, "group", log),
	}

	if !stop() {
		conn.Close()
		return nil, errors.Wrap(ctx.Err(), "couldn't connect ssh")
	}
	disarm()
	return conn, nil
}

// authMethods prefers signers held by a running ssh-agent, then identity
// files named in ~/.ssh/config, then the interactive password callback.
// x/crypto tries each method name once, so only one publickey source is
// offered. The handshake deadline is lifted while the password prompt is
// open.
func (d *SSHDialer) authMethods(target Target, log *logrus.Entry, arm, disarm func()) ([]ssh.AuthMethod, func()) {
	var methods []ssh.AuthMethod
	closeAgent := func() {}

	agentClient, agentConn, err := sshagent.New()
	if err == nil {
		if agentConn != nil {
			closeAgent = func() { agentConn.Close() }
		}
		signers, err := agentClient.Signers()
		if err != nil {
			log.Debugf("couldn't read ssh agent signers: %v", err)
		} else if len(signers) > 0 {
			methods = append(methods, ssh.PublicKeys(signers...))
		}
	} else {
		log.Debugf("couldn't connect to ssh-agent: %v", err)
	}

	if len(methods) == 0 {
		if cfg, _, err := ssher.ClientConfig(target.Host, ""); err == nil {
			methods = append(methods, cfg.Auth...)
		} else {
			log.Debugf("no identities from ssh config: %v", err)
		}
	}

	if d.Password != nil {
		methods = append(methods, ssh.PasswordCallback(func() (string, error) {
			log.Debugf("local credentials rejected, asking for password")
			disarm()
			defer arm()
			return d.Password(target.User, target.Host)
		}))
	}
	return methods, closeAgent
}

// lookupNames maps numeric ids to names using the remote getent database.
// SFTP v3 attributes only carry the numeric ids.
func lookupNames(client *ssh.Client, database string, log *logrus.Entry) map[uint32]string {
	names := make(map[uint32]string)

	session, err := client.NewSession()
	if err != nil {
		log.Debugf("couldn't open session for getent %s: %v", database, err)
		return names
	}
	defer session.Close()

	out, err := session.Output("getent " + database)
	if err != nil {
		log.Debugf("getent %s failed: %v", database, err)
		return names
	}
	return parseNames(out)
}

// parseNames reads passwd/group formatted lines: name:x:id:...
func parseNames(data []byte) map[uint32]string {
	names := make(map[uint32]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), ":", 4)
		if len(fields) < 3 {
			continue
		}
		id, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		if _, ok := names[uint32(id)]; !ok {
			names[uint32(id)] = fields[0]
		}
	}
	return names
}

type sshConn struct {
	client           *ssh.Client
	sftp             *sftp.Client
	keepAliveTimeout time.Duration

	users  map[uint32]string
	groups map[uint32]string
}

func nameFor(names map[uint32]string, id uint32) string {
	if name, ok := names[id]; ok {
		return name
	}
	return strconv.FormatUint(uint64(id), 10)
}

func (c *sshConn) List(dir string) ([]DirEntry, error) {
	infos, err := c.sftp.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]DirEntry, 0, len(infos))
	for _, info := range infos {
		entry := DirEntry{
			Path:        path.Join(dir, info.Name()),
			Name:        info.Name(),
			Size:        info.Size(),
			IsDir:       info.IsDir(),
			ModTime:     info.ModTime(),
			Permissions: posixMode(info.Mode()),
		}
		if stat, ok := info.Sys().(*sftp.FileStat); ok {
			entry.UID = stat.UID
			entry.GID = stat.GID
			entry.Permissions = stat.Mode
		}
		entry.Owner = nameFor(c.users, entry.UID)
		entry.Group = nameFor(c.groups, entry.GID)
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *sshConn) Open(p string) (io.ReadCloser, int64, error) {
	f, err := c.sftp.Open(p)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (c *sshConn) Create(p string) (io.WriteCloser, error) {
	return c.sftp.Create(p)
}

// KeepAlive sends a no-op global request. The reply is awaited with a
// deadline so a dead peer cannot stall the worker.
func (c *sshConn) KeepAlive() error {
	errc := make(chan error, 1)
	go func() {
		_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
		errc <- err
	}()

	select {
	case err := <-errc:
		return err
	case <-time.After(c.keepAliveTimeout):
		return errKeepAliveTimeout
	}
}

func (c *sshConn) Close() error {
	sftpErr := c.sftp.Close()
	err := c.client.Close()
	if err == nil {
		err = sftpErr
	}
	return err
}

// posixMode converts an os.FileMode back into raw st_mode bits.
func posixMode(mode os.FileMode) uint32 {
	bits := uint32(mode.Perm())
	switch {
	case mode.IsDir():
		bits |= 0o040000
	case mode&os.ModeSymlink != 0:
		bits |= 0o120000
	case mode.IsRegular():
		bits |= 0o100000
	}
	return bits
}
