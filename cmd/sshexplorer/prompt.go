package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// terminalPrompter answers trust and password questions on the controlling
// terminal. It is called from the transport worker goroutine.
type terminalPrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newTerminalPrompter() *terminalPrompter {
	return &terminalPrompter{in: bufio.NewReader(os.Stdin), out: os.Stderr}
}

func (p *terminalPrompter) TrustHost(hostname string, remote net.Addr, fingerprint string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "The authenticity of host %s (%v) can't be established.\n", hostname, remote)
	fmt.Fprintf(p.out, "Key fingerprint is %s.\n", fingerprint)
	fmt.Fprintf(p.out, "Do you trust this host key? [y/N]: ")

	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (p *terminalPrompter) Password(user, host string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "Password for %s@%s: ", user, host)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}

	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
