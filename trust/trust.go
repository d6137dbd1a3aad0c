// Package trust verifies SSH host identities against an OpenSSH known_hosts
// trust store.
package trust

import (
	"errors"
	"net"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type Outcome uint8

const (
	// Trusted: the presented key matches the stored key of the same type.
	Trusted Outcome = 0
	// Changed: a key of the same type is on file and differs.
	Changed Outcome = 1
	// UnknownType: only keys of other types are on file for the host.
	UnknownType Outcome = 2
	// Unseen: nothing is on file for the host.
	Unseen Outcome = 3
	// VerificationError: the store could not be consulted.
	VerificationError Outcome = 4
)

var outcomeNames = []string{
	Trusted:           "trusted",
	Changed:           "changed",
	UnknownType:       "unknown-type",
	Unseen:            "unseen",
	VerificationError: "verification-error",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

var (
	ErrHostKeyChanged = errors.New("host key changed")
	ErrUnknownKeyType = errors.New("host key of another type is on file")
	ErrDeclined       = errors.New("host key not trusted")
)

// Classify turns the result of a known_hosts lookup for key into an
// Outcome. It performs no I/O.
func Classify(key ssh.PublicKey, lookupErr error) Outcome {
	if lookupErr == nil {
		return Trusted
	}

	var keyErr *knownhosts.KeyError
	if !errors.As(lookupErr, &keyErr) {
		return VerificationError
	}
	if len(keyErr.Want) == 0 {
		return Unseen
	}
	for _, known := range keyErr.Want {
		if known.Key.Type() == key.Type() {
			return Changed
		}
	}
	return UnknownType
}

// Fingerprint is the OpenSSH SHA256 fingerprint shown to users.
func Fingerprint(key ssh.PublicKey) string {
	return ssh.FingerprintSHA256(key)
}

// Prompter decides whether to trust a host that has never been seen. It is
// called synchronously from the transport worker.
type Prompter interface {
	TrustHost(hostname string, remote net.Addr, fingerprint string) bool
}

type PrompterFunc func(hostname string, remote net.Addr, fingerprint string) bool

func (f PrompterFunc) TrustHost(hostname string, remote net.Addr, fingerprint string) bool {
	return f(hostname, remote, fingerprint)
}
