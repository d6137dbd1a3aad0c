package trust

import (
	"net"

	"github.com/b1naryth1ef/sshexplorer/metrics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

type Verifier struct {
	store  *Store
	prompt Prompter
	log    *logrus.Entry
}

func NewVerifier(store *Store, prompt Prompter, log *logrus.Entry) *Verifier {
	if log == nil {
		log = logrus.WithField("component", "trust")
	}
	return &Verifier{store: store, prompt: prompt, log: log}
}

// Check has the signature of ssh.HostKeyCallback. Only Trusted, or Unseen
// followed by an accepting prompt, let the handshake continue.
func (v *Verifier) Check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	v.store.Lock()
	defer v.store.Unlock()

	fingerprint := Fingerprint(key)
	log := v.log.WithFields(logrus.Fields{"host": hostname, "fingerprint": fingerprint})

	lookupErr := v.store.Lookup(hostname, remote, key)
	outcome := Classify(key, lookupErr)
	metrics.RecordTrust(outcome.String())

	switch outcome {
	case Trusted:
		return nil
	case Changed:
		log.Errorf("host key for %s changed, refusing to connect", hostname)
		return errors.Wrapf(ErrHostKeyChanged, "%s now presents %s", hostname, fingerprint)
	case UnknownType:
		log.Warnf("host key for %s not found but a key of another type exists", hostname)
		return errors.Wrapf(ErrUnknownKeyType, "%s presents %s", hostname, key.Type())
	case Unseen:
		if v.prompt == nil || !v.prompt.TrustHost(hostname, remote, fingerprint) {
			log.Infof("host key declined")
			return errors.Wrapf(ErrDeclined, "%s", hostname)
		}
		if err := v.store.Add(hostname, key); err != nil {
			return errors.Wrap(err, "record host key")
		}
		log.Infof("host key added to %s", v.store.Path())
		return nil
	default:
		return errors.Wrap(lookupErr, "host key verification failed")
	}
}
