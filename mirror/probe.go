package mirror

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"constellation-sync/config"
)

// Prober checks that a site can be reached before its sync is started.
type Prober interface {
	Probe(ctx context.Context, address string) error
}

// SSHProbe logs in to a site over ssh and opens a session. It doesn't run
// anything.
type SSHProbe struct {
	port    int
	timeout time.Duration
	config  *ssh.ClientConfig
}

// NewSSHProbe creates a probe that authenticates as user with the private key
// configured in cfg.
func NewSSHProbe(cfg config.Probe, user string) (*SSHProbe, error) {
	if cfg.KeyPath == "" {
		return nil, errors.New("no private key configured for the ssh probe")
	}

	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read private key")
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse private key")
	}

	return &SSHProbe{
		port:    cfg.Port,
		timeout: cfg.Timeout,
		config: &ssh.ClientConfig{
			User: user,
			Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
			// The probe only checks reachability; rsync's own ssh does the
			// host key verification for the transfer.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         cfg.Timeout,
		},
	}, nil
}

// Probe dials address, completes the ssh handshake and opens a session.
func (p *SSHProbe) Probe(ctx context.Context, address string) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(address, strconv.Itoa(p.port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "unable to connect to %s", addr)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	// Unblock the handshake if ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, p.config)
	if err != nil {
		return errors.Wrapf(err, "ssh handshake with %s", addr)
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return errors.Wrapf(err, "open session on %s", addr)
	}
	if err := session.Close(); err != nil && err != io.EOF {
		return errors.Wrapf(err, "close session on %s", addr)
	}
	return nil
}
