package vm

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/crypto/ssh"

	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
)

// DefaultSSHUser is the account CernVM machines provision by default.
const DefaultSSHUser = "cernvm"

// SSHKeyManager handles the key pair used to log into machines.
type SSHKeyManager struct {
	dataDir string
}

// NewSSHKeyManager creates a new SSH key manager.
// Keys are stored in {dataDir}/ssh/ directory.
func NewSSHKeyManager(dataDir string) *SSHKeyManager {
	return &SSHKeyManager{dataDir: dataDir}
}

func (m *SSHKeyManager) sshDir() string {
	return filepath.Join(m.dataDir, "ssh")
}

func (m *SSHKeyManager) privateKeyPath() string {
	return filepath.Join(m.sshDir(), "vmlaunch")
}

func (m *SSHKeyManager) publicKeyPath() string {
	return filepath.Join(m.sshDir(), "vmlaunch.pub")
}

// EnsureKeyPair generates an ed25519 key pair if it doesn't exist.
// Returns paths to the private and public key files.
func (m *SSHKeyManager) EnsureKeyPair() (privateKeyPath, publicKeyPath string, err error) {
	privPath := m.privateKeyPath()
	pubPath := m.publicKeyPath()

	if m.KeyPairExists() {
		return privPath, pubPath, nil
	}

	if err := os.MkdirAll(m.sshDir(), 0700); err != nil {
		return "", "", fmt.Errorf("create ssh directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ed25519 key: %w", err)
	}

	if err := writePrivateKey(privPath, privKey); err != nil {
		return "", "", fmt.Errorf("write private key: %w", err)
	}
	if err := writePublicKey(pubPath, pubKey); err != nil {
		os.Remove(privPath)
		return "", "", fmt.Errorf("write public key: %w", err)
	}

	return privPath, pubPath, nil
}

// KeyPairExists returns true if both private and public keys exist.
func (m *SSHKeyManager) KeyPairExists() bool {
	_, privErr := os.Stat(m.privateKeyPath())
	_, pubErr := os.Stat(m.publicKeyPath())
	return privErr == nil && pubErr == nil
}

// PrivateKeyPath returns the path to the private key, or error if not generated.
func (m *SSHKeyManager) PrivateKeyPath() (string, error) {
	path := m.privateKeyPath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("SSH key not generated; run 'vmlaunch ssh-keygen' first")
		}
		return "", err
	}
	return path, nil
}

// PublicKeyContent returns the public key content suitable for authorized_keys.
func (m *SSHKeyManager) PublicKeyContent() (string, error) {
	content, err := os.ReadFile(m.publicKeyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("SSH key not generated; run 'vmlaunch ssh-keygen' first")
		}
		return "", err
	}
	return string(content), nil
}

func writePrivateKey(path string, privKey ed25519.PrivateKey) error {
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "vmlaunch key")
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	return os.WriteFile(path, pem.EncodeToMemory(pemBlock), 0600)
}

func writePublicKey(path string, pubKey ed25519.PublicKey) error {
	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("convert public key: %w", err)
	}

	// Format: ssh-ed25519 <base64> <comment>
	authorizedKey := ssh.MarshalAuthorizedKey(sshPubKey)
	keyLine := fmt.Sprintf("%s vmlaunch@vmlaunch\n", authorizedKey[:len(authorizedKey)-1])
	return os.WriteFile(path, []byte(keyLine), 0644)
}

// SSHTarget is where and as whom to log into a machine.
type SSHTarget struct {
	Host    string
	Port    int
	User    string
	KeyFile string
}

// Addr returns host:port.
func (t SSHTarget) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// SSHTarget resolves the login target of the named machine. The port is the
// backend's forwarded API port; the key defaults to defaultKey when the
// machine sets none.
func (m *Manager) SSHTarget(ctx context.Context, name, defaultKey string) (SSHTarget, error) {
	if err := m.hv.LoadSessions(ctx); err != nil {
		return SSHTarget{}, fmt.Errorf("reload sessions: %w", err)
	}
	s, ok := m.hv.SessionByName(name)
	if !ok {
		return SSHTarget{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	p := s.Parameters()
	raw, ok := s.Local().Get(hypervisor.LocalAPIPort)
	if !ok {
		return SSHTarget{}, fmt.Errorf("%s has no forwarded port; start it first", name)
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 {
		return SSHTarget{}, fmt.Errorf("%s: invalid forwarded port %q", name, raw)
	}

	return SSHTarget{
		Host:    "127.0.0.1",
		Port:    port,
		User:    p.GetDefault(hypervisor.KeySSHUser, DefaultSSHUser),
		KeyFile: p.GetDefault(hypervisor.KeySSHKey, defaultKey),
	}, nil
}

// AuthMethods builds the client authentication for t. A readable key file is
// offered first; password asks for a password when the key is refused.
func (t SSHTarget) AuthMethods(password func() (string, error)) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if t.KeyFile != "" {
		data, err := os.ReadFile(t.KeyFile)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read key %s: %w", t.KeyFile, err)
		}
		if err == nil {
			signer, err := ssh.ParsePrivateKey(data)
			if err != nil {
				return nil, fmt.Errorf("parse key %s: %w", t.KeyFile, err)
			}
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}
	if password != nil {
		methods = append(methods, ssh.PasswordCallback(password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH credentials for %s", t.Addr())
	}
	return methods, nil
}

// ShellIO is the terminal an interactive shell is attached to.
type ShellIO struct {
	In            io.Reader
	Out, Err      io.Writer
	Width, Height int
	Term          string

	// Raw, if set, is called once authentication succeeded to put the local
	// terminal into raw mode. The returned function restores it.
	Raw func() (func(), error)
}

// Shell opens an interactive login shell on t and blocks until it exits
// or ctx is cancelled.
func Shell(ctx context.Context, t SSHTarget, auth []ssh.AuthMethod, tio ShellIO) error {
	cfg := &ssh.ClientConfig{
		User: t.User,
		Auth: auth,
		// Machines are reached over a loopback port forward and regenerate
		// host keys on provisioning.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return fmt.Errorf("connect %s: %w", t.Addr(), err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, t.Addr(), cfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake %s: %w", t.Addr(), err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	session.Stdin = tio.In
	session.Stdout = tio.Out
	session.Stderr = tio.Err

	if tio.Raw != nil {
		restore, err := tio.Raw()
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer restore()
	}

	if tio.Width > 0 && tio.Height > 0 {
		termName := tio.Term
		if termName == "" {
			termName = "xterm-256color"
		}
		modes := ssh.TerminalModes{ssh.ECHO: 1}
		if err := session.RequestPty(termName, tio.Height, tio.Width, modes); err != nil {
			return fmt.Errorf("request pty: %w", err)
		}
	}
	if err := session.Shell(); err != nil {
		return fmt.Errorf("start shell: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err := <-done:
		// A non-zero remote exit status ends the shell normally.
		var exitErr *ssh.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
