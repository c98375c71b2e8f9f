// Package sshexec implements the SSH Executor (spec component C4):
// short-lived SSH sessions built from a Target, used to run disk-usage
// commands on monitored hosts. Client construction is grounded on
// HelixDevelopment-HelixCode's worker/ssh_pool.go (timeouts, cipher idiom);
// the df parsing and mount-point sanitization are ported from
// original_source/services/ssh.py.
package sshexec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

const (
	// dialTimeout bounds TCP connection establishment.
	dialTimeout = 10 * time.Second
	// handshakeTimeout bounds the SSH banner/auth exchange.
	handshakeTimeout = 10 * time.Second
	// commandTimeout bounds execution of the remote df command.
	commandTimeout = 10 * time.Second

	cacheTTL     = 30 * time.Second
	cacheMaxSize = 256
)

// Target carries exactly the fields the executor needs, decoupling this
// package from internal/db.
type Target struct {
	Host             string
	SSHUser          string
	SSHPort          int
	SSHAuthType      string // "password" | "key"
	SSHPassword      string
	SSHKeyPEM        []byte
	SSHKeyPassphrase string
}

// mountAllowList enforces spec.md §4.4's conservative character allow-list
// for mount points passed to df. Applied after the "/" prefix and ".." checks.
var mountAllowList = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)

type cacheEntry struct {
	free, total int64
	expires     time.Time
}

// Executor runs on-demand SSH commands against Targets, with strict host-key
// checking disabled by default (spec.md §9 open question, faithfully
// reproduced) and results cached briefly per (host, ssh_port).
type Executor struct {
	logger       *zap.Logger
	hostKeys     ssh.HostKeyCallback // nil => InsecureIgnoreHostKey
	mu           sync.Mutex
	cache        map[string]cacheEntry
	cacheOrder   []string
}

// NewExecutor creates an Executor. strictHostKeys selects between the
// default "accept anything" mode and an opt-in known_hosts-backed callback
// (pgam-server --strict-host-keys or PGAM_STRICT_HOST_KEYS=true); hostKeyCallback is only used when
// strictHostKeys is true and must not be nil in that case.
func NewExecutor(logger *zap.Logger, strictHostKeys bool, hostKeyCallback ssh.HostKeyCallback) *Executor {
	e := &Executor{
		logger: logger.Named("sshexec"),
		cache:  make(map[string]cacheEntry),
	}
	if strictHostKeys && hostKeyCallback != nil {
		e.hostKeys = hostKeyCallback
	}
	return e
}

// DfBytes returns (free_bytes, total_bytes) for dataDir's mount point on t,
// running `df -B1 <mount>` over a short-lived SSH session. Results are
// cached per (host, ssh_port) for ~30s with LRU trimming at a hard size cap
// (spec.md §4.4).
func (e *Executor) DfBytes(ctx context.Context, t Target, dataDir string) (free, total int64, err error) {
	mount, err := sanitizeMount(dataDir)
	if err != nil {
		return 0, 0, err
	}

	cacheKey := fmt.Sprintf("%s:%d", t.Host, t.SSHPort)
	if v, ok := e.cacheGet(cacheKey); ok {
		return v.free, v.total, nil
	}

	client, err := e.dial(ctx, t)
	if err != nil {
		return 0, 0, fmt.Errorf("sshexec: dial %s: %w", t.Host, err)
	}
	defer client.Close()

	out, err := e.runCommand(ctx, client, "df -B1 "+mount)
	if err != nil {
		return 0, 0, fmt.Errorf("sshexec: df on %s: %w", t.Host, err)
	}

	free, total, err = parseDf(out)
	if err != nil {
		return 0, 0, err
	}

	e.cachePut(cacheKey, free, total)
	return free, total, nil
}

// dial establishes a short-lived SSH client connection, selecting auth mode
// from t.SSHAuthType. Host-key checking is disabled unless the Executor was
// constructed with strict checking enabled.
func (e *Executor) dial(ctx context.Context, t Target) (*ssh.Client, error) {
	var authMethods []ssh.AuthMethod

	switch t.SSHAuthType {
	case "password":
		authMethods = append(authMethods, ssh.Password(t.SSHPassword))
	case "key":
		signer, err := parseSigner(t.SSHKeyPEM, t.SSHKeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("parsing ssh key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	default:
		return nil, fmt.Errorf("unknown ssh_auth_type %q", t.SSHAuthType)
	}

	hostKeyCallback := e.hostKeys
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	cfg := &ssh.ClientConfig{
		User:            t.SSHUser,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         handshakeTimeout,
	}

	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.SSHPort))

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// runCommand executes cmd on client within a fresh session, bounded by
// commandTimeout and ctx cancellation.
func (e *Executor) runCommand(ctx context.Context, client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	timeout := time.NewTimer(commandTimeout)
	defer timeout.Stop()

	select {
	case err := <-done:
		if err != nil {
			return "", err
		}
		return stdout.String(), nil
	case <-timeout.C:
		session.Signal(ssh.SIGKILL)
		return "", fmt.Errorf("command timed out after %s", commandTimeout)
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	}
}

// parseSigner tries each supported key parser in turn, matching spec.md
// §4.2's "try each supported key parser until one succeeds".
func parseSigner(pemBytes []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(pemBytes)
}

// sanitizeMount validates a data-directory path against spec.md §4.4's
// guard: absolute, no "..", conservative character allow-list. The
// "mount point" here is the directory itself; df resolves it to the
// enclosing filesystem.
func sanitizeMount(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("sshexec: invalid path")
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("sshexec: invalid path")
	}
	if !mountAllowList.MatchString(path) {
		return "", fmt.Errorf("sshexec: invalid path")
	}
	return path, nil
}

// parseDf reads columns 2 (total) and 4 (free) of the second line of
// `df -B1` output (header line is line 1).
//
//	Filesystem     1B-blocks       Used   Available Use% Mounted on
//	/dev/sda1    107321753600 42735738880 59141152768  42% /
func parseDf(out string) (free, total int64, err error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum != 2 {
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			return 0, 0, fmt.Errorf("sshexec: unexpected df output: %q", out)
		}
		total, err = strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("sshexec: parsing df total: %w", err)
		}
		free, err = strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("sshexec: parsing df free: %w", err)
		}
		return free, total, nil
	}
	return 0, 0, fmt.Errorf("sshexec: df produced no data line")
}

func (e *Executor) cacheGet(key string) (cacheEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.cache[key]
	if !ok || time.Now().After(v.expires) {
		return cacheEntry{}, false
	}
	return v, true
}

func (e *Executor) cachePut(key string, free, total int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.cache[key]; !exists {
		e.cacheOrder = append(e.cacheOrder, key)
		for len(e.cacheOrder) > cacheMaxSize {
			oldest := e.cacheOrder[0]
			e.cacheOrder = e.cacheOrder[1:]
			delete(e.cache, oldest)
		}
	}

	e.cache[key] = cacheEntry{free: free, total: total, expires: time.Now().Add(cacheTTL)}
}
