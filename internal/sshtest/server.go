// Package sshtest runs an in-process SSH server for tests. It accepts one
// authorized public key and answers "exec" requests from a fixed table of
// canned responses.
package sshtest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Response is what the server sends back for one command
type Response struct {
	Stdout     string
	Stderr     string
	ExitStatus uint32
	Delay      time.Duration // Wait before answering; cut short by Close
	NoStatus   bool          // Close the channel without an exit-status
}

// Server is a minimal SSH server bound to 127.0.0.1
type Server struct {
	config     *ssh.ServerConfig
	hostKeys   []ssh.PublicKey
	listener   net.Listener
	authorized ssh.PublicKey
	commands   map[string]Response

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	seen  []string

	done chan struct{}
	wg   sync.WaitGroup
}

// NewServer starts a server that admits only the authorized key. A nil key
// rejects every client.
func NewServer(authorized ssh.PublicKey, commands map[string]Response) (*Server, error) {
	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create host signer: %w", err)
	}
	return NewServerWithHostKeys(authorized, commands, signer)
}

// NewServerWithHostKeys starts a server offering every given host key
func NewServerWithHostKeys(authorized ssh.PublicKey, commands map[string]Response, hostKeys ...ssh.Signer) (*Server, error) {
	if len(hostKeys) == 0 {
		return nil, fmt.Errorf("at least one host key is required")
	}

	s := &Server{
		authorized: authorized,
		commands:   commands,
		conns:      make(map[net.Conn]struct{}),
		done:       make(chan struct{}),
	}
	s.config = &ssh.ServerConfig{PublicKeyCallback: s.checkKey}
	for _, signer := range hostKeys {
		s.config.AddHostKey(signer)
		s.hostKeys = append(s.hostKeys, signer.PublicKey())
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Address returns the host part of the listen address
func (s *Server) Address() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listen port
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// HostKey returns the server's first public host key
func (s *Server) HostKey() ssh.PublicKey {
	return s.hostKeys[0]
}

// Commands returns every command received, in arrival order
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

// Close stops the listener and drops open connections
func (s *Server) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	err := s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) checkKey(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	if s.authorized != nil && bytes.Equal(key.Marshal(), s.authorized.Marshal()) {
		return &ssh.Permissions{}, nil
	}
	return nil, fmt.Errorf("unknown public key for %q", conn.User())
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		select {
		case <-s.done:
			s.mu.Unlock()
			conn.Close()
			return
		default:
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) handleConn(nc net.Conn) {
	defer nc.Close()

	sconn, chans, reqs, err := ssh.NewServerConn(nc, s.config)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	var sessions sync.WaitGroup
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		sessions.Add(1)
		go func() {
			defer sessions.Done()
			s.handleSession(ch, chReqs)
		}()
	}
	sessions.Wait()
}

func (s *Server) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()

	for req := range reqs {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		req.Reply(true, nil)

		s.mu.Lock()
		s.seen = append(s.seen, payload.Command)
		s.mu.Unlock()

		resp, ok := s.commands[payload.Command]
		if !ok {
			resp = Response{Stderr: "sh: " + payload.Command + ": command not found\n", ExitStatus: 127}
		}
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-s.done:
				return
			}
		}

		io.WriteString(ch, resp.Stdout)
		io.WriteString(ch.Stderr(), resp.Stderr)
		if !resp.NoStatus {
			status := struct{ Status uint32 }{resp.ExitStatus}
			ch.SendRequest("exit-status", false, ssh.Marshal(&status))
		}
		return
	}
}

// WriteClientKey writes a new private key to dir/name and returns its path
// and public half.
func WriteClientKey(dir, name string) (string, ssh.PublicKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, err
	}
	block, err := ssh.MarshalPrivateKey(priv, "sshtest")
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return "", nil, err
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return "", nil, err
	}
	return path, signer.PublicKey(), nil
}

// ClosedPort returns a local port with nothing listening on it
func ClosedPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	return port, ln.Close()
}
