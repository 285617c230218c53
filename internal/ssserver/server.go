// Package ssserver implements the storage server's two listeners: the
// client-facing port (READ, WRITE, INFO, and rejection of NS-only
// operations) and the NS-facing port the naming service dials in reverse to
// forward mutating requests (spec.md §4.4, §4.7).
package ssserver

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/distfs/distfs/internal/minilog"
	"github.com/distfs/distfs/internal/ssfs"
	"github.com/distfs/distfs/internal/wire"
)

// Server is one storage server's runtime state: its exported subtree, the
// connection used to report results back to the naming service, and the
// ip allow-list for the NS-facing port (spec.md §9 supplement: the original
// source hard-coded a single trusted NS address; this generalizes it to a
// configurable allow-list).
type Server struct {
	Root string
	Trie *ssfs.Trie

	AllowedNSIPs []net.IP

	mu       sync.Mutex
	nsConn   net.Conn
	serverID uint64
}

// New scans root and returns a Server ready to register with a naming
// service and begin serving.
func New(root string, allowedNSIPs []net.IP) (*Server, error) {
	trie, err := ssfs.Scan(root)
	if err != nil {
		return nil, fmt.Errorf("ssserver: scan %q: %w", root, err)
	}
	return &Server{Root: root, Trie: trie, AllowedNSIPs: allowedNSIPs}, nil
}

// Register dials the naming service's server-facing address, sends a
// STORAGE_SERVER_INIT frame describing this server's exported paths, and
// reads back the assigned server_id (spec.md §4.4 steps 1-7, SS side). The
// dialed connection is retained as the channel the NS reads RESPONSE frames
// from for any forwarded mutation this server later completes.
func (s *Server) Register(nsAddr string, clientPort, nsPort int) (uint64, error) {
	conn, err := net.Dial("tcp", nsAddr)
	if err != nil {
		return 0, fmt.Errorf("ssserver: dial ns %s: %w", nsAddr, err)
	}

	init := wire.StorageServerInit{
		ClientPort: int32(clientPort),
		NSPort:     int32(nsPort),
		MountPaths: strings.Join(s.Trie.FlattenedPaths(), "\n"),
	}
	if err := wire.WriteStorageServerInit(conn, init); err != nil {
		conn.Close()
		return 0, fmt.Errorf("ssserver: send init: %w", err)
	}

	var idBuf [8]byte
	if _, err := readFull(conn, idBuf[:]); err != nil {
		conn.Close()
		return 0, fmt.Errorf("ssserver: read assigned id: %w", err)
	}
	id := beUint64(idBuf[:])

	s.mu.Lock()
	s.nsConn = conn
	s.serverID = id
	s.mu.Unlock()

	minilog.Info("registered with naming service, assigned id %d", id)
	return id, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// ServeClients accepts client connections on ln until it is closed, handling
// each on its own goroutine (spec.md §5: "SS spawns ... one per accepted
// client request").
func (s *Server) ServeClients(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleClient(conn)
	}
}

// ServeNS accepts the naming service's reverse connection(s) on ln,
// rejecting any peer not in AllowedNSIPs.
func (s *Server) ServeNS(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		if !s.nsAllowed(conn) {
			minilog.Warn("rejecting ns connection from disallowed address %s", conn.RemoteAddr())
			conn.Close()
			continue
		}
		go s.handleNS(conn)
	}
}

func (s *Server) nsAllowed(conn net.Conn) bool {
	if len(s.AllowedNSIPs) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	for _, allowed := range s.AllowedNSIPs {
		if allowed.Equal(ip) {
			return true
		}
	}
	return false
}

func (s *Server) fullPath(path string) string {
	return filepath.Join(s.Root, filepath.FromSlash(path))
}

// textBuffer renders a short status message as bytes for WriteRawBuffer,
// which pads them to a full frame (spec.md §4.7: "send a textual error
// buffer").
func textBuffer(format string, args ...interface{}) []byte {
	return []byte(fmt.Sprintf(format, args...))
}

func prefixedData(clientID uint64, message string) string {
	return strconv.FormatUint(clientID, 10) + " " + message
}
