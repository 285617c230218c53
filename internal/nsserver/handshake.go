package nsserver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/distfs/distfs/internal/minilog"
	"github.com/distfs/distfs/internal/registry"
	"github.com/distfs/distfs/internal/wire"
)

// ServeServers accepts storage server registrations on ln until it closes,
// running each connection's handshake and serve loop on its own goroutine
// (spec.md §5: "one per connected server (Server-Handler)").
func (s *Server) ServeServers(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleServer(conn)
	}
}

// handleServer runs the full registration state machine of spec.md §4.4:
// Connected -> Initialized -> Linked -> Serving -> Disconnected-{Graceful,
// Ungraceful}. tag is a debug-only correlation id threaded through log
// lines for this connection; it has no bearing on protocol behavior (the
// wire-level identity stays the spec's packed server_id).
func (s *Server) handleServer(conn net.Conn) {
	tag := uuid.New().String()[:8]
	minilog.Info("server[%s] connected from %s", tag, conn.RemoteAddr())

	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		minilog.Error("server[%s] could not parse remote addr: %v", tag, err)
		conn.Close()
		return
	}
	ip := net.ParseIP(host)
	port, _ := strconv.Atoi(portStr)

	handle := &registry.ServerHandle{
		ServerID:         registry.ServerID(ip, port),
		IP:               ip,
		RegistrationPort: port,
	}
	handle.SetConns(nil, conn)

	if err := s.Servers.AddServer(handle); err != nil {
		minilog.Error("server[%s] registration failed: %v", tag, err)
		conn.Close()
		return
	}

	// step 2/3: signal the fleet gate, then wait for quorum before this
	// server is allowed to proceed to Initialized.
	s.enough.post()
	s.enough.wait()

	init, err := wire.ReadStorageServerInit(conn)
	if err != nil {
		minilog.Error("server[%s] did not send STORAGE_SERVER_INIT: %v", tag, err)
		s.Servers.RemoveServer(handle.ServerID)
		conn.Close()
		return
	}
	handle.ClientPort = int(init.ClientPort)
	handle.NSPort = int(init.NSPort)
	minilog.Debug("server[%s] initialized: client_port=%d ns_port=%d", tag, handle.ClientPort, handle.NSPort)

	for _, path := range strings.Split(init.MountPaths, "\n") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if err := s.Namespace.Insert(path, handle); err != nil {
			minilog.Warn("server[%s] insert %q: %v", tag, path, err)
		}
	}

	if err := s.Servers.AssignBackups(handle.ServerID, s.cfg.BackupServers); err != nil {
		minilog.Warn("server[%s] assign_backups: %v", tag, err)
	}

	var idBuf [8]byte
	putUint64(idBuf[:], handle.ServerID)
	if _, err := conn.Write(idBuf[:]); err != nil {
		minilog.Error("server[%s] sending assigned id: %v", tag, err)
		s.Servers.RemoveServer(handle.ServerID)
		conn.Close()
		return
	}

	writeConn, err := s.dialReverse(ip, handle.NSPort)
	if err != nil {
		minilog.Error("server[%s] reverse connect to ns_port %d failed: %v", tag, handle.NSPort, err)
		s.Servers.SetInactive(handle.ServerID)
		conn.Close()
		return
	}
	handle.SetConns(writeConn, conn)
	minilog.Info("server[%s] linked, serving as id %d", tag, handle.ServerID)

	s.serveServerResponses(tag, handle, conn)
}

// dialReverse opens the NS->SS write channel, retrying per spec.md §4.4
// step 8 ("MAX_CONN_REQ times at CONN_TIMEOUT-second intervals").
func (s *Server) dialReverse(ip net.IP, nsPort int) (net.Conn, error) {
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(nsPort))

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxConnReq; attempt++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(s.cfg.ConnTimeout)
	}
	return nil, fmt.Errorf("nsserver: exhausted %d attempts dialing %s: %w", s.cfg.MaxConnReq, addr, lastErr)
}

// serveServerResponses is step 9 of spec.md §4.4: read RESPONSE frames from
// the SS and route each to the client named by the client_id embedded at
// the front of its data field, until a zero-byte or error read marks the
// server Disconnected-Ungraceful.
func (s *Server) serveServerResponses(tag string, handle *registry.ServerHandle, conn net.Conn) {
	defer conn.Close()

	for {
		resp, err := wire.ReadResponse(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				minilog.Info("server[%s] disconnected gracefully", tag)
			} else {
				minilog.Warn("server[%s] disconnected ungracefully: %v", tag, err)
			}
			s.Servers.SetInactive(handle.ServerID)
			return
		}

		clientID, message, ok := splitClientPrefixed(resp.Data)
		if !ok {
			minilog.Warn("server[%s] forwarded response with unparseable data %q", tag, resp.Data)
			continue
		}

		if resp.Operation == wire.OpRename {
			if pending, ok := s.takePendingRename(clientID); ok && resp.ErrorCode == int32(wire.SSSuccess) {
				if err := s.Namespace.Rename(pending.OldPath, pending.NewName); err != nil {
					minilog.Warn("server[%s] namespace rename %q -> %q: %v", tag, pending.OldPath, pending.NewName, err)
				}
			}
		}

		client, ok := s.Clients.Get(clientID)
		if !ok {
			minilog.Warn("server[%s] forwarded response for unknown client %d", tag, clientID)
			continue
		}

		ack := wire.Ack{ErrorCode: resp.ErrorCode, Data: message, Flags: resp.Flags}
		if err := client.Send(func(c net.Conn) error { return wire.WriteAck(c, ack) }); err != nil {
			minilog.Warn("server[%s] forwarding ack to client %d: %v", tag, clientID, err)
		}
	}
}

func splitClientPrefixed(data string) (clientID uint64, message string, ok bool) {
	parts := strings.SplitN(data, " ", 2)
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	if len(parts) == 2 {
		return id, parts[1], true
	}
	return id, "", true
}

func putUint64(dst []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}
