package nsserver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/distfs/distfs/internal/minilog"
	"github.com/distfs/distfs/internal/registry"
	"github.com/distfs/distfs/internal/wire"
)

// ServeClients accepts client connections on ln until it closes, running
// each on its own goroutine (spec.md §5: "one per connected client
// (Client-Handler)").
func (s *Server) ServeClients(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleClient(conn)
	}
}

func (s *Server) handleClient(conn net.Conn) {
	defer conn.Close()

	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		minilog.Error("client connection: bad remote addr: %v", err)
		return
	}
	ip := net.ParseIP(host)
	port, _ := strconv.Atoi(portStr)

	handle := &registry.ClientHandle{
		ClientID: registry.ClientID(ip, port),
		IP:       ip,
		Port:     port,
		Conn:     conn,
	}
	if err := s.Clients.Add(handle); err != nil {
		minilog.Warn("client registration: %v", err)
		return
	}
	defer s.Clients.Remove(handle.ClientID)

	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				minilog.Debug("client %d: %v", handle.ClientID, err)
			}
			return
		}

		if req.Operation == wire.OpCloseConnection {
			return
		}

		// dispatch and write under the handle's write lock, so a RENAME ACK
		// pushed by a server-handler goroutine can neither interleave with
		// this response nor overtake it.
		if err := handle.Send(func(c net.Conn) error {
			return wire.WriteResponse(c, s.dispatch(handle, *req))
		}); err != nil {
			minilog.Warn("client %d: writing response: %v", handle.ClientID, err)
			return
		}
	}
}

// dispatch implements spec.md §4.5's per-request switch. The NS fills
// exactly one terminal RESPONSE per REQUEST; RENAME's eventual ACK is
// delivered later, out of band, by serveServerResponses.
func (s *Server) dispatch(client *registry.ClientHandle, req wire.Request) wire.Response {
	switch req.Operation {
	case wire.OpRead, wire.OpInfo:
		return s.dispatchReadOrInfo(req)
	case wire.OpWrite:
		return s.dispatchWrite(req)
	case wire.OpList:
		return s.dispatchList(req)
	case wire.OpRename:
		return s.dispatchRename(client, req)
	default:
		return wire.Response{
			Operation: req.Operation,
			ErrorCode: int32(wire.NSInvalidOperation),
			Flags:     wire.FlagFailure,
		}
	}
}

func (s *Server) dispatchReadOrInfo(req wire.Request) wire.Response {
	server, ok := s.Namespace.Resolve(req.Path)
	if !ok {
		return wire.Response{
			Operation: req.Operation,
			ErrorCode: int32(wire.NSPathNotFound),
			Flags:     wire.FlagFailure,
		}
	}

	if running, _ := s.Servers.IsActive(server.ServerID); running {
		return wire.Response{
			Operation: req.Operation,
			ErrorCode: int32(wire.NSSuccess),
			Data:      fmt.Sprintf("%s %d", server.IP, server.ClientPort),
			Flags:     wire.FlagSuccess,
			ServerID:  server.ServerID,
		}
	}

	backupID, ok := s.Servers.GetActiveBackup(server.Backups)
	if !ok {
		return wire.Response{
			Operation: req.Operation,
			ErrorCode: int32(wire.NSBackupUnavailable),
			Flags:     wire.FlagFailure,
		}
	}
	backup, ok := s.Servers.Get(backupID)
	if !ok {
		return wire.Response{
			Operation: req.Operation,
			ErrorCode: int32(wire.NSBackupUnavailable),
			Flags:     wire.FlagFailure,
		}
	}

	return wire.Response{
		Operation: req.Operation,
		ErrorCode: int32(wire.NSSuccess),
		Data:      fmt.Sprintf("%s %d", backup.IP, backup.ClientPort),
		Flags:     wire.FlagBackupResponse,
		ServerID:  backup.ServerID,
	}
}

// dispatchWrite never falls back to a backup: spec.md §4.5 requires writes
// to go to the primary to keep replicas consistent.
func (s *Server) dispatchWrite(req wire.Request) wire.Response {
	server, ok := s.Namespace.Resolve(req.Path)
	if !ok {
		return wire.Response{
			Operation: req.Operation,
			ErrorCode: int32(wire.NSPathNotFound),
			Flags:     wire.FlagFailure,
		}
	}

	if running, _ := s.Servers.IsActive(server.ServerID); !running {
		return wire.Response{
			Operation: req.Operation,
			ErrorCode: int32(wire.NSServerUnavailable),
			Flags:     wire.FlagFailure,
		}
	}

	return wire.Response{
		Operation: req.Operation,
		ErrorCode: int32(wire.NSSuccess),
		Data:      fmt.Sprintf("%s %d", server.IP, server.ClientPort),
		Flags:     wire.FlagSuccess,
		ServerID:  server.ServerID,
	}
}

func (s *Server) dispatchList(req wire.Request) wire.Response {
	dump, err := s.Namespace.SubtreeDump(req.Path)
	if err != nil {
		return wire.Response{
			Operation: req.Operation,
			ErrorCode: int32(wire.NSPathNotFound),
			Flags:     wire.FlagFailure,
		}
	}
	return wire.Response{
		Operation: req.Operation,
		ErrorCode: int32(wire.NSSuccess),
		Data:      dump,
		Flags:     wire.FlagSuccess,
	}
}

// dispatchRename forwards the REQUEST unchanged to the primary's NS->SS
// write socket and immediately acknowledges that forwarding happened; the
// client's actual completion arrives later as an ACK (spec.md §4.5).
func (s *Server) dispatchRename(client *registry.ClientHandle, req wire.Request) wire.Response {
	newName, sourcePath, ok := wire.ParseRenamePayload(req.Path)
	if !ok {
		return wire.Response{
			Operation: req.Operation,
			ErrorCode: int32(wire.NSPathNotFound),
			Flags:     wire.FlagFailure,
		}
	}

	server, ok := s.Namespace.Resolve(sourcePath)
	if !ok {
		return wire.Response{
			Operation: req.Operation,
			ErrorCode: int32(wire.NSPathNotFound),
			Flags:     wire.FlagFailure,
		}
	}

	if running, _ := s.Servers.IsActive(server.ServerID); !running {
		return wire.Response{
			Operation: req.Operation,
			ErrorCode: int32(wire.NSServerUnavailable),
			Flags:     wire.FlagFailure,
		}
	}

	writeConn, _ := server.Conns()
	if writeConn == nil {
		return wire.Response{
			Operation: req.Operation,
			ErrorCode: int32(wire.NSFwdFailed),
			Flags:     wire.FlagFailure,
		}
	}

	// Recorded before forwarding so the completion race (SS replies before
	// this goroutine resumes) can never miss the pending entry.
	s.trackPendingRename(client.ClientID, sourcePath, newName)

	fwd := req
	fwd.ClientID = client.ClientID
	if err := wire.WriteRequest(writeConn, fwd); err != nil {
		s.takePendingRename(client.ClientID)
		return wire.Response{
			Operation: req.Operation,
			ErrorCode: int32(wire.NSFwdFailed),
			Flags:     wire.FlagFailure,
		}
	}

	return wire.Response{
		Operation: req.Operation,
		ErrorCode: int32(wire.NSSuccess),
		Data:      "Request forwarded to server",
		Flags:     wire.FlagSuccess,
	}
}
