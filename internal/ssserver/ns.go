package ssserver

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/distfs/distfs/internal/minilog"
	"github.com/distfs/distfs/internal/wire"
)

// handleNS serves the naming service's reverse connection, processing
// forwarded mutating requests (spec.md §4.7: "NS-forwarded RENAME"). Each
// result is written back over the original registration connection, which
// the NS reads as the SS's response channel (spec.md §4.4 step 9).
func (s *Server) handleNS(conn net.Conn) {
	defer conn.Close()

	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				minilog.Debug("ns connection %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		switch req.Operation {
		case wire.OpRename:
			s.handleForwardedRename(*req)
		default:
			s.replyToNS(req.ClientID, wire.Response{
				Operation: req.Operation,
				ErrorCode: int32(wire.SSInvalidOperation),
				Flags:     wire.FlagFailure,
			}, "unsupported forwarded operation")
		}
	}
}

// handleForwardedRename implements spec.md §4.7's NS-forwarded RENAME:
// payload is "<new_name> <source_path>", concatenated because the wire
// frame has a single path field.
func (s *Server) handleForwardedRename(req wire.Request) {
	newName, sourcePath, ok := wire.ParseRenamePayload(req.Path)
	if !ok {
		s.replyToNS(req.ClientID, wire.Response{
			Operation: wire.OpRename,
			ErrorCode: int32(wire.SSInvalidPath),
			Flags:     wire.FlagFailure,
		}, "malformed rename payload")
		return
	}

	if !s.Trie.Search(sourcePath) {
		s.replyToNS(req.ClientID, wire.Response{
			Operation: wire.OpRename,
			ErrorCode: int32(wire.SSInvalidPath),
			Flags:     wire.FlagFailure,
		}, "path not found")
		return
	}

	lock := s.Trie.PathLock(sourcePath)
	lock.Lock()
	err := s.Trie.Rename(sourcePath, newName)
	if err == nil {
		dir := filepath.Dir(filepath.FromSlash(sourcePath))
		oldFull := s.fullPath(sourcePath)
		newFull := filepath.Join(s.Root, dir, newName)
		err = os.Rename(oldFull, newFull)
	}
	lock.Unlock()

	if err != nil {
		s.replyToNS(req.ClientID, wire.Response{
			Operation: wire.OpRename,
			ErrorCode: int32(wire.SSInvalidAccess),
			Flags:     wire.FlagFailure,
		}, err.Error())
		return
	}

	s.replyToNS(req.ClientID, wire.Response{
		Operation: wire.OpRename,
		ErrorCode: int32(wire.SSSuccess),
		Flags:     wire.FlagSuccess,
	}, "File Renamed Successfully")
}

// replyToNS writes resp over the server's registration connection, with its
// Data field prefixed by clientID so the NS can route the eventual ACK back
// to the client that originated the forwarded request (spec.md §4.7 step 4).
func (s *Server) replyToNS(clientID uint64, resp wire.Response, message string) {
	resp.Data = prefixedData(clientID, message)

	s.mu.Lock()
	conn := s.nsConn
	s.mu.Unlock()

	if conn == nil {
		minilog.Error("replyToNS: no registration connection established")
		return
	}
	if err := wire.WriteResponse(conn, resp); err != nil {
		minilog.Error("replyToNS: %v", err)
	}
}
