package ssserver

import (
	"errors"
	"io"
	"net"
	"os"

	"github.com/distfs/distfs/internal/minilog"
	"github.com/distfs/distfs/internal/ssfs"
	"github.com/distfs/distfs/internal/wire"
)

// handleClient serves a single client-facing connection until the client
// sends CLOSE_CONNECTION or the connection drops (spec.md §4.7).
func (s *Server) handleClient(conn net.Conn) {
	defer conn.Close()

	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				minilog.Debug("client connection %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		switch req.Operation {
		case wire.OpRead:
			s.handleRead(conn, *req)
		case wire.OpWrite:
			s.handleWrite(conn, *req)
		case wire.OpInfo:
			s.handleInfo(conn, *req)
		case wire.OpCloseConnection:
			return
		default:
			// CREATE/DELETE/COPY/RENAME/LIST/MOVE must arrive via the NS
			// (spec.md §4.7: "the only authorization boundary").
			wire.WriteResponse(conn, wire.Response{
				Operation: req.Operation,
				ErrorCode: int32(wire.SSInvalidAuthentication),
				Flags:     wire.FlagFailure,
			})
		}
	}
}

func (s *Server) handleRead(conn net.Conn, req wire.Request) {
	sentinel := wire.NewSentinel()
	if err := wire.WriteRawBuffer(conn, sentinel); err != nil {
		return
	}

	if !s.Trie.Search(req.Path) {
		wire.WriteRawBuffer(conn, textBuffer("path not found: %s", req.Path))
		wire.WriteRawBuffer(conn, sentinel)
		wire.WriteResponse(conn, wire.Response{
			Operation: wire.OpRead,
			ErrorCode: int32(wire.SSInvalidPath),
			Flags:     wire.FlagFailure,
		})
		return
	}

	lock := s.Trie.PathLock(req.Path)
	lock.RLock()
	defer lock.RUnlock()

	f, err := os.Open(s.fullPath(req.Path))
	if err != nil {
		wire.WriteRawBuffer(conn, sentinel)
		wire.WriteResponse(conn, wire.Response{
			Operation: wire.OpRead,
			ErrorCode: int32(wire.SSInvalidAccess),
			Flags:     wire.FlagFailure,
		})
		return
	}
	defer f.Close()

	// io.ReadFull rather than a plain Read: it only ever returns fewer than
	// len(buf) bytes on the true final read (io.ErrUnexpectedEOF) or at a
	// clean EOF with nothing read, so at most one chunk per transfer is
	// ever short — everything else is a full MaxBufferSize frame that the
	// receiver must never truncate (see trimTrailingZeros below).
	buf := make([]byte, wire.MaxBufferSize)
	for {
		n, rerr := io.ReadFull(f, buf)
		if n > 0 {
			if werr := wire.WriteRawBuffer(conn, buf[:n]); werr != nil {
				return
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			wire.WriteRawBuffer(conn, sentinel)
			wire.WriteResponse(conn, wire.Response{
				Operation: wire.OpRead,
				ErrorCode: int32(wire.SSInvalidAccess),
				Flags:     wire.FlagFailure,
			})
			return
		}
	}

	wire.WriteRawBuffer(conn, sentinel)
	wire.WriteResponse(conn, wire.Response{
		Operation: wire.OpRead,
		ErrorCode: int32(wire.SSSuccess),
		Flags:     wire.FlagSuccess,
	})
}

func (s *Server) handleWrite(conn net.Conn, req wire.Request) {
	flag := wire.WriteFlag(req.Flags)
	if flag != wire.WriteAppend && flag != wire.WriteOverwrite {
		wire.WriteResponse(conn, wire.Response{
			Operation: wire.OpWrite,
			ErrorCode: int32(wire.SSInvalidFlag),
			Flags:     wire.FlagFailure,
		})
		return
	}

	sentinel := wire.NewSentinel()
	if err := wire.WriteRawBuffer(conn, sentinel); err != nil {
		return
	}

	if !s.Trie.Search(req.Path) {
		wire.WriteRawBuffer(conn, textBuffer("path not found: %s", req.Path))
		wire.WriteRawBuffer(conn, sentinel)
		wire.WriteResponse(conn, wire.Response{
			Operation: wire.OpWrite,
			ErrorCode: int32(wire.SSInvalidPath),
			Flags:     wire.FlagFailure,
		})
		return
	}

	lock := s.Trie.PathLock(req.Path)
	lock.Lock()
	defer lock.Unlock()

	openFlags := os.O_WRONLY | os.O_CREATE
	if flag == wire.WriteOverwrite {
		openFlags |= os.O_TRUNC
	} else {
		openFlags |= os.O_APPEND
	}

	f, err := os.OpenFile(s.fullPath(req.Path), openFlags, 0o644)
	if err != nil {
		drainUntilSentinel(conn, sentinel)
		wire.WriteResponse(conn, wire.Response{
			Operation: wire.OpWrite,
			ErrorCode: int32(wire.SSInvalidAccess),
			Flags:     wire.FlagFailure,
		})
		return
	}
	defer f.Close()

	// Frames are fixed-size on the wire (spec.md §6), so a genuinely full
	// MaxBufferSize chunk and a short final chunk zero-padded by the sender
	// are indistinguishable by content alone — trimming every chunk would
	// corrupt real trailing NUL bytes in a full chunk. Only the chunk
	// immediately preceding the sentinel can ever have been padded, so read
	// one frame ahead and trim only that one.
	cur, err := wire.ReadRawBuffer(conn)
	if err != nil {
		return
	}
	for !bufEqual(cur, sentinel) {
		next, err := wire.ReadRawBuffer(conn)
		if err != nil {
			return
		}
		chunk := cur
		if bufEqual(next, sentinel) {
			chunk = trimTrailingZeros(chunk)
		}
		if _, err := f.Write(chunk); err != nil {
			wire.WriteResponse(conn, wire.Response{
				Operation: wire.OpWrite,
				ErrorCode: int32(wire.SSInvalidAccess),
				Flags:     wire.FlagFailure,
			})
			return
		}
		cur = next
	}

	wire.WriteResponse(conn, wire.Response{
		Operation: wire.OpWrite,
		ErrorCode: int32(wire.SSSuccess),
		Flags:     wire.FlagSuccess,
	})
}

func (s *Server) handleInfo(conn net.Conn, req wire.Request) {
	if !s.Trie.Search(req.Path) {
		wire.WriteResponse(conn, wire.Response{
			Operation: wire.OpInfo,
			ErrorCode: int32(wire.SSInvalidPath),
			Flags:     wire.FlagFailure,
		})
		return
	}

	lock := s.Trie.PathLock(req.Path)
	lock.RLock()
	info, err := ssfs.Stat(s.Root, req.Path)
	lock.RUnlock()
	if err != nil {
		wire.WriteResponse(conn, wire.Response{
			Operation: wire.OpInfo,
			ErrorCode: int32(wire.SSInvalidAccess),
			Flags:     wire.FlagFailure,
		})
		return
	}

	wire.WriteResponse(conn, wire.Response{
		Operation: wire.OpInfo,
		ErrorCode: int32(wire.SSSuccess),
		Flags:     wire.FlagSuccess,
	})
	wire.WritePathInfo(conn, info)
}

func drainUntilSentinel(conn net.Conn, sentinel []byte) {
	for {
		buf, err := wire.ReadRawBuffer(conn)
		if err != nil || bufEqual(buf, sentinel) {
			return
		}
	}
}

func bufEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// trimTrailingZeros drops the zero padding WriteRawBuffer applies to a
// short final chunk. Callers must apply this only to the one chunk known
// to immediately precede the sentinel (see handleWrite) — a full
// MaxBufferSize chunk is never padded and must never be trimmed, or real
// trailing NUL bytes in the file content would be corrupted. For payload
// sizes that are an exact multiple of MaxBufferSize, no chunk is ever
// short, so this function is never reached at all.
func trimTrailingZeros(buf []byte) []byte {
	n := len(buf)
	for n > 0 && buf[n-1] == 0 {
		n--
	}
	return buf[:n]
}
