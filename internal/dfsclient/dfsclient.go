// Package dfsclient implements the non-interactive client side of the wire
// protocol (spec.md §4.7, §6): resolve a path at the naming service, then
// either talk directly to the storage server it names (READ/WRITE/INFO) or
// read the NS's own reply (LIST), or wait on the asynchronous ACK the NS
// pushes back for a forwarded RENAME (spec.md §4.5, §8 S6). The interactive
// shell itself — prompts, command parsing, colored output — is out of
// scope (spec.md §1); this package is the protocol plumbing cmd/distfs-client
// dispatches into from its one-shot subcommands, grounded on the original
// client's DirectConnFunc.c / IndirectConnFunc.c request/response sequencing.
package dfsclient

import (
	"bytes"
	"fmt"
	"io"
	"net"

	"github.com/distfs/distfs/internal/wire"
)

// ErrFailed wraps a non-success RESPONSE or ACK with its numeric code.
type ErrFailed struct {
	Op        string
	ErrorCode int32
}

func (e *ErrFailed) Error() string {
	return fmt.Sprintf("%s failed: error code %d", e.Op, e.ErrorCode)
}

// dialNS opens a request/response connection to the naming service's
// client-facing port.
func dialNS(nsAddr string) (net.Conn, error) {
	conn, err := net.Dial("tcp", nsAddr)
	if err != nil {
		return nil, fmt.Errorf("dfsclient: dial naming service %s: %w", nsAddr, err)
	}
	return conn, nil
}

// List asks the naming service to dump the subtree rooted at path
// (spec.md §4.5 LIST).
func List(nsAddr, path string) (string, error) {
	conn, err := dialNS(nsAddr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := wire.WriteRequest(conn, wire.Request{Operation: wire.OpList, Path: path}); err != nil {
		return "", fmt.Errorf("dfsclient: send list request: %w", err)
	}
	resp, err := wire.ReadResponse(conn)
	if err != nil {
		return "", fmt.Errorf("dfsclient: read list response: %w", err)
	}
	if resp.Flags == wire.FlagFailure {
		return "", &ErrFailed{Op: "LIST", ErrorCode: resp.ErrorCode}
	}
	return resp.Data, nil
}

// Read resolves path at the naming service, falling back transparently to
// whatever server the NS names (primary or backup), then streams the file
// contents from that storage server into out (spec.md §4.5 READ, §4.7
// client-direct READ, §6 bulk transfer protocol).
func Read(nsAddr, path string, out io.Writer) error {
	conn, err := dialNS(nsAddr)
	if err != nil {
		return err
	}

	req := wire.Request{Operation: wire.OpRead, Path: path}
	if err := wire.WriteRequest(conn, req); err != nil {
		conn.Close()
		return fmt.Errorf("dfsclient: send read request: %w", err)
	}
	resp, err := wire.ReadResponse(conn)
	conn.Close()
	if err != nil {
		return fmt.Errorf("dfsclient: read read-response: %w", err)
	}
	if resp.Flags == wire.FlagFailure {
		return &ErrFailed{Op: "READ", ErrorCode: resp.ErrorCode}
	}

	ssAddr, err := parseServerAddr(resp.Data)
	if err != nil {
		return err
	}

	ssConn, err := net.Dial("tcp", ssAddr)
	if err != nil {
		return fmt.Errorf("dfsclient: dial storage server %s: %w", ssAddr, err)
	}
	defer ssConn.Close()

	if err := wire.WriteRequest(ssConn, req); err != nil {
		return fmt.Errorf("dfsclient: resend read request to storage server: %w", err)
	}

	sentinel, err := wire.ReadRawBuffer(ssConn)
	if err != nil {
		return fmt.Errorf("dfsclient: read sentinel: %w", err)
	}

	// Buffered rather than streamed straight to out: on failure the
	// frames preceding the second sentinel are an error message, not file
	// content, and must never reach out.
	//
	// Frames are fixed-size on the wire (spec.md §6), so a genuinely full
	// MaxBufferSize chunk and a short final chunk zero-padded by the
	// sender are indistinguishable by content alone — trimming every
	// chunk would corrupt real trailing NUL bytes in a full chunk. Only
	// the chunk immediately preceding the sentinel can ever have been
	// padded, so read one frame ahead and trim only that one.
	var payload bytes.Buffer
	cur, err := wire.ReadRawBuffer(ssConn)
	if err != nil {
		return fmt.Errorf("dfsclient: read payload frame: %w", err)
	}
	for !bytes.Equal(cur, sentinel) {
		next, err := wire.ReadRawBuffer(ssConn)
		if err != nil {
			return fmt.Errorf("dfsclient: read payload frame: %w", err)
		}
		chunk := cur
		if bytes.Equal(next, sentinel) {
			chunk = trimTrailingZeros(chunk)
		}
		payload.Write(chunk)
		cur = next
	}

	final, err := wire.ReadResponse(ssConn)
	if err != nil {
		return fmt.Errorf("dfsclient: read terminal response: %w", err)
	}
	if final.Flags == wire.FlagFailure {
		return &ErrFailed{Op: "READ", ErrorCode: final.ErrorCode}
	}

	_, err = out.Write(payload.Bytes())
	return err
}

// Write resolves path at the naming service (no backup fallback, spec.md
// §4.5) and streams in's contents to the primary storage server.
func Write(nsAddr, path string, flag wire.WriteFlag, in io.Reader) error {
	conn, err := dialNS(nsAddr)
	if err != nil {
		return err
	}

	req := wire.Request{Operation: wire.OpWrite, Path: path, Flags: int32(flag)}
	if err := wire.WriteRequest(conn, req); err != nil {
		conn.Close()
		return fmt.Errorf("dfsclient: send write request: %w", err)
	}
	resp, err := wire.ReadResponse(conn)
	conn.Close()
	if err != nil {
		return fmt.Errorf("dfsclient: read write-response: %w", err)
	}
	if resp.Flags == wire.FlagFailure {
		return &ErrFailed{Op: "WRITE", ErrorCode: resp.ErrorCode}
	}

	ssAddr, err := parseServerAddr(resp.Data)
	if err != nil {
		return err
	}

	ssConn, err := net.Dial("tcp", ssAddr)
	if err != nil {
		return fmt.Errorf("dfsclient: dial storage server %s: %w", ssAddr, err)
	}
	defer ssConn.Close()

	if err := wire.WriteRequest(ssConn, req); err != nil {
		return fmt.Errorf("dfsclient: resend write request to storage server: %w", err)
	}

	sentinel, err := wire.ReadRawBuffer(ssConn)
	if err != nil {
		return fmt.Errorf("dfsclient: read sentinel: %w", err)
	}

	// io.ReadFull rather than a plain Read: it only ever returns fewer than
	// len(buf) bytes on the true final read (io.ErrUnexpectedEOF) or at a
	// clean EOF with nothing read, so at most one chunk per transfer is
	// ever short — everything else is a full MaxBufferSize frame the
	// storage server must never truncate on receipt.
	buf := make([]byte, wire.MaxBufferSize)
	for {
		n, rerr := io.ReadFull(in, buf)
		if n > 0 {
			if werr := wire.WriteRawBuffer(ssConn, buf[:n]); werr != nil {
				return fmt.Errorf("dfsclient: write payload frame: %w", werr)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("dfsclient: read input: %w", rerr)
		}
	}
	if err := wire.WriteRawBuffer(ssConn, sentinel); err != nil {
		return fmt.Errorf("dfsclient: send terminating sentinel: %w", err)
	}

	final, err := wire.ReadResponse(ssConn)
	if err != nil {
		return fmt.Errorf("dfsclient: read terminal response: %w", err)
	}
	if final.Flags == wire.FlagFailure {
		return &ErrFailed{Op: "WRITE", ErrorCode: final.ErrorCode}
	}
	return nil
}

// Info resolves path and fetches its PATH_INFO record from the storage
// server (spec.md §4.7 client-direct INFO).
func Info(nsAddr, path string) (wire.PathInfo, error) {
	conn, err := dialNS(nsAddr)
	if err != nil {
		return wire.PathInfo{}, err
	}

	req := wire.Request{Operation: wire.OpInfo, Path: path}
	if err := wire.WriteRequest(conn, req); err != nil {
		conn.Close()
		return wire.PathInfo{}, fmt.Errorf("dfsclient: send info request: %w", err)
	}
	resp, err := wire.ReadResponse(conn)
	conn.Close()
	if err != nil {
		return wire.PathInfo{}, fmt.Errorf("dfsclient: read info-response: %w", err)
	}
	if resp.Flags == wire.FlagFailure {
		return wire.PathInfo{}, &ErrFailed{Op: "INFO", ErrorCode: resp.ErrorCode}
	}

	ssAddr, err := parseServerAddr(resp.Data)
	if err != nil {
		return wire.PathInfo{}, err
	}

	ssConn, err := net.Dial("tcp", ssAddr)
	if err != nil {
		return wire.PathInfo{}, fmt.Errorf("dfsclient: dial storage server %s: %w", ssAddr, err)
	}
	defer ssConn.Close()

	if err := wire.WriteRequest(ssConn, req); err != nil {
		return wire.PathInfo{}, fmt.Errorf("dfsclient: resend info request to storage server: %w", err)
	}

	final, err := wire.ReadResponse(ssConn)
	if err != nil {
		return wire.PathInfo{}, fmt.Errorf("dfsclient: read info response: %w", err)
	}
	if final.Flags == wire.FlagFailure {
		return wire.PathInfo{}, &ErrFailed{Op: "INFO", ErrorCode: final.ErrorCode}
	}

	info, err := wire.ReadPathInfo(ssConn)
	if err != nil {
		return wire.PathInfo{}, fmt.Errorf("dfsclient: read path info: %w", err)
	}
	return *info, nil
}

// Rename sends a RENAME request and blocks on the same NS connection until
// the asynchronous ACK the NS routes back for the forwarded completion
// arrives (spec.md §4.5 RENAME, §8 S6: "Later, client receives ACK whose
// data begins '<C> ' ..."). The immediate RESPONSE only confirms the
// request was forwarded, not that it completed.
func Rename(nsAddr, sourcePath, newName string) (string, error) {
	conn, err := dialNS(nsAddr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	req := wire.Request{Operation: wire.OpRename, Path: newName + " " + sourcePath}
	if err := wire.WriteRequest(conn, req); err != nil {
		return "", fmt.Errorf("dfsclient: send rename request: %w", err)
	}

	resp, err := wire.ReadResponse(conn)
	if err != nil {
		return "", fmt.Errorf("dfsclient: read rename-response: %w", err)
	}
	if resp.Flags == wire.FlagFailure {
		return "", &ErrFailed{Op: "RENAME", ErrorCode: resp.ErrorCode}
	}

	ack, err := wire.ReadAck(conn)
	if err != nil {
		return "", fmt.Errorf("dfsclient: read rename ack: %w", err)
	}
	if ack.Flags == wire.FlagFailure {
		return "", &ErrFailed{Op: "RENAME", ErrorCode: ack.ErrorCode}
	}
	return ack.Data, nil
}

// Close tells the naming service this client is done, per the explicit
// CLOSE_CONNECTION opcode (spec.md §6); there is no response frame for it.
func Close(nsAddr string) error {
	conn, err := dialNS(nsAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	return wire.WriteRequest(conn, wire.Request{Operation: wire.OpCloseConnection})
}

func parseServerAddr(data string) (string, error) {
	var ip string
	var port int
	if _, err := fmt.Sscanf(data, "%s %d", &ip, &port); err != nil {
		return "", fmt.Errorf("dfsclient: malformed server address %q: %w", data, err)
	}
	return net.JoinHostPort(ip, fmt.Sprint(port)), nil
}

// trimTrailingZeros drops the zero padding WriteRawBuffer applies to a
// short final chunk. Callers must apply this only to the one chunk known
// to immediately precede the sentinel (see Read above) — a full
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
