package ssserver

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/distfs/distfs/internal/wire"
)

func startTestServerWithNS(t *testing.T) (*Server, net.Conn, net.Conn) {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f1"), []byte("hi"), 0o644))

	s, err := New(root, nil)
	require.NoError(t, err)

	// nsReply stands in for the registration connection the NS reads
	// RESPONSE frames from.
	nsReply, nsReplyPeer := net.Pipe()
	s.mu.Lock()
	s.nsConn = nsReply
	s.mu.Unlock()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go s.ServeNS(ln)

	nsConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { nsConn.Close() })

	return s, nsConn, nsReplyPeer
}

func TestForwardedRenameSucceeds(t *testing.T) {
	s, nsConn, nsReplyPeer := startTestServerWithNS(t)

	req := wire.Request{
		Operation: wire.OpRename,
		ClientID:  42,
		Path:      "f1new f1",
	}
	require.NoError(t, wire.WriteRequest(nsConn, req))

	resp, err := wire.ReadResponse(nsReplyPeer)
	require.NoError(t, err)
	require.Equal(t, wire.FlagSuccess, resp.Flags)
	require.Contains(t, resp.Data, "42")

	require.True(t, s.Trie.Search("f1new"))
	require.False(t, s.Trie.Search("f1"))

	_, err = os.Stat(filepath.Join(s.Root, "f1new"))
	require.NoError(t, err)
}

func TestForwardedRenameMissingSource(t *testing.T) {
	_, nsConn, nsReplyPeer := startTestServerWithNS(t)

	req := wire.Request{
		Operation: wire.OpRename,
		ClientID:  7,
		Path:      "newname nope",
	}
	require.NoError(t, wire.WriteRequest(nsConn, req))

	resp, err := wire.ReadResponse(nsReplyPeer)
	require.NoError(t, err)
	require.Equal(t, wire.FlagFailure, resp.Flags)
	require.Contains(t, resp.Data, "7")
}

func TestForwardedRenameMalformedPayload(t *testing.T) {
	_, nsConn, nsReplyPeer := startTestServerWithNS(t)

	req := wire.Request{
		Operation: wire.OpRename,
		ClientID:  3,
		Path:      "nopeaces",
	}
	require.NoError(t, wire.WriteRequest(nsConn, req))

	resp, err := wire.ReadResponse(nsReplyPeer)
	require.NoError(t, err)
	require.Equal(t, int32(wire.SSInvalidPath), resp.ErrorCode)
}

func TestNSConnectionRejectedWhenNotAllowed(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, []net.IP{net.ParseIP("10.0.0.1")})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go s.ServeNS(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// loopback isn't in the allow list, so the server should close the
	// connection without responding.
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err)
}
