package nsserver

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/distfs/distfs/internal/registry"
	"github.com/distfs/distfs/internal/wire"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BackupServers = 1
	return New(cfg)
}

func registerServer(t *testing.T, s *Server, id uint64, ip string, clientPort int) *registry.ServerHandle {
	t.Helper()
	h := &registry.ServerHandle{
		ServerID:   id,
		IP:         net.ParseIP(ip),
		ClientPort: clientPort,
	}
	require.NoError(t, s.Servers.AddServer(h))
	return h
}

func TestDispatchReadPrimaryRunning(t *testing.T) {
	s := newTestServer(t)
	h := registerServer(t, s, 1, "127.0.0.1", 9001)
	require.NoError(t, s.Namespace.Insert("mount/a/f1", h))

	resp := s.dispatch(&registry.ClientHandle{ClientID: 42}, wire.Request{Operation: wire.OpRead, Path: "mount/a/f1"})

	require.Equal(t, wire.FlagSuccess, resp.Flags)
	require.Equal(t, int32(wire.NSSuccess), resp.ErrorCode)
	require.Equal(t, "127.0.0.1 9001", resp.Data)
}

func TestDispatchReadFallsBackToBackup(t *testing.T) {
	s := newTestServer(t)
	primary := registerServer(t, s, 1, "127.0.0.1", 9001)
	backup := registerServer(t, s, 2, "127.0.0.1", 9002)
	require.NoError(t, s.Servers.AssignBackups(primary.ServerID, 1))
	require.NoError(t, s.Namespace.Insert("mount/a/f1", primary))

	require.NoError(t, s.Servers.SetInactive(primary.ServerID))

	resp := s.dispatch(&registry.ClientHandle{ClientID: 42}, wire.Request{Operation: wire.OpRead, Path: "mount/a/f1"})

	require.Equal(t, wire.FlagBackupResponse, resp.Flags)
	require.Equal(t, backup.ServerID, resp.ServerID)
}

func TestDispatchReadNoBackupAvailable(t *testing.T) {
	s := newTestServer(t)
	primary := registerServer(t, s, 1, "127.0.0.1", 9001)
	require.NoError(t, s.Namespace.Insert("mount/a/f1", primary))
	require.NoError(t, s.Servers.SetInactive(primary.ServerID))

	resp := s.dispatch(&registry.ClientHandle{ClientID: 42}, wire.Request{Operation: wire.OpRead, Path: "mount/a/f1"})

	require.Equal(t, wire.FlagFailure, resp.Flags)
	require.Equal(t, int32(wire.NSBackupUnavailable), resp.ErrorCode)
}

func TestDispatchWriteNeverFallsBack(t *testing.T) {
	s := newTestServer(t)
	primary := registerServer(t, s, 1, "127.0.0.1", 9001)
	registerServer(t, s, 2, "127.0.0.1", 9002)
	require.NoError(t, s.Servers.AssignBackups(primary.ServerID, 1))
	require.NoError(t, s.Namespace.Insert("mount/a/f1", primary))
	require.NoError(t, s.Servers.SetInactive(primary.ServerID))

	resp := s.dispatch(&registry.ClientHandle{ClientID: 42}, wire.Request{Operation: wire.OpWrite, Path: "mount/a/f1"})

	require.Equal(t, wire.FlagFailure, resp.Flags)
	require.Equal(t, int32(wire.NSServerUnavailable), resp.ErrorCode)
}

func TestDispatchUnknownPath(t *testing.T) {
	s := newTestServer(t)
	resp := s.dispatch(&registry.ClientHandle{ClientID: 42}, wire.Request{Operation: wire.OpRead, Path: "mount/nope"})
	require.Equal(t, int32(wire.NSPathNotFound), resp.ErrorCode)
}

func TestDispatchList(t *testing.T) {
	s := newTestServer(t)
	h := registerServer(t, s, 1, "127.0.0.1", 9001)
	require.NoError(t, s.Namespace.Insert("mount/a/f1", h))

	resp := s.dispatch(&registry.ClientHandle{ClientID: 42}, wire.Request{Operation: wire.OpList, Path: "/"})
	require.Equal(t, wire.FlagSuccess, resp.Flags)
	require.Contains(t, resp.Data, "|-Mount")
}

func TestDispatchUnknownOperation(t *testing.T) {
	s := newTestServer(t)
	resp := s.dispatch(&registry.ClientHandle{ClientID: 42}, wire.Request{Operation: 99})
	require.Equal(t, int32(wire.NSInvalidOperation), resp.ErrorCode)
}

func TestDispatchRenameForwardsOverWriteSocket(t *testing.T) {
	s := newTestServer(t)
	h := registerServer(t, s, 1, "127.0.0.1", 9001)
	require.NoError(t, s.Namespace.Insert("mount/a/f1", h))

	writeConn, ssPeer := net.Pipe()
	defer writeConn.Close()
	defer ssPeer.Close()
	h.SetConns(writeConn, nil)

	done := make(chan wire.Request, 1)
	go func() {
		req, err := wire.ReadRequest(ssPeer)
		require.NoError(t, err)
		done <- *req
	}()

	resp := s.dispatch(&registry.ClientHandle{ClientID: 42}, wire.Request{
		Operation: wire.OpRename,
		Path:      "f1new mount/a/f1",
	})

	require.Equal(t, wire.FlagSuccess, resp.Flags)
	require.Equal(t, "Request forwarded to server", resp.Data)

	fwd := <-done
	require.Equal(t, uint64(42), fwd.ClientID)
	require.Equal(t, "f1new mount/a/f1", fwd.Path)
}

func TestDispatchRenameFailsWithoutWriteSocket(t *testing.T) {
	s := newTestServer(t)
	h := registerServer(t, s, 1, "127.0.0.1", 9001)
	require.NoError(t, s.Namespace.Insert("mount/a/f1", h))

	resp := s.dispatch(&registry.ClientHandle{ClientID: 42}, wire.Request{
		Operation: wire.OpRename,
		Path:      "f1new mount/a/f1",
	})

	require.Equal(t, wire.FlagFailure, resp.Flags)
	require.Equal(t, int32(wire.NSFwdFailed), resp.ErrorCode)
}
