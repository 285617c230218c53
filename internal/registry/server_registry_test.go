package registry

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func handle(id uint64) *ServerHandle {
	return &ServerHandle{ServerID: id, IP: net.ParseIP("127.0.0.1")}
}

func TestServerIDPacking(t *testing.T) {
	id := ServerID(net.ParseIP("10.0.0.1"), 9001)

	var want uint64 = 10<<24 | 0<<16 | 0<<8 | 1
	want = want<<16 | 9001

	require.Equal(t, want, id)
}

func TestAddServerReactivatesSameID(t *testing.T) {
	r := NewServerRegistry(4)
	h := handle(1)

	require.NoError(t, r.AddServer(h))
	require.NoError(t, r.RemoveServer(1))

	active, err := r.IsActive(1)
	require.Error(t, err)
	require.False(t, active)

	require.NoError(t, r.AddServer(h))
	active, err = r.IsActive(1)
	require.NoError(t, err)
	require.True(t, active)
}

func TestAddServerCapacityExhausted(t *testing.T) {
	r := NewServerRegistry(2)
	require.NoError(t, r.AddServer(handle(1)))
	require.NoError(t, r.AddServer(handle(2)))

	err := r.AddServer(handle(3))
	require.Error(t, err)
	var capErr *ErrCapacityExhausted
	require.ErrorAs(t, err, &capErr)
}

func TestAssignBackupsPrefersFewestRefs(t *testing.T) {
	r := NewServerRegistry(4)
	for _, id := range []uint64{1, 2, 3, 4} {
		require.NoError(t, r.AddServer(handle(id)))
	}

	// give server 2 an existing backup ref by assigning it as a backup of 1
	require.NoError(t, r.AssignBackups(1, 1))
	h1, _ := r.Get(1)
	require.Len(t, h1.Backups, 1)

	require.NoError(t, r.AssignBackups(3, 1))
	h3, _ := r.Get(3)
	require.Len(t, h3.Backups, 1)
	require.NotEqual(t, h1.Backups[0], h3.Backups[0], "backup assignment should spread refcounts")
}

func TestAssignBackupsIdempotent(t *testing.T) {
	r := NewServerRegistry(4)
	for _, id := range []uint64{1, 2, 3} {
		require.NoError(t, r.AddServer(handle(id)))
	}

	require.NoError(t, r.AssignBackups(1, 1))
	h1, _ := r.Get(1)
	first := h1.Backups[0]

	require.NoError(t, r.AssignBackups(1, 1))
	require.Equal(t, first, h1.Backups[0])
}

func TestAssignBackupsFailsWhenInsufficientCandidates(t *testing.T) {
	r := NewServerRegistry(4)
	require.NoError(t, r.AddServer(handle(1)))

	err := r.AssignBackups(1, 2)
	require.Error(t, err)
}

func TestGetActiveBackupSkipsInactive(t *testing.T) {
	r := NewServerRegistry(4)
	require.NoError(t, r.AddServer(handle(1)))
	require.NoError(t, r.AddServer(handle(2)))
	require.NoError(t, r.SetInactive(1))

	id, ok := r.GetActiveBackup([]uint64{1, 2})
	require.True(t, ok)
	require.Equal(t, uint64(2), id)
}

func TestGetActiveBackupNoneRunning(t *testing.T) {
	r := NewServerRegistry(4)
	require.NoError(t, r.AddServer(handle(1)))
	require.NoError(t, r.SetInactive(1))

	_, ok := r.GetActiveBackup([]uint64{1})
	require.False(t, ok)
}

func TestBackupServersZeroStillFunctions(t *testing.T) {
	r := NewServerRegistry(4)
	require.NoError(t, r.AddServer(handle(1)))

	require.NoError(t, r.AssignBackups(1, 0))
	h1, _ := r.Get(1)
	require.Empty(t, h1.Backups)
}
