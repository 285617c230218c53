package nsserver

import (
	"sync"
	"time"

	"github.com/distfs/distfs/internal/registry"
)

// Config holds the naming service's tunables, all exposed as flags by
// cmd/distfs-ns (spec.md §9 ambient config; the constants themselves are
// spec-mandated: BACKUP_SERVERS, MAX_CONN_REQ, CONN_TIMEOUT, CACHE_SIZE).
type Config struct {
	BackupServers int
	MaxServers    int
	MaxClients    int
	CacheSize     int
	MaxConnReq    int
	ConnTimeout   time.Duration
}

// DefaultConfig mirrors the source's compiled-in defaults.
func DefaultConfig() Config {
	return Config{
		BackupServers: 1,
		MaxServers:    16,
		MaxClients:    256,
		CacheSize:     128,
		MaxConnReq:    5,
		ConnTimeout:   2 * time.Second,
	}
}

// Server is the naming service's runtime state, shared by every
// client-handler and server-handler goroutine (spec.md §9: "reimplementations
// should bundle [global state] into per-process context structures passed
// explicitly").
type Server struct {
	cfg Config

	Namespace *Namespace
	Servers   *registry.ServerRegistry
	Clients   *registry.ClientRegistry

	enough *enoughServers

	renameMu       sync.Mutex
	pendingRenames map[uint64]pendingRename
}

// pendingRename remembers the namespace-level effect of a RENAME this
// server forwarded to an SS, so the namespace can be updated once the SS's
// completion response comes back on serveServerResponses (spec.md §9:
// "RENAME propagation invalidates both the old and the new path keys" —
// that propagation has to happen somewhere, and the NS only learns the
// rename succeeded asynchronously).
type pendingRename struct {
	OldPath string
	NewName string
}

func New(cfg Config) *Server {
	return &Server{
		cfg:            cfg,
		Namespace:      NewNamespace(cfg.CacheSize),
		Servers:        registry.NewServerRegistry(cfg.MaxServers),
		Clients:        registry.NewClientRegistry(cfg.MaxClients),
		enough:         newEnoughServers(cfg.BackupServers + 1),
		pendingRenames: make(map[uint64]pendingRename),
	}
}

// trackPendingRename records the namespace update to apply once the
// in-flight forwarded RENAME for clientID completes. A second RENAME from
// the same client before the first completes overwrites the pending entry;
// per-client RENAME is expected to be synchronous from the issuer's point
// of view (it waits for the ACK before issuing another), so this is not a
// real-world race, only a defensive default.
func (s *Server) trackPendingRename(clientID uint64, oldPath, newName string) {
	s.renameMu.Lock()
	defer s.renameMu.Unlock()
	s.pendingRenames[clientID] = pendingRename{OldPath: oldPath, NewName: newName}
}

func (s *Server) takePendingRename(clientID uint64) (pendingRename, bool) {
	s.renameMu.Lock()
	defer s.renameMu.Unlock()
	p, ok := s.pendingRenames[clientID]
	if ok {
		delete(s.pendingRenames, clientID)
	}
	return p, ok
}
