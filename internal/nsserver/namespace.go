// Package nsserver implements the naming service daemon: the dual
// client/server listeners, the registration handshake state machine, and
// per-client request dispatch (spec.md §4.4, §4.5).
package nsserver

import (
	"strings"
	"sync"

	"github.com/distfs/distfs/internal/nstrie"
	"github.com/distfs/distfs/internal/registry"
	"github.com/distfs/distfs/internal/rescache"
)

// Namespace composes the path trie and resolution cache behind one mutex
// (spec.md §9: the source declares a MountTrieLock but doesn't consistently
// take it, and the cache has no lock at all — a reimplementation must fix
// both). Every mutation that changes what a path resolves to goes through
// here so cache invalidation can never be forgotten at a call site.
type Namespace struct {
	mu    sync.Mutex
	trie  *nstrie.Trie
	cache *rescache.Cache
}

func NewNamespace(cacheSize int) *Namespace {
	return &Namespace{
		trie:  nstrie.New(),
		cache: rescache.New(cacheSize),
	}
}

func (n *Namespace) Insert(path string, server *registry.ServerHandle) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.trie.Insert(path, server); err != nil {
		return err
	}
	n.cache.Invalidate(path)
	return nil
}

// Resolve checks the cache before falling back to the trie, populating the
// cache on a trie hit (spec.md §4.2).
func (n *Namespace) Resolve(path string) (*registry.ServerHandle, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if server, ok := n.cache.Get(path); ok {
		return server, true
	}
	server, ok := n.trie.Resolve(path)
	if ok {
		n.cache.Put(path, server)
	}
	return server, ok
}

func (n *Namespace) Delete(path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.trie.Delete(path); err != nil {
		return err
	}
	// the whole subtree is gone, and the cache is keyed by full path, so
	// cached descendants of path must go too.
	n.cache.Flush()
	return nil
}

// Rename moves oldPath to a sibling named newName and invalidates both the
// old and new cache keys (spec.md §9: the original does not invalidate
// either key on rename).
func (n *Namespace) Rename(oldPath, newName string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.trie.Rename(oldPath, newName); err != nil {
		return err
	}
	n.cache.Invalidate(oldPath)
	n.cache.Invalidate(newPath(oldPath, newName))
	return nil
}

func newPath(oldPath, newName string) string {
	idx := strings.LastIndex(strings.TrimRight(oldPath, "/"), "/")
	if idx < 0 {
		return newName
	}
	return oldPath[:idx+1] + newName
}

func (n *Namespace) SubtreeDump(path string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.trie.SubtreeDump(path)
}
