// Package nstrie implements the naming service's authoritative mount
// namespace: a token-per-level trie mapping paths to the storage server
// that currently hosts them (spec.md §4.1).
//
// The original C trie hashes each child token into a MAX_CHILDREN=512 slot
// array with djb2, silently overwriting on collision. spec.md §9 calls this
// out as a bug to fix, not carry forward: this package keys each node's
// children by the token string itself in a map, which cannot collide and
// has no fixed fan-out ceiling.
package nstrie

import (
	"fmt"
	"sort"
	"strings"

	"github.com/distfs/distfs/internal/registry"
)

type node struct {
	token    string
	server   *registry.ServerHandle
	children map[string]*node
}

func newNode(token string) *node {
	return &node{token: token, children: make(map[string]*node)}
}

// Trie is the NS mount namespace. The caller is responsible for locking
// (see internal/nsserver, which wraps every mutation/lookup in
// Namespace's single mutex — spec.md §9 flags the original source for declaring this
// lock but not consistently taking it; this package assumes a single
// external lock rather than re-deriving that bug).
type Trie struct {
	root *node
}

func New() *Trie {
	return &Trie{root: newNode("")}
}

// tokens splits a path on '/' and drops the leading mount-root segment
// (spec.md §3: "The first token is a declared mount root and is dropped
// during insert/lookup").
func tokens(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 {
		return nil
	}
	if len(parts) == 1 && parts[0] == "" {
		return nil
	}
	// drop the mount root label
	if len(parts) > 0 {
		parts = parts[1:]
	}
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Insert splits path on '/', walking or creating nodes under root, and
// assigns server to the terminal node. Idempotent for an already-existing
// terminal.
func (t *Trie) Insert(path string, server *registry.ServerHandle) error {
	if server == nil {
		return fmt.Errorf("nstrie: insert: nil server handle")
	}

	n := t.root
	for _, tok := range tokens(path) {
		child, ok := n.children[tok]
		if !ok {
			child = newNode(tok)
			n.children[tok] = child
		}
		n = child
	}
	n.server = server
	return nil
}

// Resolve walks tokens and returns the terminal's server handle, or false
// if any hop is missing. It does not bubble up to an ancestor's handle;
// callers that want inheritance apply it explicitly (spec.md §4.1).
func (t *Trie) Resolve(path string) (*registry.ServerHandle, bool) {
	n := t.root
	for _, tok := range tokens(path) {
		child, ok := n.children[tok]
		if !ok {
			return nil, false
		}
		n = child
	}
	if n.server == nil {
		return nil, false
	}
	return n.server, true
}

// Delete detaches the entire subtree rooted at path. Fails if path is
// absent.
func (t *Trie) Delete(path string) error {
	toks := tokens(path)
	if len(toks) == 0 {
		return fmt.Errorf("nstrie: delete: refusing to delete mount root")
	}

	n := t.root
	for _, tok := range toks[:len(toks)-1] {
		child, ok := n.children[tok]
		if !ok {
			return fmt.Errorf("nstrie: delete: path %q not found", path)
		}
		n = child
	}

	last := toks[len(toks)-1]
	if _, ok := n.children[last]; !ok {
		return fmt.Errorf("nstrie: delete: path %q not found", path)
	}
	delete(n.children, last)
	return nil
}

// Rename moves the subtree at oldPath to be a child of the same parent
// under newName, invalidating the caller's resolution cache entries for
// both old and new paths is the caller's responsibility (spec.md §9: RENAME
// propagation must invalidate both keys, which the original source did
// not do).
func (t *Trie) Rename(oldPath, newName string) error {
	toks := tokens(oldPath)
	if len(toks) == 0 {
		return fmt.Errorf("nstrie: rename: refusing to rename mount root")
	}

	n := t.root
	for _, tok := range toks[:len(toks)-1] {
		child, ok := n.children[tok]
		if !ok {
			return fmt.Errorf("nstrie: rename: path %q not found", oldPath)
		}
		n = child
	}

	last := toks[len(toks)-1]
	moved, ok := n.children[last]
	if !ok {
		return fmt.Errorf("nstrie: rename: path %q not found", oldPath)
	}
	if _, occupied := n.children[newName]; occupied {
		return fmt.Errorf("nstrie: rename: target name %q already exists", newName)
	}

	delete(n.children, last)
	moved.token = newName
	n.children[newName] = moved
	return nil
}

// SubtreeDump produces a human-readable indented tree of the subtree rooted
// at path, using "|-" as a branch marker (spec.md §4.1). Returns an error if
// path is absent.
func (t *Trie) SubtreeDump(path string) (string, error) {
	n := t.root
	label := "Mount"
	for _, tok := range tokens(path) {
		child, ok := n.children[tok]
		if !ok {
			return "", fmt.Errorf("nstrie: subtree_dump: path %q not found", path)
		}
		n = child
		label = tok
	}

	var b strings.Builder
	dumpNode(&b, n, label, "")
	return b.String(), nil
}

func dumpNode(b *strings.Builder, n *node, label, prefix string) {
	b.WriteString(prefix)
	b.WriteString("|-")
	b.WriteString(label)
	b.WriteByte('\n')

	// deterministic ordering so two dumps of the same tree compare equal
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		dumpNode(b, n.children[name], name, prefix+"|-")
	}
}
