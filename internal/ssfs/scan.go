package ssfs

import (
	"os"
	"path/filepath"
)

// Scan walks root recursively, ignoring "." and "..", and inserts every
// file and directory it finds into a fresh Trie using its path relative to
// root (spec.md §4.6: "On SS startup, recursively scans its working
// directory ... inserting each entry into the trie with its path token").
func Scan(root string) (*Trie, error) {
	tr := New()

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		tr.Insert(filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return tr, nil
}
