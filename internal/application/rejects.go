package application

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirEntry is a minimal directory tree, decoupled from the filesystem so
// rejected-hunk discovery stays a pure function.
type DirEntry struct {
	Name     string
	IsFile   bool
	Children []DirEntry
}

const rejectSuffix = ".rej"

// CollectRejects returns the paths, relative to root and sorted, of every
// .rej sidecar file in the tree. The root's own name is not part of the
// returned paths.
func CollectRejects(root DirEntry) []string {
	var out []string
	for _, c := range root.Children {
		collectRejects("", c, &out)
	}
	sort.Strings(out)
	return out
}

func collectRejects(prefix string, e DirEntry, out *[]string) {
	path := e.Name
	if prefix != "" {
		path = filepath.Join(prefix, e.Name)
	}
	if e.IsFile {
		if strings.HasSuffix(e.Name, rejectSuffix) {
			*out = append(*out, path)
		}
		return
	}
	for _, c := range e.Children {
		collectRejects(path, c, out)
	}
}

// ReadTree loads a directory from disk into a DirEntry tree. The .git
// directory is skipped; patch rejects never land there.
func ReadTree(dir string) (DirEntry, error) {
	root := DirEntry{Name: filepath.Base(dir)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return root, err
	}
	for _, e := range entries {
		if e.IsDir() {
			if e.Name() == ".git" {
				continue
			}
			child, err := ReadTree(filepath.Join(dir, e.Name()))
			if err != nil {
				return root, err
			}
			root.Children = append(root.Children, child)
			continue
		}
		root.Children = append(root.Children, DirEntry{Name: e.Name(), IsFile: true})
	}
	return root, nil
}
