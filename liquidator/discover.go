// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package liquidator

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Discover returns the files under root whose extension is ext. A root that
// is not a directory is returned as is. Directories are searched recursively,
// following symbolic links, in lexical order within each directory; a
// directory reached twice through links is searched once.
func Discover(root, ext string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.E(err, "discover", root)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var (
		paths   []string
		visited = map[string]bool{}
		walk    func(dir string) error
	)
	walk = func(dir string) error {
		resolved, err := filepath.EvalSymlinks(dir)
		if err != nil {
			return errors.E(err, "discover", dir)
		}
		if visited[resolved] {
			return nil
		}
		visited[resolved] = true
		entries, err := ioutil.ReadDir(dir)
		if err != nil {
			return errors.E(err, "discover", dir)
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			mode := e.Mode()
			if mode&os.ModeSymlink != 0 {
				target, err := os.Stat(path)
				if err != nil {
					log.Printf("skipping broken link %s: %v", path, err)
					continue
				}
				mode = target.Mode()
			}
			switch {
			case mode.IsDir():
				if err := walk(path); err != nil {
					return err
				}
			case mode.IsRegular() && filepath.Ext(path) == ext:
				paths = append(paths, path)
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return paths, nil
}

// FilterUnregistered returns the paths whose base name is not in names,
// preserving order.
func FilterUnregistered(paths []string, names map[string]bool) []string {
	var out []string
	for _, p := range paths {
		if !names[filepath.Base(p)] {
			out = append(out, p)
		}
	}
	return out
}
