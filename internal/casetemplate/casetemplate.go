// Package casetemplate ships the OpenFOAM case every workspace is seeded from.
package casetemplate

import (
	"embed"
	"io/fs"
	"os"
)

//go:embed case
var files embed.FS

// FS returns the embedded case tree rooted at the case directory.
func FS() fs.FS {
	sub, err := fs.Sub(files, "case")
	if err != nil {
		// The directory is compiled in; Sub only fails on an invalid name.
		panic(err)
	}
	return sub
}

// Open returns the case tree under dir, or the embedded tree when dir is empty.
func Open(dir string) fs.FS {
	if dir == "" {
		return FS()
	}
	return os.DirFS(dir)
}
