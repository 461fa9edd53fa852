// Copyright (C) 2024 PulseGrid, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package storage

import (
	"encoding/base32"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
)

var _ PartFS = (*LocalFS)(nil)

// LocalFS is a PartFS rooted in a directory on local disk. The
// write path follows the standard atomic-publish discipline: write
// into a temp file in the destination directory, flush, then
// os.Rename into place, which is atomic on any POSIX filesystem when
// source and destination share a volume.
type LocalFS struct {
	Root string
}

// NewLocalFS creates the root directory (if needed) and returns a
// LocalFS rooted there.
func NewLocalFS(root string) (*LocalFS, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, err
	}
	return &LocalFS{Root: root}, nil
}

func (l *LocalFS) full(name string) string {
	return filepath.Join(l.Root, filepath.FromSlash(name))
}

// Open implements fs.FS.
func (l *LocalFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	return os.Open(l.full(name))
}

// ReadDir implements fs.ReadDirFS.
func (l *LocalFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	return os.ReadDir(l.full(name))
}

// Remove deletes the file at name.
func (l *LocalFS) Remove(name string) error {
	return os.Remove(l.full(name))
}

// Rename moves oldName to newName within this root, creating
// newName's parent directory on demand.
func (l *LocalFS) Rename(oldName, newName string) error {
	dst := l.full(newName)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	return os.Rename(l.full(oldName), dst)
}

// WriteFile implements PartFS.WriteFile: temp-file-then-rename, so a
// reader concurrently opening path either sees the complete old
// contents or the complete new contents, never a partial write.
func (l *LocalFS) WriteFile(name string, buf []byte) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: "write", Path: name, Err: fs.ErrInvalid}
	}
	dest := l.full(name)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return contentETag(buf), nil
}

// contentETag derives a content-addressed ETag: a blake2b-256
// digest, base32 encoded.
func contentETag(buf []byte) string {
	sum := blake2b.Sum256(buf)
	return "b2sum:" + base32.StdEncoding.EncodeToString(sum[:])
}
