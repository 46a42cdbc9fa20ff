// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fs

import (
	"strings"
	"syscall"

	"github.com/sv39fs/kernel/internal/diskimage"
)

// skipelem splits the next path element off the front of path,
// returning it alongside the remainder. It mirrors skipelem("a/bb/c")
// -> ("a", "bb/c"); an empty remainder and empty element means path was
// exhausted.
func skipelem(path string) (elem, rest string) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if len(path) == 0 {
		return "", ""
	}
	i := strings.IndexByte(path, '/')
	if i < 0 {
		elem, rest = path, ""
	} else {
		elem, rest = path[:i], path[i+1:]
	}
	if len(elem) > diskimage.DIRSIZ {
		elem = elem[:diskimage.DIRSIZ]
	}
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return elem, rest
}

// namex resolves path relative to cwd (used only for a relative path;
// an absolute path always starts at the root directory). When parent
// is true it returns the final component's parent directory instead of
// the component itself, and name is set to that final component.
func (fs *FS) namex(path string, parent bool, cwd *Inode) (ip *Inode, name string, err error) {
	var ip_ *Inode
	if strings.HasPrefix(path, "/") {
		ip_ = fs.iget(diskimage.ROOTINO)
	} else {
		if cwd == nil {
			return nil, "", syscall.ENOENT
		}
		ip_ = fs.Idup(cwd)
	}

	rest := path
	var elem string
	for {
		elem, rest = skipelem(rest)
		if elem == "" {
			break
		}

		if err := fs.Ilock(ip_); err != nil {
			fs.Iput(ip_)
			return nil, "", err
		}
		if ip_.Type != diskimage.TypeDir {
			fs.Iunlockput(ip_)
			return nil, "", syscall.ENOTDIR
		}

		if parent && rest == "" {
			fs.Iunlock(ip_)
			return ip_, elem, nil
		}

		next, _, derr := fs.Dirlookup(ip_, elem)
		if derr != nil {
			fs.Iunlockput(ip_)
			return nil, "", syscall.ENOENT
		}
		fs.Iunlockput(ip_)
		ip_ = next
	}

	if parent {
		fs.Iput(ip_)
		return nil, "", syscall.ENOENT
	}
	return ip_, elem, nil
}

// Namei resolves path to its inode, referenced but unlocked.
func (fs *FS) Namei(path string, cwd *Inode) (*Inode, error) {
	ip, _, err := fs.namex(path, false, cwd)
	return ip, err
}

// NameiParent resolves path's parent directory, referenced but
// unlocked, along with the final path element's name.
func (fs *FS) NameiParent(path string, cwd *Inode) (*Inode, string, error) {
	return fs.namex(path, true, cwd)
}
