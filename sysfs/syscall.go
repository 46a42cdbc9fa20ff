// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sysfs

import (
	"context"
	"syscall"

	"github.com/sv39fs/kernel/fs"
	"github.com/sv39fs/kernel/internal/diskimage"
	"github.com/sv39fs/kernel/ofile"
)

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return syscall.EINTR
	default:
		return nil
	}
}

// create implements xv6's static create(): it resolves path's parent,
// and either returns an existing plain file/device at that name (when
// kind is TypeFile, matching O_CREATE's "create if missing, reuse if
// present" semantics) or allocates a fresh inode of kind, linking it
// into its parent (and, for directories, seeding "." and ".."). The
// returned inode is locked.
func create(s *Sys, task *Task, path string, kind, major, minor int16) (*fs.Inode, error) {
	dp, name, err := s.FS.NameiParent(path, task.cwd)
	if err != nil {
		return nil, err
	}
	if err := s.FS.Ilock(dp); err != nil {
		return nil, err
	}

	if existing, _, err := s.FS.Dirlookup(dp, name); err == nil {
		s.FS.Iunlockput(dp)
		if err := s.FS.Ilock(existing); err != nil {
			return nil, err
		}
		if kind == diskimage.TypeFile && (existing.Type == diskimage.TypeFile || existing.Type == diskimage.TypeDevice) {
			return existing, nil
		}
		s.FS.Iunlockput(existing)
		return nil, syscall.EEXIST
	}

	ip, err := s.FS.Ialloc(kind)
	if err != nil {
		s.FS.Iunlockput(dp)
		return nil, err
	}
	if err := s.FS.Ilock(ip); err != nil {
		s.FS.Iunlockput(dp)
		return nil, err
	}
	ip.Major = major
	ip.Minor = minor
	ip.NLink = 1
	if err := s.FS.Iupdate(ip); err != nil {
		s.FS.Iunlockput(ip)
		s.FS.Iunlockput(dp)
		return nil, err
	}

	fail := func(ferr error) (*fs.Inode, error) {
		ip.NLink = 0
		s.FS.Iupdate(ip)
		s.FS.Iunlockput(ip)
		s.FS.Iunlockput(dp)
		return nil, ferr
	}

	if kind == diskimage.TypeDir {
		if err := s.FS.Dirlink(ip, ".", ip.Inum); err != nil {
			return fail(err)
		}
		if err := s.FS.Dirlink(ip, "..", dp.Inum); err != nil {
			return fail(err)
		}
	}
	if err := s.FS.Dirlink(dp, name, ip.Inum); err != nil {
		return fail(err)
	}
	if kind == diskimage.TypeDir {
		dp.NLink++
		if err := s.FS.Iupdate(dp); err != nil {
			return fail(err)
		}
	}

	s.FS.Iunlockput(dp)
	return ip, nil
}

// Open resolves path (creating it first if flags has OCreate) and
// installs a new File handle for it in task's descriptor table,
// matching sys_open.
func (s *Sys) Open(ctx context.Context, task *Task, path string, flags int) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return -1, err
	}

	s.FS.Begin()
	defer s.FS.End()

	var ip *fs.Inode
	var err error
	if flags&OCreate != 0 {
		ip, err = create(s, task, path, diskimage.TypeFile, 0, 0)
		if err != nil {
			return -1, err
		}
	} else {
		ip, err = s.FS.Namei(path, task.cwd)
		if err != nil {
			return -1, err
		}
		if err := s.FS.Ilock(ip); err != nil {
			return -1, err
		}
		if ip.Type == diskimage.TypeDir && flags != ORdOnly {
			s.FS.Iunlockput(ip)
			return -1, syscall.EISDIR
		}
	}

	if ip.Type == diskimage.TypeDevice && (ip.Major < 0 || int(ip.Major) >= diskimage.NDEV) {
		s.FS.Iunlockput(ip)
		return -1, syscall.ENXIO
	}

	f := s.Files.Alloc()
	if f == nil {
		s.FS.Iunlockput(ip)
		return -1, syscall.ENFILE
	}
	fd := task.fdalloc(f)
	if fd < 0 {
		s.Files.Close(f)
		s.FS.Iunlockput(ip)
		return -1, syscall.EMFILE
	}

	if ip.Type == diskimage.TypeDevice {
		f.Kind = ofile.Device
		f.Major = ip.Major
	} else {
		f.Kind = ofile.FInode
	}
	f.Ip = ip
	f.Readable = flags&OWrOnly == 0
	f.Writable = flags&OWrOnly != 0 || flags&ORdWr != 0

	if flags&OTrunc != 0 && ip.Type == diskimage.TypeFile {
		if err := s.FS.Itrunc(ip); err != nil {
			task.clearfd(fd)
			s.Files.Close(f)
			s.FS.Iunlockput(ip)
			return -1, err
		}
	}

	s.FS.Iunlock(ip)
	return fd, nil
}

// Close releases task's fd, matching sys_close.
func (s *Sys) Close(task *Task, fd int) error {
	f := task.getfd(fd)
	if f == nil {
		return syscall.EBADF
	}
	task.clearfd(fd)
	return s.Files.Close(f)
}

// Read reads up to len(dst) bytes from task's fd, matching sys_read.
func (s *Sys) Read(ctx context.Context, task *Task, fd int, dst []byte) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	f := task.getfd(fd)
	if f == nil {
		return 0, syscall.EBADF
	}
	return s.Files.Read(f, dst)
}

// Write writes src to task's fd, matching sys_write.
func (s *Sys) Write(ctx context.Context, task *Task, fd int, src []byte) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	f := task.getfd(fd)
	if f == nil {
		return 0, syscall.EBADF
	}
	return s.Files.Write(f, src)
}

// Fstat copies fd's inode metadata out, matching sys_fstat.
func (s *Sys) Fstat(task *Task, fd int) (fs.Stat, error) {
	f := task.getfd(fd)
	if f == nil {
		return fs.Stat{}, syscall.EBADF
	}
	return s.Files.Fstat(f)
}

// Dup installs a second descriptor sharing fd's File, matching
// sys_dup.
func (s *Sys) Dup(task *Task, fd int) (int, error) {
	f := task.getfd(fd)
	if f == nil {
		return -1, syscall.EBADF
	}
	nfd := task.fdalloc(s.Files.Dup(f))
	if nfd < 0 {
		return -1, syscall.EMFILE
	}
	return nfd, nil
}

// Pipe allocates a connected pipe pair and installs both ends in
// task's descriptor table, matching sys_pipe.
func (s *Sys) Pipe(task *Task) (rfd, wfd int, err error) {
	rf, wf, err := ofile.NewPipe(s.Files)
	if err != nil {
		return -1, -1, err
	}
	rfd = task.fdalloc(rf)
	if rfd < 0 {
		s.Files.Close(rf)
		s.Files.Close(wf)
		return -1, -1, syscall.EMFILE
	}
	wfd = task.fdalloc(wf)
	if wfd < 0 {
		task.clearfd(rfd)
		s.Files.Close(rf)
		s.Files.Close(wf)
		return -1, -1, syscall.EMFILE
	}
	return rfd, wfd, nil
}

// Link adds newpath as another name for the inode at oldpath,
// matching sys_link.
func (s *Sys) Link(task *Task, oldpath, newpath string) error {
	s.FS.Begin()
	defer s.FS.End()

	ip, err := s.FS.Namei(oldpath, task.cwd)
	if err != nil {
		return err
	}
	if err := s.FS.Ilock(ip); err != nil {
		return err
	}
	if ip.Type == diskimage.TypeDir {
		s.FS.Iunlockput(ip)
		return syscall.EPERM
	}
	ip.NLink++
	if err := s.FS.Iupdate(ip); err != nil {
		s.FS.Iunlockput(ip)
		return err
	}
	s.FS.Iunlock(ip)

	dp, name, err := s.FS.NameiParent(newpath, task.cwd)
	if err != nil {
		ip.NLink--
		s.FS.Ilock(ip)
		s.FS.Iupdate(ip)
		s.FS.Iunlockput(ip)
		return err
	}
	if err := s.FS.Ilock(dp); err != nil {
		s.FS.Iput(ip)
		return err
	}
	if dp.Dev != ip.Dev {
		err = syscall.EXDEV
	} else {
		err = s.FS.Dirlink(dp, name, ip.Inum)
	}
	if err != nil {
		s.FS.Iunlockput(dp)
		ip.NLink--
		s.FS.Ilock(ip)
		s.FS.Iupdate(ip)
		s.FS.Iunlockput(ip)
		return err
	}
	s.FS.Iunlockput(dp)
	s.FS.Iput(ip)
	return nil
}

// Unlink removes path's directory entry, matching sys_unlink.
func (s *Sys) Unlink(task *Task, path string) error {
	s.FS.Begin()
	defer s.FS.End()

	dp, name, err := s.FS.NameiParent(path, task.cwd)
	if err != nil {
		return err
	}
	if err := s.FS.Ilock(dp); err != nil {
		return err
	}
	if name == "." || name == ".." {
		s.FS.Iunlockput(dp)
		return syscall.EPERM
	}

	ip, off, err := s.FS.Dirlookup(dp, name)
	if err != nil {
		s.FS.Iunlockput(dp)
		return err
	}
	if err := s.FS.Ilock(ip); err != nil {
		s.FS.Iput(dp)
		return err
	}
	if ip.NLink < 1 {
		panic("sysfs: unlink of inode with nlink < 1")
	}
	if ip.Type == diskimage.TypeDir {
		empty, err := s.FS.IsDirEmpty(ip)
		if err != nil {
			s.FS.Iunlockput(ip)
			s.FS.Iunlockput(dp)
			return err
		}
		if !empty {
			s.FS.Iunlockput(ip)
			s.FS.Iunlockput(dp)
			return syscall.ENOTEMPTY
		}
	}

	zero := diskimage.NewDirent(0, "")
	if n, err := s.FS.Writei(dp, zero.Marshal(), off, diskimage.DirentSize); err != nil || n != diskimage.DirentSize {
		panic("sysfs: unlink failed to clear directory entry")
	}
	if ip.Type == diskimage.TypeDir {
		dp.NLink--
		s.FS.Iupdate(dp)
	}
	s.FS.Iunlockput(dp)

	ip.NLink--
	s.FS.Iupdate(ip)
	s.FS.Iunlockput(ip)
	return nil
}

// Mkdir creates an empty directory at path, matching sys_mkdir.
func (s *Sys) Mkdir(task *Task, path string) error {
	s.FS.Begin()
	defer s.FS.End()

	ip, err := create(s, task, path, diskimage.TypeDir, 0, 0)
	if err != nil {
		return err
	}
	s.FS.Iunlockput(ip)
	return nil
}

// Mknod creates a device special file at path with the given major
// and minor numbers, matching sys_mknod.
func (s *Sys) Mknod(task *Task, path string, major, minor int16) error {
	s.FS.Begin()
	defer s.FS.End()

	ip, err := create(s, task, path, diskimage.TypeDevice, major, minor)
	if err != nil {
		return err
	}
	s.FS.Iunlockput(ip)
	return nil
}

// Chdir resolves path and replaces task's cwd with it, matching
// sys_chdir.
func (s *Sys) Chdir(task *Task, path string) error {
	s.FS.Begin()
	defer s.FS.End()

	ip, err := s.FS.Namei(path, task.cwd)
	if err != nil {
		return err
	}
	if err := s.FS.Ilock(ip); err != nil {
		return err
	}
	if ip.Type != diskimage.TypeDir {
		s.FS.Iunlockput(ip)
		return syscall.ENOTDIR
	}
	s.FS.Iunlock(ip)

	old := task.cwd
	task.cwd = ip
	s.FS.Iput(old)
	return nil
}
