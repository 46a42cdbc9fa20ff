// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sysfs

import (
	"context"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/kylelemons/godebug/pretty"

	"github.com/sv39fs/kernel/bcache"
	"github.com/sv39fs/kernel/internal/diskimage"
	"github.com/sv39fs/kernel/txlog"
)

func newTestSys(t *testing.T) (*Sys, *Task) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fs.img")
	if err := Mkfs(path, diskimage.FSSIZE, 200); err != nil {
		t.Fatalf("Mkfs: %v", err)
	}
	s, task, err := Boot(path)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	t.Cleanup(func() { s.Disk.Close() })
	return s, task
}

func TestOpenCreateWriteCloseReopenRead(t *testing.T) {
	s, task := newTestSys(t)
	ctx := context.Background()

	fd, err := s.Open(ctx, task, "hello.txt", OCreate|ORdWr)
	if err != nil {
		t.Fatalf("Open create: %v", err)
	}

	content := []byte("xv6 in go")
	n, err := s.Write(ctx, task, fd, content)
	if err != nil || n != len(content) {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	if err := s.Close(task, fd); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fd2, err := s.Open(ctx, task, "hello.txt", ORdOnly)
	if err != nil {
		t.Fatalf("Open existing: %v", err)
	}
	buf := make([]byte, len(content))
	n, err = s.Read(ctx, task, fd2, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != string(content) {
		t.Fatalf("read %q, want %q", buf[:n], content)
	}
	s.Close(task, fd2)
}

func TestMkdirAndChdir(t *testing.T) {
	s, task := newTestSys(t)
	ctx := context.Background()

	if err := s.Mkdir(task, "sub"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := s.Chdir(task, "sub"); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	fd, err := s.Open(ctx, task, "leaf.txt", OCreate|ORdWr)
	if err != nil {
		t.Fatalf("Open in subdir: %v", err)
	}
	s.Close(task, fd)

	if err := s.Chdir(task, "/"); err != nil {
		t.Fatalf("Chdir back to root: %v", err)
	}
	fd2, err := s.Open(ctx, task, "/sub/leaf.txt", ORdOnly)
	if err != nil {
		t.Fatalf("Open via absolute path: %v", err)
	}
	s.Close(task, fd2)
}

func TestLinkCreatesSecondName(t *testing.T) {
	s, task := newTestSys(t)
	ctx := context.Background()

	fd, err := s.Open(ctx, task, "a", OCreate|ORdWr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Write(ctx, task, fd, []byte("shared"))
	s.Close(task, fd)

	if err := s.Link(task, "a", "b"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	fdb, err := s.Open(ctx, task, "b", ORdOnly)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	buf := make([]byte, 6)
	n, _ := s.Read(ctx, task, fdb, buf)
	if string(buf[:n]) != "shared" {
		t.Fatalf("read via link = %q, want shared", buf[:n])
	}
	s.Close(task, fdb)
}

func TestUnlinkRemovesDirent(t *testing.T) {
	s, task := newTestSys(t)
	ctx := context.Background()

	fd, err := s.Open(ctx, task, "gone", OCreate|ORdWr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close(task, fd)

	if err := s.Unlink(task, "gone"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	if _, err := s.Open(ctx, task, "gone", ORdOnly); err != syscall.ENOENT {
		t.Fatalf("Open after unlink: err = %v, want ENOENT", err)
	}
}

// TestUnlinkWhileOpenKeepsBlocksUntilLastClose covers S4: a file open
// through one descriptor survives Unlink — fstat on the still-open
// descriptor shows NLink==0 but the pre-unlink size, because Unlink's
// Iput only drops the directory's reference, leaving the descriptor's
// own reference (and so the inode and its blocks) alive until the last
// Close runs fs.Iput's deferred free (fs/inode.go's Iput).
func TestUnlinkWhileOpenKeepsBlocksUntilLastClose(t *testing.T) {
	s, task := newTestSys(t)
	ctx := context.Background()

	fd, err := s.Open(ctx, task, "ephemeral", OCreate|ORdWr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	content := []byte("still readable")
	if _, err := s.Write(ctx, task, fd, content); err != nil {
		t.Fatalf("Write: %v", err)
	}

	before, err := s.Fstat(task, fd)
	if err != nil {
		t.Fatalf("Fstat before unlink: %v", err)
	}
	if before.NLink != 1 || before.Size != uint32(len(content)) {
		t.Fatalf("Fstat before unlink = %+v, want NLink=1 Size=%d", before, len(content))
	}

	// fd's offset already sits at end of file after the write, so the
	// content is read back through a second descriptor opened at offset 0.
	rfd, err := s.Open(ctx, task, "ephemeral", ORdOnly)
	if err != nil {
		t.Fatalf("Open for read: %v", err)
	}

	if err := s.Unlink(task, "ephemeral"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	// The name is gone, but the still-open fd's inode reference keeps
	// the file alive with its old size.
	if _, err := s.Open(ctx, task, "ephemeral", ORdOnly); err != syscall.ENOENT {
		t.Fatalf("Open after unlink: err = %v, want ENOENT", err)
	}
	afterUnlink, err := s.Fstat(task, fd)
	if err != nil {
		t.Fatalf("Fstat after unlink: %v", err)
	}
	if afterUnlink.NLink != 0 {
		t.Fatalf("Fstat(fd).NLink after unlink = %d, want 0", afterUnlink.NLink)
	}
	if afterUnlink.Size != before.Size {
		t.Fatalf("Fstat(fd).Size after unlink = %d, want %d (unchanged)", afterUnlink.Size, before.Size)
	}
	buf := make([]byte, len(content))
	n, err := s.Read(ctx, task, rfd, buf)
	if err != nil || string(buf[:n]) != string(content) {
		t.Fatalf("Read after unlink = %q err=%v, want %q", buf[:n], err, content)
	}
	if err := s.Close(task, rfd); err != nil {
		t.Fatalf("Close read descriptor: %v", err)
	}

	if err := s.Close(task, fd); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The inode is reclaimed once the last reference is gone: the name
	// stays unusable, and a fresh inode allocation can reuse its slot.
	if _, err := s.Open(ctx, task, "ephemeral", ORdOnly); err != syscall.ENOENT {
		t.Fatalf("Open after last close: err = %v, want ENOENT", err)
	}
	fd2, err := s.Open(ctx, task, "reused", OCreate|ORdWr)
	if err != nil {
		t.Fatalf("Open new file after reclaim: %v", err)
	}
	st2, err := s.Fstat(task, fd2)
	if err != nil {
		t.Fatalf("Fstat new file: %v", err)
	}
	if st2.Size != 0 {
		t.Fatalf("new file Size = %d, want 0 (fresh inode, not the unlinked one's leftover blocks)", st2.Size)
	}
	s.Close(task, fd2)
}

func TestUnlinkRejectsNonEmptyDirectory(t *testing.T) {
	s, task := newTestSys(t)
	ctx := context.Background()

	if err := s.Mkdir(task, "d"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	fd, err := s.Open(ctx, task, "d/f", OCreate|ORdWr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close(task, fd)

	if err := s.Unlink(task, "d"); err != syscall.ENOTEMPTY {
		t.Fatalf("Unlink non-empty dir: err = %v, want ENOTEMPTY", err)
	}
}

func TestDupAndPipe(t *testing.T) {
	s, task := newTestSys(t)

	fd, err := s.Open(context.Background(), task, "dupped", OCreate|ORdWr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	dfd, err := s.Dup(task, fd)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	if err := s.Close(task, fd); err != nil {
		t.Fatalf("Close original: %v", err)
	}
	if err := s.Close(task, dfd); err != nil {
		t.Fatalf("Close dup: %v", err)
	}

	rfd, wfd, err := s.Pipe(task)
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	go func() {
		s.Write(context.Background(), task, wfd, []byte("hi"))
		s.Close(task, wfd)
	}()
	buf := make([]byte, 2)
	n, err := s.Read(context.Background(), task, rfd, buf)
	if err != nil || string(buf[:n]) != "hi" {
		t.Fatalf("pipe read = %q err=%v", buf[:n], err)
	}
	s.Close(task, rfd)
}

func TestFstatReportsSize(t *testing.T) {
	s, task := newTestSys(t)
	ctx := context.Background()

	fd, err := s.Open(ctx, task, "sized", OCreate|ORdWr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Write(ctx, task, fd, []byte("12345"))

	st, err := s.Fstat(task, fd)
	if err != nil {
		t.Fatalf("Fstat: %v", err)
	}
	if st.Size != 5 {
		t.Fatalf("Fstat.Size = %d, want 5", st.Size)
	}
	s.Close(task, fd)
}

// TestBootRecoversAfterCrashMidTransaction covers S5: a transaction whose
// header was made durable (N>0) but whose blocks were never installed
// must come back installed after the next Boot, purely from what's on
// disk. The sysfs syscalls always run a transaction to full completion,
// so the only way to leave one crashed mid-flight is to drive a second
// Log by hand against the same mounted disk, stopping at CommitPoint
// (the log and header are durable) without ever installing — exactly
// the state an unclean shutdown between those two steps would leave.
func TestBootRecoversAfterCrashMidTransaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fs.img")
	if err := Mkfs(path, diskimage.FSSIZE, 200); err != nil {
		t.Fatalf("Mkfs: %v", err)
	}

	s, task, err := Boot(path)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	fd, err := s.Open(context.Background(), task, "durable", OCreate|ORdWr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Write(context.Background(), task, fd, []byte("committed")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.Close(task, fd)

	sb := s.FS.Superblock()
	target := sb.InodeStart + 3
	crashCache := bcache.New(s.Disk)
	crashLog := txlog.Open(crashCache, diskimage.ROOTDEV, &sb)
	crashLog.Begin()
	b := crashCache.Get(diskimage.ROOTDEV, target)
	for i := range b.Data {
		b.Data[i] = 0x42
	}
	crashLog.Write(b)
	crashCache.Release(b)
	crashLog.CommitPoint()

	s.Disk.Close()

	s2, task2, err := Boot(path)
	if err != nil {
		t.Fatalf("reboot: %v", err)
	}
	defer s2.Disk.Close()

	fd2, err := s2.Open(context.Background(), task2, "durable", ORdOnly)
	if err != nil {
		t.Fatalf("Open after reboot: %v", err)
	}
	buf := make([]byte, 9)
	n, err := s2.Read(context.Background(), task2, fd2, buf)
	if err != nil || string(buf[:n]) != "committed" {
		t.Fatalf("read after reboot = %q err=%v", buf[:n], err)
	}
	s2.Close(task2, fd2)

	var installed [diskimage.BSIZE]byte
	if err := s2.Disk.Rw(target, installed[:], false); err != nil {
		t.Fatalf("reading installed block: %v", err)
	}
	for i, v := range installed {
		if v != 0x42 {
			t.Fatalf("installed[%d] = %#x, want 0x42: recovery did not replay the crashed transaction", i, v)
		}
	}
}

// TestLinkConservesLinkCount covers P2: link raises both names' shared
// nlink by one, unlink lowers it back, and the two names stay
// otherwise indistinguishable (same inode, same size) the whole time.
func TestLinkConservesLinkCount(t *testing.T) {
	s, task := newTestSys(t)
	ctx := context.Background()

	fd, err := s.Open(ctx, task, "a", OCreate|ORdWr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Write(ctx, task, fd, []byte("linked")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	before, err := s.Fstat(task, fd)
	if err != nil {
		t.Fatalf("Fstat: %v", err)
	}
	if before.NLink != 1 {
		t.Fatalf("NLink before Link = %d, want 1", before.NLink)
	}

	if err := s.Link(task, "a", "b"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	afterA, err := s.Fstat(task, fd)
	if err != nil {
		t.Fatalf("Fstat(a): %v", err)
	}
	if afterA.NLink != before.NLink+1 {
		t.Fatalf("NLink(a) after Link = %d, want %d", afterA.NLink, before.NLink+1)
	}

	fdb, err := s.Open(ctx, task, "b", ORdOnly)
	if err != nil {
		t.Fatalf("Open(b): %v", err)
	}
	afterB, err := s.Fstat(task, fdb)
	if err != nil {
		t.Fatalf("Fstat(b): %v", err)
	}
	if diff := pretty.Compare(afterA, afterB); diff != "" {
		t.Fatalf("stat(a) and stat(b) diverge after Link, want identical:\n%s", diff)
	}
	s.Close(task, fdb)

	if err := s.Unlink(task, "b"); err != nil {
		t.Fatalf("Unlink(b): %v", err)
	}
	afterUnlink, err := s.Fstat(task, fd)
	if err != nil {
		t.Fatalf("Fstat(a) after Unlink(b): %v", err)
	}
	if afterUnlink.NLink != before.NLink {
		t.Fatalf("NLink(a) after Unlink(b) = %d, want %d", afterUnlink.NLink, before.NLink)
	}
	s.Close(task, fd)
}
