// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sv39shell drives the sysfs syscall layer against a disk
// image from the command line, for manually exercising the storage
// stack end to end without a real kernel around it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/sv39fs/kernel/internal/diskimage"
	"github.com/sv39fs/kernel/sysfs"
)

func withSys(path string, fn func(s *sysfs.Sys, task *sysfs.Task) error) error {
	s, task, err := sysfs.Boot(path)
	if err != nil {
		return fmt.Errorf("boot %s: %w", path, err)
	}
	defer s.Disk.Close()
	return fn(s, task)
}

func main() {
	var imagePath string

	root := &cobra.Command{
		Use:   "sv39shell",
		Short: "Drive the sv39 storage stack against a disk image",
	}
	root.PersistentFlags().StringVar(&imagePath, "image", "fs.img", "path to the disk image")

	var size, inodes uint32
	formatCmd := &cobra.Command{
		Use:   "format",
		Short: "Create a fresh disk image",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sysfs.Mkfs(imagePath, size, inodes); err != nil {
				return err
			}
			fmt.Printf("formatted %s\n", imagePath)
			return nil
		},
	}
	formatCmd.Flags().Uint32Var(&size, "size", diskimage.FSSIZE, "total size of the image in blocks")
	formatCmd.Flags().Uint32Var(&inodes, "inodes", diskimage.NINODE, "number of inodes to allocate")

	putCmd := &cobra.Command{
		Use:   "put <local-file> <image-path>",
		Short: "Copy a local file into the image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withSys(imagePath, func(s *sysfs.Sys, task *sysfs.Task) error {
				ctx := context.Background()
				fd, err := s.Open(ctx, task, args[1], sysfs.OCreate|sysfs.ORdWr|sysfs.OTrunc)
				if err != nil {
					return err
				}
				defer s.Close(task, fd)
				if _, err := s.Write(ctx, task, fd, data); err != nil {
					return err
				}
				fmt.Printf("wrote %d bytes to %s\n", len(data), args[1])
				return nil
			})
		},
	}

	catCmd := &cobra.Command{
		Use:   "cat <image-path>",
		Short: "Print a file's contents from the image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSys(imagePath, func(s *sysfs.Sys, task *sysfs.Task) error {
				ctx := context.Background()
				fd, err := s.Open(ctx, task, args[0], sysfs.ORdOnly)
				if err != nil {
					return err
				}
				defer s.Close(task, fd)

				buf := make([]byte, diskimage.BSIZE)
				for {
					n, err := s.Read(ctx, task, fd, buf)
					if n > 0 {
						os.Stdout.Write(buf[:n])
					}
					if n == 0 || err == io.EOF {
						return nil
					}
					if err != nil {
						return err
					}
				}
			})
		},
	}

	lsCmd := &cobra.Command{
		Use:   "ls <image-dir>",
		Short: "List a directory's entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSys(imagePath, func(s *sysfs.Sys, task *sysfs.Task) error {
				ctx := context.Background()
				fd, err := s.Open(ctx, task, args[0], sysfs.ORdOnly)
				if err != nil {
					return err
				}
				defer s.Close(task, fd)

				buf := make([]byte, diskimage.DirentSize)
				for {
					n, err := s.Read(ctx, task, fd, buf)
					if n == 0 {
						return nil
					}
					if err != nil {
						return err
					}
					if n != diskimage.DirentSize {
						return fmt.Errorf("short directory read: %d bytes", n)
					}
					var de diskimage.Dirent
					if err := de.Unmarshal(buf); err != nil {
						return err
					}
					if de.Inum != 0 {
						fmt.Printf("%-6d %s\n", de.Inum, de.NameString())
					}
				}
			})
		},
	}

	linkCmd := &cobra.Command{
		Use:   "link <old> <new>",
		Short: "Create a hard link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSys(imagePath, func(s *sysfs.Sys, task *sysfs.Task) error {
				return s.Link(task, args[0], args[1])
			})
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <image-path>",
		Short: "Remove a directory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSys(imagePath, func(s *sysfs.Sys, task *sysfs.Task) error {
				return s.Unlink(task, args[0])
			})
		},
	}

	mkdirCmd := &cobra.Command{
		Use:   "mkdir <image-dir>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSys(imagePath, func(s *sysfs.Sys, task *sysfs.Task) error {
				return s.Mkdir(task, args[0])
			})
		},
	}

	root.AddCommand(formatCmd, putCmd, catCmd, lsCmd, linkCmd, rmCmd, mkdirCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
