// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mkfs formats a fresh disk image with the six-region layout
// described in the storage stack's on-disk format: boot block,
// superblock, log, inode blocks, free bitmap, data blocks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sv39fs/kernel/internal/diskimage"
)

func main() {
	var size, inodes uint32

	createCmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Format a new disk image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := diskimage.Format(args[0], size, inodes); err != nil {
				return fmt.Errorf("format %s: %w", args[0], err)
			}
			fmt.Printf("formatted %s: %d blocks, %d inodes\n", args[0], size, inodes)
			return nil
		},
	}
	createCmd.Flags().Uint32Var(&size, "size", diskimage.FSSIZE, "total size of the image in blocks")
	createCmd.Flags().Uint32Var(&inodes, "inodes", diskimage.NINODE, "number of inodes to allocate")

	root := &cobra.Command{
		Use:   "mkfs",
		Short: "Format disk images for the sv39 storage stack",
	}
	root.AddCommand(createCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
