// Copyright 2024 the sv39fs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ofile

import "github.com/sv39fs/kernel/internal/diskimage"

// DeviceOps is the read/write callback pair a character device
// registers under a major number, the Go analogue of xv6's devsw
// table (struct devsw { int (*read)(...); int (*write)(...); }).
type DeviceOps struct {
	Read  func(dst []byte) (int, error)
	Write func(src []byte) (int, error)
}

// Devices is the fixed table of registered device major numbers,
// indexed the same way xv6 indexes devsw[] by major(ip->dev).
var Devices [diskimage.NDEV]DeviceOps

// NullDeviceMajor is the major number standing in for xv6's CONSOLE
// device: reads report EOF and writes silently succeed and discard
// their input. A real console is out of scope; this keeps the
// FD_DEVICE dispatch path exercised without one.
const NullDeviceMajor = 0

func init() {
	Devices[NullDeviceMajor] = DeviceOps{
		Read:  func(dst []byte) (int, error) { return 0, nil },
		Write: func(src []byte) (int, error) { return len(src), nil },
	}
}
