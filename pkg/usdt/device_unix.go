/*
Copyright © 2021 GUILLAUME FOURNIER

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

//go:build linux || freebsd

package usdt

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Gui774ume/usdt/pkg/dof"
)

type helperDevice struct {
	file *os.File
}

// OpenHelperDevice opens the DTrace helper device
func OpenHelperDevice() (Device, error) {
	f, err := os.OpenFile(dof.HelperDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &RegistrationError{Op: "open", Err: err}
	}
	return &helperDevice{file: f}, nil
}

// AddDOF implements Device
func (d *helperDevice) AddDOF(h *dof.Helper) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.file.Fd(), uintptr(dof.AddDOFCommand), uintptr(unsafe.Pointer(h)))
	if errno != 0 {
		return &RegistrationError{Op: "ioctl", Err: errno}
	}
	return nil
}

// Close implements Device
func (d *helperDevice) Close() error {
	return d.file.Close()
}
