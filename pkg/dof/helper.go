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

package dof

import (
	"unsafe"
)

const (
	// HelperDevice is the device accepting the DOF of user space providers
	HelperDevice = "/dev/dtrace/helper"
	// AddDOFCommand is the ioctl registering a DOF with the helper device
	AddDOFCommand = 0x64746803
	// ModuleNameLen is the size of the module name buffer of a Helper, including the NUL terminator
	ModuleNameLen = 64
)

// Helper is dof_helper_t
type Helper struct {
	Mod  [ModuleNameLen]byte
	Addr uint64
	DOF  uint64
}

// NewHelper returns the helper registering buf for the provided module. The module name is truncated to fit the
// buffer and buf must stay alive until the ioctl returns.
func NewHelper(module string, buf []byte) *Helper {
	h := &Helper{}
	copy(h.Mod[:ModuleNameLen-1], module)
	if len(buf) > 0 {
		addr := uint64(uintptr(unsafe.Pointer(&buf[0])))
		h.Addr = addr
		h.DOF = addr
	}
	return h
}

// Module returns the module name of the helper
func (h *Helper) Module() string {
	for i, b := range h.Mod {
		if b == 0 {
			return string(h.Mod[:i])
		}
	}
	return string(h.Mod[:])
}
