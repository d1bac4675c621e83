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

package usdt

import (
	"fmt"

	"github.com/Gui774ume/usdt/pkg/dof"
)

// Device registers descriptors with the kernel
type Device interface {
	AddDOF(h *dof.Helper) error
	Close() error
}

// RegistrationError is returned when the descriptor couldn't be handed to the kernel. Tracing is unavailable but
// the process can carry on.
type RegistrationError struct {
	Op  string
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("couldn't register probes: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying OS error
func (e *RegistrationError) Unwrap() error {
	return e.Err
}
