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

//go:build cgo && (linux || freebsd)

package usdt

/*
#include <stddef.h>

// the linker defines the boundaries of the section only when it exists
extern char __start_set_dtrace_probes[] __attribute__((weak));
extern char __stop_set_dtrace_probes[] __attribute__((weak));

static char *usdt_section_start(void) {
	return __start_set_dtrace_probes;
}

static size_t usdt_section_size(void) {
	if (__start_set_dtrace_probes == NULL || __stop_set_dtrace_probes == NULL) {
		return 0;
	}
	return (size_t)(__stop_set_dtrace_probes - __start_set_dtrace_probes);
}
*/
import "C"

import (
	"unsafe"
)

// linkedSection returns a copy of the probe section of the executable
func linkedSection() []byte {
	size := C.usdt_section_size()
	if size == 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(C.usdt_section_start()), C.int(size))
}
