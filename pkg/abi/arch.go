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

package abi

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedArch is returned for architectures without a probe calling convention
	ErrUnsupportedArch = errors.New("unsupported architecture")
	// ErrTooManyArguments is returned when a probe has more arguments than probe registers
	ErrTooManyArguments = errors.New("too many probe arguments")
)

// Arch is a CPU architecture supported by the probe sites
type Arch uint8

const (
	// AMD64 is x86-64
	AMD64 Arch = iota + 1
	// ARM64 is AArch64
	ARM64
)

// SupportedArchs lists the architectures for which probe sites are generated
var SupportedArchs = []Arch{AMD64, ARM64}

type archInfo struct {
	goarch string
	guard  string
	// registers used to hand over probe arguments, in argument order
	registers []string
	// inert is-enabled sequence, leaves 0 in the result register
	isEnabled string
	result    string
	// is-enabled sequence clobbers the flags register
	clobbersFlags bool
	// inert probe sequence
	probe string
	// call mnemonic, the callee is the named operand "probe"
	call string
	// operand modifier printing a bare symbol
	symbolModifier string
}

var archs = map[Arch]archInfo{
	AMD64: {
		goarch:         "amd64",
		guard:          "__x86_64__",
		registers:      []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"},
		isEnabled:      "xor %%eax, %%eax; nop; nop; nop",
		result:         "rax",
		clobbersFlags:  true,
		probe:          "nop; nop; nop; nop; nop",
		call:           "call %P[probe]",
		symbolModifier: "P",
	},
	ARM64: {
		goarch:         "arm64",
		guard:          "__aarch64__",
		registers:      []string{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"},
		isEnabled:      "mov x0, #0",
		result:         "x0",
		probe:          "nop",
		call:           "bl %c[probe]",
		symbolModifier: "c",
	},
}

// ParseArch returns the Arch of a GOARCH value
func ParseArch(goarch string) (Arch, error) {
	for arch, info := range archs {
		if info.goarch == goarch {
			return arch, nil
		}
	}
	return 0, errors.Wrap(ErrUnsupportedArch, goarch)
}

func (a Arch) info() (archInfo, error) {
	info, ok := archs[a]
	if !ok {
		return archInfo{}, errors.Wrap(ErrUnsupportedArch, a.String())
	}
	return info, nil
}

func (a Arch) String() string {
	if info, ok := archs[a]; ok {
		return info.goarch
	}
	return fmt.Sprintf("Arch(%d)", uint8(a))
}

// Guard returns the C preprocessor macro defined when compiling for this architecture
func (a Arch) Guard() string {
	return archs[a].guard
}

// Registers returns the probe argument registers of the architecture
func (a Arch) Registers() []string {
	return archs[a].registers
}

// IsEnabledSequence returns the inert is-enabled instructions. They leave 0 in ResultRegister
// until the kernel patches the site.
func (a Arch) IsEnabledSequence() string {
	return archs[a].isEnabled
}

// ResultRegister returns the register holding the is-enabled result
func (a Arch) ResultRegister() string {
	return archs[a].result
}

// IsEnabledClobbersFlags returns true when the inert is-enabled sequence modifies the flags register
func (a Arch) IsEnabledClobbersFlags() bool {
	return archs[a].clobbersFlags
}

// ProbeSequence returns the inert probe instructions
func (a Arch) ProbeSequence() string {
	return archs[a].probe
}

// CallInstruction returns the call to the named asm operand "probe"
func (a Arch) CallInstruction() string {
	return archs[a].call
}

// SymbolOperand formats a reference to a named asm operand as a bare symbol
func (a Arch) SymbolOperand(name string) string {
	return fmt.Sprintf("%%%s[%s]", archs[a].symbolModifier, name)
}
