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
	"strings"

	"github.com/pkg/errors"

	"github.com/Gui774ume/usdt/pkg/provider"
)

// Binding copies one call site argument into the representation of its passing class
type Binding struct {
	// Param is the Go parameter of the probe wrapper
	Param string
	// GoType is the Go type of Param
	GoType string
	// Local is the Go variable holding the converted argument
	Local string
	// Statements assign Local from Param, one statement per line
	Statements []string
	// CArg is the expression handed to the cgo call
	CArg string
	// CParam is the parameter declaration of the C probe function
	CParam string
	Class  provider.Class
}

// Operand hands one argument over to the probe instruction
type Operand struct {
	Register string
	// Declaration binds the C parameter to Register
	Declaration string
	// Constraint is the asm input operand
	Constraint string
}

// Marshaling is the argument unpack sequence of a probe call
type Marshaling struct {
	Arch     Arch
	Bindings []Binding
	Operands []Operand
}

// Params returns the Go parameter list of the probe wrapper
func (m Marshaling) Params() string {
	params := make([]string, 0, len(m.Bindings))
	for _, b := range m.Bindings {
		params = append(params, b.Param+" "+b.GoType)
	}
	return strings.Join(params, ", ")
}

// CParams returns the parameter list of the C probe function
func (m Marshaling) CParams() string {
	if len(m.Bindings) == 0 {
		return "void"
	}
	params := make([]string, 0, len(m.Bindings))
	for _, b := range m.Bindings {
		params = append(params, b.CParam)
	}
	return strings.Join(params, ", ")
}

// CArgs returns the arguments of the cgo call to the probe function
func (m Marshaling) CArgs() string {
	args := make([]string, 0, len(m.Bindings))
	for _, b := range m.Bindings {
		args = append(args, b.CArg)
	}
	return strings.Join(args, ", ")
}

// Constraints returns the asm input operand list
func (m Marshaling) Constraints() string {
	constraints := make([]string, 0, len(m.Operands))
	for _, op := range m.Operands {
		constraints = append(constraints, op.Constraint)
	}
	return strings.Join(constraints, ", ")
}

// Marshal computes the bindings and register operands of a probe taking the provided arguments
func Marshal(arch Arch, types []provider.DataType) (Marshaling, error) {
	info, err := arch.info()
	if err != nil {
		return Marshaling{}, err
	}
	if len(types) > len(info.registers) {
		return Marshaling{}, errors.Wrapf(ErrTooManyArguments, "%d arguments, %s has %d probe registers", len(types), arch, len(info.registers))
	}

	m := Marshaling{Arch: arch}
	for i, dt := range types {
		if !dt.IsValid() {
			return Marshaling{}, errors.Wrapf(provider.ErrUnknownType, "argument %d", i)
		}
		b := bind(i, dt)
		m.Bindings = append(m.Bindings, b)
		m.Operands = append(m.Operands, Operand{
			Register:    info.registers[i],
			Declaration: fmt.Sprintf(`register uint64_t arg%d __asm__("%s") = (uint64_t)(a%d);`, i, info.registers[i], i),
			Constraint:  fmt.Sprintf(`"r"(arg%d)`, i),
		})
	}
	return m, nil
}

func bind(i int, dt provider.DataType) Binding {
	b := Binding{
		Param:  fmt.Sprintf("arg%d", i),
		GoType: dt.GoType(),
		Local:  fmt.Sprintf("a%d", i),
		Class:  dt.Class(),
	}
	switch dt.Kind {
	case provider.String:
		// the string is copied with a NUL terminator, only on the enabled path
		b.Statements = []string{
			fmt.Sprintf("%s := make([]byte, len(%s)+1)", b.Local, b.Param),
			fmt.Sprintf("copy(%s, %s)", b.Local, b.Param),
		}
		b.CArg = fmt.Sprintf("(*C.char)(unsafe.Pointer(&%s[0]))", b.Local)
		b.CParam = fmt.Sprintf("const char *a%d", i)
	case provider.Pointer:
		b.Statements = []string{fmt.Sprintf("%s := unsafe.Pointer(%s)", b.Local, b.Param)}
		b.CArg = b.Local
		b.CParam = fmt.Sprintf("void *a%d", i)
	default:
		b.Statements = []string{fmt.Sprintf("%s := C.%s(%s)", b.Local, dt.CType(), b.Param)}
		b.CArg = b.Local
		b.CParam = fmt.Sprintf("%s a%d", dt.CType(), i)
	}
	return b
}
