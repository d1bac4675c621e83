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

package provider

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the primitive kind of a probe argument
type Kind uint8

const (
	// Int8 is a signed 8 bits integer
	Int8 Kind = iota + 1
	// Int16 is a signed 16 bits integer
	Int16
	// Int32 is a signed 32 bits integer
	Int32
	// Int64 is a signed 64 bits integer
	Int64
	// Uint8 is an unsigned 8 bits integer
	Uint8
	// Uint16 is an unsigned 16 bits integer
	Uint16
	// Uint32 is an unsigned 32 bits integer
	Uint32
	// Uint64 is an unsigned 64 bits integer
	Uint64
	// Uintptr is a pointer sized unsigned integer
	Uintptr
	// Pointer is a pointer to a fixed width integer
	Pointer
	// String is a NUL terminated string
	String
)

// Class is the argument passing class of a DataType
type Class uint8

const (
	// ClassRegister arguments are copied by value into their probe register
	ClassRegister Class = iota
	// ClassIndirect arguments are passed as an address to their data
	ClassIndirect
)

func (c Class) String() string {
	switch c {
	case ClassRegister:
		return "register"
	case ClassIndirect:
		return "indirect"
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

var integerKinds = map[Kind]struct {
	ctype  string
	gotype string
}{
	Int8:    {"int8_t", "int8"},
	Int16:   {"int16_t", "int16"},
	Int32:   {"int32_t", "int32"},
	Int64:   {"int64_t", "int64"},
	Uint8:   {"uint8_t", "uint8"},
	Uint16:  {"uint16_t", "uint16"},
	Uint32:  {"uint32_t", "uint32"},
	Uint64:  {"uint64_t", "uint64"},
	Uintptr: {"uintptr_t", "uintptr"},
}

// DataType is the type of a probe argument. The zero value is invalid.
type DataType struct {
	Kind Kind
	// Elem is the pointed integer kind of a Pointer
	Elem Kind
}

// IsValid returns true if the data type belongs to the supported set
func (dt DataType) IsValid() bool {
	switch dt.Kind {
	case Pointer:
		_, ok := integerKinds[dt.Elem]
		return ok && dt.Elem != Uintptr
	case String:
		return true
	default:
		_, ok := integerKinds[dt.Kind]
		return ok
	}
}

// CType returns the D / C spelling of the data type
func (dt DataType) CType() string {
	switch dt.Kind {
	case Pointer:
		return integerKinds[dt.Elem].ctype + " *"
	case String:
		return "char *"
	default:
		return integerKinds[dt.Kind].ctype
	}
}

// GoType returns the type of the Go parameter accepting this argument
func (dt DataType) GoType() string {
	switch dt.Kind {
	case Pointer:
		return "*" + integerKinds[dt.Elem].gotype
	case String:
		return "string"
	default:
		return integerKinds[dt.Kind].gotype
	}
}

// Class returns how the argument reaches its probe register
func (dt DataType) Class() Class {
	if dt.Kind == Pointer || dt.Kind == String {
		return ClassIndirect
	}
	return ClassRegister
}

func (dt DataType) String() string {
	return dt.CType()
}

// ParseDataType parses the D spelling of an argument type
func ParseDataType(s string) (DataType, error) {
	name := strings.Join(strings.Fields(s), " ")
	switch name {
	case "char *", "char*", "string":
		return DataType{Kind: String}, nil
	}
	if strings.HasSuffix(name, "*") {
		elem := strings.TrimSpace(strings.TrimSuffix(name, "*"))
		for kind, names := range integerKinds {
			if kind != Uintptr && names.ctype == elem {
				return DataType{Kind: Pointer, Elem: kind}, nil
			}
		}
		return DataType{}, errors.Wrapf(ErrUnknownType, "%q", s)
	}
	for kind, names := range integerKinds {
		if names.ctype == name {
			return DataType{Kind: kind}, nil
		}
	}
	return DataType{}, errors.Wrapf(ErrUnknownType, "%q", s)
}

// MustParseDataType is like ParseDataType but panics on error. It is meant for static declarations.
func MustParseDataType(s string) DataType {
	dt, err := ParseDataType(s)
	if err != nil {
		panic(err)
	}
	return dt
}
