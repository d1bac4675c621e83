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

// Package dof builds the DTrace Object Format descriptors handed to the kernel helper device
package dof

// Identification bytes of the header
const (
	Mag0 = 0x7f
	Mag1 = 'D'
	Mag2 = 'O'
	Mag3 = 'F'

	ModelLP64   = 2
	EncodingLSB = 1
	Version2    = 2
	DIFVersion  = 2
	DIFIRegs    = 8
	DIFTRegs    = 8

	identSize = 16
)

// SectionType is the type of a DOF section
type SectionType uint32

// Section types of a provider
const (
	SectStrtab   SectionType = 8
	SectProvider SectionType = 15
	SectProbes   SectionType = 16
	SectPrargs   SectionType = 17
	SectProffs   SectionType = 18
	SectPrenoffs SectionType = 26
)

func (t SectionType) String() string {
	switch t {
	case SectStrtab:
		return "STRTAB"
	case SectProvider:
		return "PROVIDER"
	case SectProbes:
		return "PROBES"
	case SectPrargs:
		return "PRARGS"
	case SectProffs:
		return "PROFFS"
	case SectPrenoffs:
		return "PRENOFFS"
	default:
		return "UNKNOWN"
	}
}

// SecfLoad flags the sections loaded by the kernel
const SecfLoad = 1

// Stability levels and dependency classes of the provider attributes
const (
	StabilityPrivate  = 1
	StabilityEvolving = 5

	ClassUnknown = 0
	ClassCommon  = 5
)

// Attr packs the name stability, data stability and dependency class of an attribute
func Attr(name, data, class uint8) uint32 {
	return uint32(name)<<24 | uint32(data)<<16 | uint32(class)<<8
}

// Header is dof_hdr_t
type Header struct {
	Ident   [identSize]uint8
	Flags   uint32
	HdrSize uint32
	SecSize uint32
	SecNum  uint32
	SecOff  uint64
	LoadSz  uint64
	FileSz  uint64
	Pad     uint64
}

// SectionHeader is dof_sec_t
type SectionHeader struct {
	Type    SectionType
	Align   uint32
	Flags   uint32
	EntSize uint32
	Offset  uint64
	Size    uint64
}

// ProbeEntry is dof_probe_t
type ProbeEntry struct {
	Addr     uint64
	Func     uint32
	Name     uint32
	NArgv    uint32
	XArgv    uint32
	ArgIdx   uint32
	OffIdx   uint32
	NArgc    uint8
	XArgc    uint8
	NOffs    uint16
	EnOffIdx uint32
	NEnOffs  uint16
	Pad1     uint16
	Pad2     uint32
}

// ProviderEntry is dof_provider_t
type ProviderEntry struct {
	Strtab   uint32
	Probes   uint32
	Prargs   uint32
	Proffs   uint32
	Name     uint32
	ProvAttr uint32
	ModAttr  uint32
	FuncAttr uint32
	NameAttr uint32
	ArgsAttr uint32
	Prenoffs uint32
}

// Sizes of the encoded structures
const (
	HeaderSize        = 64
	SectionHeaderSize = 32
	ProbeEntrySize    = 48
	ProviderEntrySize = 44
)

// Name lengths enforced by the kernel, including the NUL terminator
const (
	ProviderNameLen = 64
	ProbeNameLen    = 64
	FuncNameLen     = 128
)
