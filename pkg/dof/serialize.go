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
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/Gui774ume/usdt/pkg/record"
)

// ErrSerialize is returned when a section can't be described by a DOF
var ErrSerialize = errors.New("couldn't serialize DOF")

var byteOrder = binary.LittleEndian

type section struct {
	header SectionHeader
	data   []byte
}

type strtab struct {
	buf     bytes.Buffer
	indexes map[string]uint32
}

func newStrtab() *strtab {
	s := &strtab{indexes: make(map[string]uint32)}
	// index 0 is the empty string
	s.buf.WriteByte(0)
	s.indexes[""] = 0
	return s
}

func (s *strtab) add(str string) uint32 {
	if index, ok := s.indexes[str]; ok {
		return index
	}
	index := uint32(s.buf.Len())
	s.buf.WriteString(str)
	s.buf.WriteByte(0)
	s.indexes[str] = index
	return index
}

// addSeq appends strs contiguously, the kernel walks argument types from the first one
func (s *strtab) addSeq(strs []string) uint32 {
	if len(strs) == 0 {
		return 0
	}
	index := uint32(s.buf.Len())
	for _, str := range strs {
		s.buf.WriteString(str)
		s.buf.WriteByte(0)
	}
	return index
}

// Serialize builds the DOF describing the probes of a section. Providers and probes are sorted by name.
func Serialize(s *record.Section) ([]byte, error) {
	var sections []section
	for _, p := range s.SortedProviders() {
		provSections, err := providerSections(p, uint32(len(sections)))
		if err != nil {
			return nil, err
		}
		sections = append(sections, provSections...)
	}
	return assemble(sections)
}

func providerSections(p *record.Provider, first uint32) ([]section, error) {
	if len(p.Name) == 0 || len(p.Name) >= ProviderNameLen {
		return nil, errors.Wrapf(ErrSerialize, "invalid provider name %q", p.Name)
	}

	strs := newStrtab()
	var probes, prargs, proffs, prenoffs bytes.Buffer
	name := strs.add(p.Name)

	for _, probe := range p.SortedProbes() {
		if len(probe.Name) == 0 || len(probe.Name) >= ProbeNameLen {
			return nil, errors.Wrapf(ErrSerialize, "invalid probe name %s:%q", p.Name, probe.Name)
		}
		if len(probe.Addresses) == 0 && len(probe.EnabledAddresses) == 0 {
			return nil, errors.Wrapf(ErrSerialize, "%s:%s has no site", p.Name, probe.Name)
		}
		if len(probe.Addresses) > math.MaxUint16 || len(probe.EnabledAddresses) > math.MaxUint16 {
			return nil, errors.Wrapf(ErrSerialize, "%s:%s has too many sites", p.Name, probe.Name)
		}
		if len(probe.Arguments) > math.MaxUint8 {
			return nil, errors.Wrapf(ErrSerialize, "%s:%s has too many arguments", p.Name, probe.Name)
		}

		base := probeBase(probe)
		funcName := probe.Function
		if len(funcName) >= FuncNameLen {
			funcName = ""
		}
		types := make([]string, 0, len(probe.Arguments))
		for _, dt := range probe.Arguments {
			types = append(types, dt.CType())
		}
		argv := strs.addSeq(types)

		entry := ProbeEntry{
			Addr:     base,
			Func:     strs.add(funcName),
			Name:     strs.add(probe.Name),
			NArgv:    argv,
			XArgv:    argv,
			ArgIdx:   uint32(prargs.Len()),
			OffIdx:   uint32(proffs.Len() / 4),
			NArgc:    uint8(len(probe.Arguments)),
			XArgc:    uint8(len(probe.Arguments)),
			NOffs:    uint16(len(probe.Addresses)),
			EnOffIdx: uint32(prenoffs.Len() / 4),
			NEnOffs:  uint16(len(probe.EnabledAddresses)),
		}
		for i := range probe.Arguments {
			prargs.WriteByte(uint8(i))
		}
		if err := writeOffsets(&proffs, base, probe.Addresses); err != nil {
			return nil, errors.Wrapf(err, "%s:%s", p.Name, probe.Name)
		}
		if err := writeOffsets(&prenoffs, base, probe.EnabledAddresses); err != nil {
			return nil, errors.Wrapf(err, "%s:%s", p.Name, probe.Name)
		}
		if err := binary.Write(&probes, byteOrder, &entry); err != nil {
			return nil, err
		}
	}

	provider := ProviderEntry{
		Strtab:   first,
		Probes:   first + 1,
		Prargs:   first + 2,
		Proffs:   first + 3,
		Name:     name,
		ProvAttr: Attr(StabilityEvolving, StabilityEvolving, ClassCommon),
		ModAttr:  Attr(StabilityPrivate, StabilityPrivate, ClassUnknown),
		FuncAttr: Attr(StabilityPrivate, StabilityPrivate, ClassUnknown),
		NameAttr: Attr(StabilityEvolving, StabilityEvolving, ClassCommon),
		ArgsAttr: Attr(StabilityEvolving, StabilityEvolving, ClassCommon),
		Prenoffs: first + 4,
	}
	var prov bytes.Buffer
	if err := binary.Write(&prov, byteOrder, &provider); err != nil {
		return nil, err
	}

	return []section{
		{header: SectionHeader{Type: SectStrtab, Align: 1}, data: strs.buf.Bytes()},
		{header: SectionHeader{Type: SectProbes, Align: 8, EntSize: ProbeEntrySize}, data: probes.Bytes()},
		{header: SectionHeader{Type: SectPrargs, Align: 1, EntSize: 1}, data: prargs.Bytes()},
		{header: SectionHeader{Type: SectProffs, Align: 4, EntSize: 4}, data: proffs.Bytes()},
		{header: SectionHeader{Type: SectPrenoffs, Align: 4, EntSize: 4}, data: prenoffs.Bytes()},
		{header: SectionHeader{Type: SectProvider, Align: 4}, data: prov.Bytes()},
	}, nil
}

// probeBase returns the address the offsets of a probe are relative to
func probeBase(probe *record.Probe) uint64 {
	first := probe.FirstAddress()
	if probe.Base != 0 && probe.Base <= first {
		return probe.Base
	}
	return first
}

func writeOffsets(buf *bytes.Buffer, base uint64, addrs []uint64) error {
	for _, addr := range addrs {
		offset := addr - base
		if addr < base || offset > math.MaxUint32 {
			return errors.Wrapf(ErrSerialize, "site %#x out of range of %#x", addr, base)
		}
		if err := binary.Write(buf, byteOrder, uint32(offset)); err != nil {
			return err
		}
	}
	return nil
}

func align(offset, alignment uint64) uint64 {
	if alignment <= 1 {
		return offset
	}
	return (offset + alignment - 1) / alignment * alignment
}

// assemble lays out the header, the section headers and the section data
func assemble(sections []section) ([]byte, error) {
	offset := uint64(HeaderSize + SectionHeaderSize*len(sections))
	for i := range sections {
		offset = align(offset, uint64(sections[i].header.Align))
		sections[i].header.Flags = SecfLoad
		sections[i].header.Offset = offset
		sections[i].header.Size = uint64(len(sections[i].data))
		offset += sections[i].header.Size
	}
	total := align(offset, 8)

	header := Header{
		HdrSize: HeaderSize,
		SecSize: SectionHeaderSize,
		SecNum:  uint32(len(sections)),
		SecOff:  HeaderSize,
		LoadSz:  total,
		FileSz:  total,
	}
	copy(header.Ident[:], []uint8{Mag0, Mag1, Mag2, Mag3, ModelLP64, EncodingLSB, Version2, DIFVersion, DIFIRegs, DIFTRegs})

	buf := bytes.NewBuffer(make([]byte, 0, total))
	if err := binary.Write(buf, byteOrder, &header); err != nil {
		return nil, err
	}
	for i := range sections {
		if err := binary.Write(buf, byteOrder, &sections[i].header); err != nil {
			return nil, err
		}
	}
	for _, s := range sections {
		for uint64(buf.Len()) < s.header.Offset {
			buf.WriteByte(0)
		}
		buf.Write(s.data)
	}
	for uint64(buf.Len()) < total {
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}
