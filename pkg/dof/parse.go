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

	"github.com/pkg/errors"
)

// ErrInvalidDOF is returned when a buffer isn't a DOF this package can read
var ErrInvalidDOF = errors.New("invalid DOF")

// Section is a decoded DOF section
type Section struct {
	SectionHeader
	Data []byte
}

// File is a decoded DOF
type File struct {
	Header   Header
	Sections []Section
}

// ProbeInfo describes a probe of a DOF
type ProbeInfo struct {
	Provider       string
	Name           string
	Function       string
	Addr           uint64
	Offsets        []uint32
	EnabledOffsets []uint32
	Arguments      []string
}

// Parse decodes a DOF produced by Serialize
func Parse(data []byte) (*File, error) {
	var f File
	if len(data) < HeaderSize {
		return nil, errors.Wrapf(ErrInvalidDOF, "%d bytes", len(data))
	}
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), byteOrder, &f.Header); err != nil {
		return nil, err
	}
	ident := f.Header.Ident
	if ident[0] != Mag0 || ident[1] != Mag1 || ident[2] != Mag2 || ident[3] != Mag3 {
		return nil, errors.Wrap(ErrInvalidDOF, "bad magic")
	}
	if ident[4] != ModelLP64 || ident[5] != EncodingLSB {
		return nil, errors.Wrapf(ErrInvalidDOF, "unsupported model %d or encoding %d", ident[4], ident[5])
	}
	if f.Header.SecSize != SectionHeaderSize || f.Header.LoadSz > uint64(len(data)) {
		return nil, errors.Wrap(ErrInvalidDOF, "inconsistent header")
	}

	for i := uint64(0); i < uint64(f.Header.SecNum); i++ {
		start := f.Header.SecOff + i*SectionHeaderSize
		if start+SectionHeaderSize > uint64(len(data)) {
			return nil, errors.Wrapf(ErrInvalidDOF, "section header %d out of bounds", i)
		}
		var s Section
		if err := binary.Read(bytes.NewReader(data[start:start+SectionHeaderSize]), byteOrder, &s.SectionHeader); err != nil {
			return nil, err
		}
		if s.Offset+s.Size > uint64(len(data)) || s.Offset+s.Size < s.Offset {
			return nil, errors.Wrapf(ErrInvalidDOF, "section %d out of bounds", i)
		}
		s.Data = data[s.Offset : s.Offset+s.Size]
		f.Sections = append(f.Sections, s)
	}
	return &f, nil
}

func (f *File) section(index uint32, kind SectionType) (Section, error) {
	if int(index) >= len(f.Sections) {
		return Section{}, errors.Wrapf(ErrInvalidDOF, "no section %d", index)
	}
	s := f.Sections[index]
	if s.Type != kind {
		return Section{}, errors.Wrapf(ErrInvalidDOF, "section %d is %s, expected %s", index, s.Type, kind)
	}
	return s, nil
}

func str(strtab []byte, index uint32) (string, error) {
	if int(index) >= len(strtab) {
		return "", errors.Wrapf(ErrInvalidDOF, "string %d out of bounds", index)
	}
	end := bytes.IndexByte(strtab[index:], 0)
	if end < 0 {
		return "", errors.Wrapf(ErrInvalidDOF, "string %d isn't terminated", index)
	}
	return string(strtab[index : int(index)+end]), nil
}

func offsets(s Section, index uint32, count uint16) ([]uint32, error) {
	start := uint64(index) * 4
	end := start + uint64(count)*4
	if end > uint64(len(s.Data)) {
		return nil, errors.Wrapf(ErrInvalidDOF, "offsets %d:%d out of bounds", index, count)
	}
	var out []uint32
	for cursor := start; cursor < end; cursor += 4 {
		out = append(out, byteOrder.Uint32(s.Data[cursor:cursor+4]))
	}
	return out, nil
}

// Probes lists the probes of every provider of the DOF
func (f *File) Probes() ([]ProbeInfo, error) {
	var out []ProbeInfo
	for _, s := range f.Sections {
		if s.Type != SectProvider {
			continue
		}
		var provider ProviderEntry
		if err := binary.Read(bytes.NewReader(s.Data), byteOrder, &provider); err != nil {
			return nil, errors.Wrap(ErrInvalidDOF, err.Error())
		}
		strtab, err := f.section(provider.Strtab, SectStrtab)
		if err != nil {
			return nil, err
		}
		probes, err := f.section(provider.Probes, SectProbes)
		if err != nil {
			return nil, err
		}
		proffs, err := f.section(provider.Proffs, SectProffs)
		if err != nil {
			return nil, err
		}
		prenoffs, err := f.section(provider.Prenoffs, SectPrenoffs)
		if err != nil {
			return nil, err
		}
		providerName, err := str(strtab.Data, provider.Name)
		if err != nil {
			return nil, err
		}

		for cursor := 0; cursor+ProbeEntrySize <= len(probes.Data); cursor += ProbeEntrySize {
			var entry ProbeEntry
			if err = binary.Read(bytes.NewReader(probes.Data[cursor:cursor+ProbeEntrySize]), byteOrder, &entry); err != nil {
				return nil, err
			}
			info := ProbeInfo{Provider: providerName, Addr: entry.Addr}
			if info.Name, err = str(strtab.Data, entry.Name); err != nil {
				return nil, err
			}
			if info.Function, err = str(strtab.Data, entry.Func); err != nil {
				return nil, err
			}
			argv := entry.NArgv
			for i := uint8(0); i < entry.NArgc; i++ {
				arg, err := str(strtab.Data, argv)
				if err != nil {
					return nil, err
				}
				info.Arguments = append(info.Arguments, arg)
				argv += uint32(len(arg)) + 1
			}
			if info.Offsets, err = offsets(proffs, entry.OffIdx, entry.NOffs); err != nil {
				return nil, err
			}
			if info.EnabledOffsets, err = offsets(prenoffs, entry.EnOffIdx, entry.NEnOffs); err != nil {
				return nil, err
			}
			out = append(out, info)
		}
	}
	return out, nil
}
