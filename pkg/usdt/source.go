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
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/Gui774ume/usdt/pkg/record"
)

// Source provides the raw content of the probe section. An empty content means that no probe was compiled in.
type Source interface {
	Records() ([]byte, error)
}

// Fixture is an in memory Source
type Fixture struct {
	Data []byte
	Err  error
}

// NewFixture returns a Source made of the encoded records
func NewFixture(records ...record.Record) (*Fixture, error) {
	data, err := record.Encode(records...)
	if err != nil {
		return nil, err
	}
	return &Fixture{Data: data}, nil
}

// Records implements Source
func (f *Fixture) Records() ([]byte, error) {
	return f.Data, f.Err
}

// LinkedSection reads the probe section linked in the current executable
type LinkedSection struct{}

// Records implements Source
func (LinkedSection) Records() ([]byte, error) {
	return linkedSection(), nil
}

// relative relocations of the probe section, per machine
var relativeRelocations = map[elf.Machine]uint32{
	elf.EM_X86_64:  uint32(elf.R_X86_64_RELATIVE),
	elf.EM_AARCH64: uint32(elf.R_AARCH64_RELATIVE),
}

// ELFFile reads the probe section of an executable on disk. Site addresses are link time addresses.
type ELFFile struct {
	Path string
}

// Records implements Source
func (e ELFFile) Records() ([]byte, error) {
	f, err := elf.Open(e.Path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %w", e.Path, err)
	}
	defer f.Close()

	sec := f.Section(record.SectionName)
	if sec == nil || sec.Type == elf.SHT_NOBITS {
		return nil, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't read section %s of %s", record.SectionName, e.Path)
	}
	if err = applyRelocations(f, sec, data); err != nil {
		return nil, errors.Wrapf(err, "couldn't relocate section %s of %s", record.SectionName, e.Path)
	}
	return data, nil
}

// applyRelocations writes the addends of the relative relocations targeting sec. Position independent executables
// leave the site addresses of the records to the dynamic loader.
func applyRelocations(f *elf.File, sec *elf.Section, data []byte) error {
	relative, ok := relativeRelocations[f.Machine]
	if !ok || f.Class != elf.ELFCLASS64 {
		return nil
	}
	byteOrder := f.ByteOrder
	for _, rela := range f.Sections {
		if rela.Type != elf.SHT_RELA {
			continue
		}
		entries, err := rela.Data()
		if err != nil {
			return err
		}
		for cursor := 0; cursor+24 <= len(entries); cursor += 24 {
			offset := byteOrder.Uint64(entries[cursor : cursor+8])
			info := byteOrder.Uint64(entries[cursor+8 : cursor+16])
			addend := byteOrder.Uint64(entries[cursor+16 : cursor+24])
			if elf.R_TYPE64(info) != relative {
				continue
			}
			if offset < sec.Addr || offset+8 > sec.Addr+sec.Size {
				continue
			}
			binary.LittleEndian.PutUint64(data[offset-sec.Addr:], addend)
		}
	}
	return nil
}
