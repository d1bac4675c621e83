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
	"fmt"
	"strings"
	"sync"

	manager "github.com/DataDog/ebpf-manager"
	"github.com/DataDog/gopsutil/process"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrUnresolved is returned when an address doesn't belong to a mapped file
var ErrUnresolved = errors.New("address not resolved")

// AddrInfo describes the location of an address in the process
type AddrInfo struct {
	// Path of the mapped file holding the address
	Path string
	// Function holding the address, empty when the file has no matching symbol
	Function string
	// FunctionStart is the process address of Function
	FunctionStart uint64
}

// Resolver resolves process addresses
type Resolver interface {
	Resolve(addr uint64) (AddrInfo, error)
}

type mapping struct {
	path   string
	start  uint64
	end    uint64
	offset uint64
}

type fileSymbols struct {
	progs   []elf.ProgHeader
	symbols []elf.Symbol
}

// ProcResolver resolves addresses with the memory maps of a process and the symbols of the mapped files
type ProcResolver struct {
	pid int

	lock     sync.Mutex
	mappings []mapping
	files    map[string]*fileSymbols
}

// NewProcResolver returns a resolver for the process pid
func NewProcResolver(pid int) *ProcResolver {
	return &ProcResolver{
		pid:   pid,
		files: make(map[string]*fileSymbols),
	}
}

func (r *ProcResolver) loadMappings() error {
	if r.mappings != nil {
		return nil
	}
	p, err := process.NewProcess(int32(r.pid))
	if err != nil {
		return err
	}
	procMaps, err := p.MemoryMaps(false)
	if err != nil {
		return err
	}
	for _, m := range *procMaps {
		if !m.Permission.Execute || strings.HasPrefix(m.Path, "[") || len(m.Path) == 0 {
			continue
		}
		r.mappings = append(r.mappings, mapping{
			path:   m.Path,
			start:  uint64(m.StartAddr),
			end:    uint64(m.EndAddr),
			offset: uint64(m.Offset),
		})
	}
	return nil
}

func (r *ProcResolver) symbols(path string) *fileSymbols {
	if syms, ok := r.files[path]; ok {
		return syms
	}
	f, syms, err := manager.OpenAndListSymbols(path)
	if err != nil {
		logrus.Debugf("couldn't list the symbols of %s: %v", path, err)
		r.files[path] = nil
		return nil
	}
	defer f.Close()
	r.files[path] = &fileSymbols{progs: progHeaders(f), symbols: syms}
	return r.files[path]
}

// Resolve implements Resolver
func (r *ProcResolver) Resolve(addr uint64) (AddrInfo, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.loadMappings(); err != nil {
		return AddrInfo{}, fmt.Errorf("couldn't list the memory maps of %d: %w", r.pid, err)
	}
	for _, m := range r.mappings {
		if addr < m.start || addr >= m.end {
			continue
		}
		info := AddrInfo{Path: m.path}
		fileOffset := addr - m.start + m.offset
		if syms := r.symbols(m.path); syms != nil {
			if sym, symOffset, ok := syms.function(fileOffset); ok {
				info.Function = sym.Name
				info.FunctionStart = symOffset - m.offset + m.start
			}
		}
		return info, nil
	}
	return AddrInfo{}, errors.Wrapf(ErrUnresolved, "%#x", addr)
}

// function returns the function symbol holding the file offset, and the file offset of the symbol
func (fs *fileSymbols) function(offset uint64) (elf.Symbol, uint64, bool) {
	for _, sym := range fs.symbols {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Size == 0 {
			continue
		}
		symOffset := toFileOffset(fs.progs, sym.Value)
		if offset >= symOffset && offset < symOffset+sym.Size {
			return sym, symOffset, true
		}
	}
	return elf.Symbol{}, 0, false
}

// progHeaders copies the program headers of f, so that the file can be closed
func progHeaders(f *elf.File) []elf.ProgHeader {
	progs := make([]elf.ProgHeader, 0, len(f.Progs))
	for _, prog := range f.Progs {
		progs = append(progs, prog.ProgHeader)
	}
	return progs
}

// toFileOffset converts a virtual address of an ELF file to a file offset
func toFileOffset(progs []elf.ProgHeader, value uint64) uint64 {
	for _, prog := range progs {
		if prog.Type == elf.PT_LOAD && value >= prog.Vaddr && value < prog.Vaddr+prog.Memsz {
			return value - prog.Vaddr + prog.Off
		}
	}
	return value
}

// FileResolver resolves the link-time addresses of an executable file
type FileResolver struct {
	path    string
	symbols []elf.Symbol
}

// NewFileResolver lists the symbols of the executable at path
func NewFileResolver(path string) (*FileResolver, error) {
	f, syms, err := manager.OpenAndListSymbols(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't list the symbols of %s: %w", path, err)
	}
	_ = f.Close()
	return &FileResolver{path: path, symbols: syms}, nil
}

// Resolve implements Resolver
func (r *FileResolver) Resolve(addr uint64) (AddrInfo, error) {
	info := AddrInfo{Path: r.path}
	for _, sym := range r.symbols {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Size == 0 {
			continue
		}
		if addr >= sym.Value && addr < sym.Value+sym.Size {
			info.Function = sym.Name
			info.FunctionStart = sym.Value
			break
		}
	}
	return info, nil
}
