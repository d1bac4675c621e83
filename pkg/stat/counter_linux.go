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

//go:build linux

package stat

import (
	"debug/elf"
	"fmt"
	"math"
	"time"

	manager "github.com/DataDog/ebpf-manager"
	"github.com/DataDog/gopsutil/process"
	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// SiteCounter counts the hits of probe sites with one uprobe per site
type SiteCounter struct {
	options   Options
	sites     []Site
	counters  *ebpf.Map
	programs  []*ebpf.Program
	links     []link.Link
	startTime time.Time
}

// NewSiteCounter creates a new SiteCounter instance
func NewSiteCounter(sites []Site, options Options) *SiteCounter {
	return &SiteCounter{
		options: options,
		sites:   sites,
	}
}

// Start attaches a uprobe on every site
func (c *SiteCounter) Start() error {
	if len(c.sites) == 0 {
		return ErrNoSite
	}
	if c.options.PID > 0 {
		exists, err := process.PidExists(int32(c.options.PID))
		if err != nil || !exists {
			return fmt.Errorf("process %d not found", c.options.PID)
		}
	}
	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &unix.Rlimit{
		Cur: math.MaxUint64,
		Max: math.MaxUint64,
	}); err != nil {
		logrus.Warnf("couldn't raise the memlock limit: %v", err)
	}

	offsets, err := c.fileOffsets()
	if err != nil {
		return err
	}

	c.counters, err = ebpf.NewMap(&ebpf.MapSpec{
		Name:       "site_counters",
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: uint32(len(c.sites)),
	})
	if err != nil {
		return fmt.Errorf("couldn't create the counters map: %w", err)
	}

	executable, err := link.OpenExecutable(c.options.Binary)
	if err != nil {
		_ = c.close()
		return fmt.Errorf("couldn't open %s: %w", c.options.Binary, err)
	}

	for i, site := range c.sites {
		prog, err := ebpf.NewProgram(counterProgram(c.counters, uint32(i)))
		if err != nil {
			_ = c.close()
			return fmt.Errorf("couldn't load the counter of %s: %w", site.Name(), err)
		}
		c.programs = append(c.programs, prog)

		symbol := site.Function
		if len(symbol) == 0 {
			symbol = fmt.Sprintf("%s_%s", site.Provider, site.Probe)
		}
		l, err := executable.Uprobe(symbol, prog, &link.UprobeOptions{
			Offset: offsets[i],
			PID:    c.options.PID,
		})
		if err != nil {
			_ = c.close()
			return fmt.Errorf("couldn't attach to %s at %#x: %w", site.Name(), site.Address, err)
		}
		c.links = append(c.links, l)
	}

	c.startTime = time.Now()
	logrus.Infof("Counting hits on %d site(s) ... (Ctrl + C to stop)", len(c.sites))
	return nil
}

// fileOffsets converts the site addresses to offsets in the executable
func (c *SiteCounter) fileOffsets() ([]uint64, error) {
	f, _, err := manager.OpenAndListSymbols(c.options.Binary)
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %w", c.options.Binary, err)
	}
	defer f.Close()

	syms := make([]elf.Symbol, len(c.sites))
	for i, site := range c.sites {
		syms[i] = elf.Symbol{Name: site.Name(), Value: site.Address}
	}
	manager.SanitizeUprobeAddresses(f, syms)

	offsets := make([]uint64, len(syms))
	for i, sym := range syms {
		offsets[i] = sym.Value
	}
	return offsets, nil
}

// counterProgram increments the counter at index key
func counterProgram(counters *ebpf.Map, key uint32) *ebpf.ProgramSpec {
	return &ebpf.ProgramSpec{
		Name: "site_counter",
		Type: ebpf.Kprobe,
		Instructions: asm.Instructions{
			asm.LoadMapPtr(asm.R1, counters.FD()),
			asm.StoreImm(asm.RFP, -4, int64(key), asm.Word),
			asm.Mov.Reg(asm.R2, asm.RFP),
			asm.Add.Imm(asm.R2, -4),
			asm.FnMapLookupElem.Call(),
			asm.JEq.Imm(asm.R0, 0, "exit"),
			asm.Mov.Imm(asm.R1, 1),
			asm.StoreXAdd(asm.R0, asm.R1, asm.DWord),
			asm.Mov.Imm(asm.R0, 0).Sym("exit"),
			asm.Return(),
		},
		License: "GPL",
	}
}

// Stop detaches the uprobes and returns the collected counters
func (c *SiteCounter) Stop() (Report, error) {
	for _, l := range c.links {
		_ = l.Close()
	}
	c.links = nil

	report := NewReport(time.Since(c.startTime), make([]Site, len(c.sites)))
	copy(report.Sites, c.sites)

	var err error
	if c.counters != nil {
		for i := range report.Sites {
			if lookupErr := c.counters.Lookup(uint32(i), &report.Sites[i].Hits); lookupErr != nil {
				err = errors.Wrapf(lookupErr, "couldn't read the counter of %s", report.Sites[i].Name())
				break
			}
		}
	}
	if closeErr := c.close(); err == nil {
		err = closeErr
	}
	return report, err
}

func (c *SiteCounter) close() error {
	for _, l := range c.links {
		_ = l.Close()
	}
	c.links = nil
	for _, prog := range c.programs {
		_ = prog.Close()
	}
	c.programs = nil
	if c.counters != nil {
		err := c.counters.Close()
		c.counters = nil
		return err
	}
	return nil
}
