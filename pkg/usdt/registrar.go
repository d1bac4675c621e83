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

// Package usdt registers the probes compiled in the process with the kernel helper device
package usdt

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Gui774ume/usdt/pkg/dof"
	"github.com/Gui774ume/usdt/pkg/record"
)

// UnknownModule is the module name used when the section holds no probe
const UnknownModule = "unknown-module"

// Registrar registers the probes of a Source, once
type Registrar struct {
	Source     Source
	Resolver   Resolver
	OpenDevice func() (Device, error)

	once sync.Once
	err  error
}

// NewRegistrar returns a registrar for the probes linked in the current process
func NewRegistrar() *Registrar {
	return &Registrar{
		Source:     LinkedSection{},
		Resolver:   NewProcResolver(os.Getpid()),
		OpenDevice: OpenHelperDevice,
	}
}

// Register scans the probe section and hands its descriptor to the kernel. Only the first call has side effects,
// the following ones return the result of the first call.
func (r *Registrar) Register() error {
	r.once.Do(func() {
		r.err = r.register()
	})
	return r.err
}

func (r *Registrar) register() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &RegistrationError{Op: "register", Err: fmt.Errorf("%v", p)}
		}
	}()

	section, err := Inspect(r.Source, r.Resolver)
	if err != nil {
		return err
	}
	if section == nil {
		logrus.Debugf("no probe to register")
		return nil
	}

	module := ModuleName(section, r.Resolver)
	buf, err := dof.Serialize(section)
	if err != nil {
		return err
	}

	device, err := r.OpenDevice()
	if err != nil {
		return err
	}
	defer device.Close()

	helper := dof.NewHelper(module, buf)
	err = device.AddDOF(helper)
	runtime.KeepAlive(buf)
	if err != nil {
		return err
	}
	logrus.Debugf("registered %d probe(s) of %s", section.ProbeCount(), module)
	return nil
}

// Inspect scans the probe section of a source and resolves the functions holding the probes. It returns nil when
// the section holds no probe.
func Inspect(source Source, resolver Resolver) (*record.Section, error) {
	data, err := source.Records()
	if err != nil {
		return nil, fmt.Errorf("couldn't read the probe section: %w", err)
	}
	section, err := record.ProcessSection(data)
	if err != nil || section == nil {
		return nil, err
	}
	if resolver == nil {
		return section, nil
	}
	for _, p := range section.Providers {
		for _, probe := range p.Probes {
			// is-enabled sites live in their own function, they are resolved separately
			if len(probe.Addresses) > 0 {
				if info, err := resolver.Resolve(lowest(probe.Addresses)); err == nil {
					probe.Function = info.Function
					probe.Base = info.FunctionStart
				} else {
					logrus.Debugf("couldn't resolve %s:%s: %v", p.Name, probe.Name, err)
				}
			}
			if len(probe.EnabledAddresses) > 0 {
				if info, err := resolver.Resolve(lowest(probe.EnabledAddresses)); err == nil {
					probe.EnabledFunction = info.Function
				} else {
					logrus.Debugf("couldn't resolve the is-enabled sites of %s:%s: %v", p.Name, probe.Name, err)
				}
			}
		}
	}
	return section, nil
}

func lowest(addrs []uint64) uint64 {
	low := addrs[0]
	for _, addr := range addrs[1:] {
		if addr < low {
			low = addr
		}
	}
	return low
}

// ModuleName returns the name of the module holding the first probe of the section
func ModuleName(section *record.Section, resolver Resolver) string {
	var probe *record.Probe
	if section != nil {
		probe = section.FirstProbe()
	}
	if probe == nil {
		return UnknownModule
	}

	addr := probe.FirstAddress()
	name := fmt.Sprintf("?%#x", addr)
	if resolver != nil {
		if info, err := resolver.Resolve(addr); err == nil && len(info.Path) > 0 {
			name = filepath.Base(info.Path)
		}
	}
	if len(name) >= dof.ModuleNameLen {
		name = name[:dof.ModuleNameLen-1]
	}
	return name
}
