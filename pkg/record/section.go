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

package record

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/Gui774ume/usdt/pkg/provider"
)

// Probe describes the sites of a probe found in the probe section
type Probe struct {
	Name string
	// Function is the name of the function holding the sites, when it could be resolved
	Function string
	// Base is the start address of Function, 0 when unresolved
	Base uint64
	// EnabledFunction is the name of the function holding the is-enabled sites, when it could be resolved
	EnabledFunction string
	// Addresses are the addresses of the probe sites
	Addresses []uint64
	// EnabledAddresses are the addresses of the is-enabled sites
	EnabledAddresses []uint64
	Arguments        []provider.DataType
}

// FirstAddress returns the lowest address of the probe sites
func (p *Probe) FirstAddress() uint64 {
	var first uint64
	for i, addr := range append(append([]uint64{}, p.Addresses...), p.EnabledAddresses...) {
		if i == 0 || addr < first {
			first = addr
		}
	}
	return first
}

// Provider groups the probes of a provider
type Provider struct {
	Name   string
	Probes map[string]*Probe
}

// SortedProbes returns the probes of the provider sorted by name
func (p *Provider) SortedProbes() []*Probe {
	probes := make([]*Probe, 0, len(p.Probes))
	for _, probe := range p.Probes {
		probes = append(probes, probe)
	}
	sort.Slice(probes, func(i, j int) bool {
		return probes[i].Name < probes[j].Name
	})
	return probes
}

// Section is the content of the probe section, indexed by provider and probe names
type Section struct {
	Providers map[string]*Provider
}

// NewSection returns an empty section
func NewSection() *Section {
	return &Section{Providers: make(map[string]*Provider)}
}

// SortedProviders returns the providers sorted by name
func (s *Section) SortedProviders() []*Provider {
	providers := make([]*Provider, 0, len(s.Providers))
	for _, p := range s.Providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool {
		return providers[i].Name < providers[j].Name
	})
	return providers
}

// FirstProbe returns the first probe in name order, or nil if the section holds no probe
func (s *Section) FirstProbe() *Probe {
	for _, p := range s.SortedProviders() {
		if probes := p.SortedProbes(); len(probes) > 0 {
			return probes[0]
		}
	}
	return nil
}

// ProbeCount returns the number of probes in the section
func (s *Section) ProbeCount() int {
	var count int
	for _, p := range s.Providers {
		count += len(p.Probes)
	}
	return count
}

// Relocate shifts every site address by delta
func (s *Section) Relocate(delta uint64) {
	for _, p := range s.Providers {
		for _, probe := range p.Probes {
			if probe.Base != 0 {
				probe.Base += delta
			}
			for i := range probe.Addresses {
				probe.Addresses[i] += delta
			}
			for i := range probe.EnabledAddresses {
				probe.EnabledAddresses[i] += delta
			}
		}
	}
}

// AddSite adds the site of a record to the section. Probe records of the same probe must agree on the arguments.
func (s *Section) AddSite(rec Record) error {
	p, ok := s.Providers[rec.Provider]
	if !ok {
		p = &Provider{Name: rec.Provider, Probes: make(map[string]*Probe)}
		s.Providers[rec.Provider] = p
	}
	probe, ok := p.Probes[rec.Probe]
	if !ok {
		probe = &Probe{Name: rec.Probe}
		p.Probes[rec.Probe] = probe
	}
	if rec.IsEnabled {
		probe.EnabledAddresses = append(probe.EnabledAddresses, rec.Address)
		return nil
	}
	if len(probe.Addresses) > 0 && !sameTypes(probe.Arguments, rec.Arguments) {
		return errors.Wrapf(ErrMalformedRecord, "conflicting arguments for %s:%s", rec.Provider, rec.Probe)
	}
	probe.Arguments = rec.Arguments
	probe.Addresses = append(probe.Addresses, rec.Address)
	return nil
}

func sameTypes(a, b []provider.DataType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
