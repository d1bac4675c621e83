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

// Package stat counts the hits of the probe sites of an executable
package stat

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/Gui774ume/usdt/pkg/record"
)

// ErrNoSite is returned when there is no probe site to count
var ErrNoSite = errors.New("no probe site to count")

// Site is a probe site and its hit count
type Site struct {
	Provider  string
	Probe     string
	Function  string
	Address   uint64
	IsEnabled bool
	Hits      uint64
}

// Name returns the provider:probe name of the site
func (s Site) Name() string {
	return fmt.Sprintf("%s:%s", s.Provider, s.Probe)
}

// Options configures a SiteCounter
type Options struct {
	// Binary is the executable holding the probe sites
	Binary string
	// PID restricts the counters to a process, 0 counts every process running Binary
	PID int
	// IsEnabled also counts the is-enabled sites
	IsEnabled bool
}

// Report holds the hit counts collected by a SiteCounter
type Report struct {
	Duration time.Duration
	Sites    []Site
}

// NewReport returns a report over duration
func NewReport(duration time.Duration, sites []Site) Report {
	return Report{Duration: duration, Sites: sites}
}

// SitesByHits returns the sites sorted by decreasing hit count
func (r Report) SitesByHits() []Site {
	sites := make([]Site, len(r.Sites))
	copy(sites, r.Sites)
	sort.SliceStable(sites, func(i, j int) bool {
		return sites[i].Hits > sites[j].Hits
	})
	return sites
}

// Hits returns the total hit count of the probe sites of provider:probe
func (r Report) Hits(provider, probe string) uint64 {
	var hits uint64
	for _, s := range r.Sites {
		if s.Provider == provider && s.Probe == probe && !s.IsEnabled {
			hits += s.Hits
		}
	}
	return hits
}

// TotalHits returns the hit count of every site
func (r Report) TotalHits() uint64 {
	var hits uint64
	for _, s := range r.Sites {
		hits += s.Hits
	}
	return hits
}

// Sites lists the sites of a probe section, ordered by provider, probe and address. Is-enabled sites are listed only
// when isEnabled is set.
func Sites(section *record.Section, isEnabled bool) []Site {
	if section == nil {
		return nil
	}
	var sites []Site
	for _, p := range section.SortedProviders() {
		for _, probe := range p.SortedProbes() {
			var probeSites []Site
			for _, addr := range probe.Addresses {
				probeSites = append(probeSites, Site{Provider: p.Name, Probe: probe.Name, Function: probe.Function, Address: addr})
			}
			if isEnabled {
				for _, addr := range probe.EnabledAddresses {
					probeSites = append(probeSites, Site{Provider: p.Name, Probe: probe.Name, Function: probe.EnabledFunction, Address: addr, IsEnabled: true})
				}
			}
			sort.SliceStable(probeSites, func(i, j int) bool {
				return probeSites[i].Address < probeSites[j].Address
			})
			sites = append(sites, probeSites...)
		}
	}
	return sites
}
