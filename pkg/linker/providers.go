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

package linker

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/Gui774ume/usdt/pkg/provider"
)

var (
	// ErrHeaderOrder is returned when a header line references a provider before its stability line
	ErrHeaderOrder = fmt.Errorf("provider referenced before its stability marker: %w", provider.ErrParse)
	// ErrMissingSymbol is returned when the header lacks a symbol required by a provider
	ErrMissingSymbol = fmt.Errorf("missing header symbol: %w", provider.ErrParse)
)

// ProviderInfo holds the compiler assigned symbols of a provider
type ProviderInfo struct {
	Name      string
	Stability string
	Typedefs  string
	// IsEnabled maps probe names to is-enabled symbols
	IsEnabled map[string]string
	// Probes maps probe names to probe symbols
	Probes map[string]string
}

func newProviderInfo(name, stability string) *ProviderInfo {
	return &ProviderInfo{
		Name:      name,
		Stability: stability,
		IsEnabled: make(map[string]string),
		Probes:    make(map[string]string),
	}
}

// ExtractProviders scans a generated provider header. The compiler writes the stability marker of a provider
// before any other line about it.
func ExtractProviders(header string) (map[string]*ProviderInfo, error) {
	infos := make(map[string]*ProviderInfo)
	lookup := func(name, line string) (*ProviderInfo, error) {
		info, ok := infos[name]
		if !ok {
			return nil, errors.Wrapf(ErrHeaderOrder, "%s: %q", name, line)
		}
		return info, nil
	}

	scanner := bufio.NewScanner(strings.NewReader(header))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")

		if name, symbol, ok := ParseStabilityLine(line); ok {
			if _, ok = infos[name]; !ok {
				infos[name] = newProviderInfo(name, symbol)
			}
			continue
		}
		if name, symbol, ok := ParseTypedefsLine(line); ok {
			info, err := lookup(name, line)
			if err != nil {
				return nil, err
			}
			info.Typedefs = symbol
			continue
		}
		if name, probe, symbol, ok := ParseIsEnabledLine(line); ok {
			info, err := lookup(name, line)
			if err != nil {
				return nil, err
			}
			info.IsEnabled[probe] = symbol
			continue
		}
		if name, probe, symbol, ok := ParseProbeLine(line); ok {
			info, err := lookup(name, line)
			if err != nil {
				return nil, err
			}
			info.Probes[probe] = symbol
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "couldn't read provider header")
	}
	return infos, nil
}

// Lookup returns the is-enabled and probe symbols of a probe
func (info *ProviderInfo) Lookup(probe string) (string, string, bool) {
	isEnabled, ok := info.IsEnabled[probe]
	if !ok {
		return "", "", false
	}
	symbol, ok := info.Probes[probe]
	if !ok {
		return "", "", false
	}
	return isEnabled, symbol, true
}

// Check ensures that the header provided every symbol of the probes of p
func (info *ProviderInfo) Check(p *provider.Provider) error {
	if len(info.Typedefs) == 0 {
		return errors.Wrapf(ErrMissingSymbol, "typedefs of provider %s", p.Name)
	}
	for _, probe := range p.Probes {
		if _, ok := info.IsEnabled[probe.Name]; !ok {
			return errors.Wrapf(ErrMissingSymbol, "is-enabled symbol of %s:%s", p.Name, probe.Name)
		}
		if _, ok := info.Probes[probe.Name]; !ok {
			return errors.Wrapf(ErrMissingSymbol, "probe symbol of %s:%s", p.Name, probe.Name)
		}
	}
	return nil
}

// Check ensures that the header provided every symbol needed by the providers
func Check(infos map[string]*ProviderInfo, providers []*provider.Provider) error {
	for _, p := range providers {
		info, ok := infos[p.Name]
		if !ok {
			return errors.Wrapf(ErrMissingSymbol, "provider %s", p.Name)
		}
		if err := info.Check(p); err != nil {
			return err
		}
	}
	return nil
}
