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

package provider

import (
	"fmt"
	"regexp"

	"github.com/pkg/errors"
)

var (
	// ErrParse is the root of every provider definition error
	ErrParse = errors.New("invalid provider definition")
	// ErrUnknownType is returned for argument types outside of the supported set
	ErrUnknownType = fmt.Errorf("unknown argument type: %w", ErrParse)
	// ErrInvalidName is returned for provider or probe names that aren't D identifiers
	ErrInvalidName = fmt.Errorf("invalid identifier: %w", ErrParse)
	// ErrDuplicateProbe is returned when a provider declares the same probe twice
	ErrDuplicateProbe = fmt.Errorf("duplicate probe: %w", ErrParse)
	// ErrDuplicateProvider is returned when two providers share the same name
	ErrDuplicateProvider = fmt.Errorf("duplicate provider: %w", ErrParse)
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Probe is a single named, typed trace point of a provider
type Probe struct {
	Name  string
	Types []DataType
}

// NewProbe parses the provided argument types and returns a new probe
func NewProbe(name string, types ...string) (*Probe, error) {
	probe := &Probe{Name: name}
	for _, t := range types {
		dt, err := ParseDataType(t)
		if err != nil {
			return nil, errors.Wrapf(err, "probe %s", name)
		}
		probe.Types = append(probe.Types, dt)
	}
	return probe, nil
}

// Provider is a named collection of probes. A Provider must not be modified once handed to a backend.
type Provider struct {
	Name   string
	Probes []*Probe
	// Declarations are auxiliary lines copied verbatim in the preamble of the generated code
	Declarations []string
}

// Probe returns the probe with the provided name, or nil
func (p *Provider) Probe(name string) *Probe {
	for _, probe := range p.Probes {
		if probe.Name == name {
			return probe
		}
	}
	return nil
}

// Validate checks the provider names and argument types
func (p *Provider) Validate() error {
	if !identifier.MatchString(p.Name) {
		return errors.Wrapf(ErrInvalidName, "provider %q", p.Name)
	}
	seen := make(map[string]bool)
	for _, probe := range p.Probes {
		if !identifier.MatchString(probe.Name) {
			return errors.Wrapf(ErrInvalidName, "probe %q of provider %s", probe.Name, p.Name)
		}
		if seen[probe.Name] {
			return errors.Wrapf(ErrDuplicateProbe, "%s:%s", p.Name, probe.Name)
		}
		seen[probe.Name] = true
		for i, dt := range probe.Types {
			if !dt.IsValid() {
				return errors.Wrapf(ErrUnknownType, "argument %d of %s:%s", i, p.Name, probe.Name)
			}
		}
	}
	return nil
}

// ValidateAll validates each provider and ensures that provider names are unique
func ValidateAll(providers []*Provider) error {
	seen := make(map[string]bool)
	for _, p := range providers {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return errors.Wrap(ErrDuplicateProvider, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
