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

// Package build turns a provider definition file into the generated probe sites of a Go package
package build

import (
	"bytes"
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v3"

	"github.com/Gui774ume/usdt/pkg/provider"
)

// ProbeDefinition is a probe of a definition file
type ProbeDefinition struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

// ProviderDefinition is a provider of a definition file
type ProviderDefinition struct {
	Name         string            `yaml:"name"`
	Declarations []string          `yaml:"declarations"`
	Probes       []ProbeDefinition `yaml:"probes"`
}

// Definition is the content of a definition file:
//
//	providers:
//	  - name: foo
//	    probes:
//	      - name: bar
//	        args: [uint8_t, "char *"]
type Definition struct {
	Providers []ProviderDefinition `yaml:"providers"`
}

// Load reads and parses a definition file
func Load(path string) ([]*provider.Provider, []byte, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't read %s: %w", path, err)
	}
	providers, err := Parse(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return providers, data, nil
}

// Parse parses a definition and validates the resulting providers
func Parse(data []byte) ([]*provider.Provider, error) {
	var def Definition
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&def); err != nil {
		return nil, fmt.Errorf("%v: %w", err, provider.ErrParse)
	}

	var providers []*provider.Provider
	for _, pd := range def.Providers {
		p := &provider.Provider{
			Name:         pd.Name,
			Declarations: pd.Declarations,
		}
		for _, probeDef := range pd.Probes {
			probe, err := provider.NewProbe(probeDef.Name, probeDef.Args...)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pd.Name, err)
			}
			p.Probes = append(p.Probes, probe)
		}
		providers = append(providers, p)
	}
	if err := provider.ValidateAll(providers); err != nil {
		return nil, err
	}
	return providers, nil
}
