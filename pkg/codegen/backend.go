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

package codegen

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/Gui774ume/usdt/pkg/abi"
	"github.com/Gui774ume/usdt/pkg/provider"
)

// Backend supplies the concrete instrumentation of the probe sites. A backend is selected once per generation.
type Backend interface {
	// Name identifies the backend in logs and generated files
	Name() string
	// BuildConstraint is the //go:build expression of the platforms supported by the generated sites
	BuildConstraint() string
	// Prepare is called once with every provider, before any site is emitted
	Prepare(ctx context.Context, providers []*provider.Provider) error
	// ProviderDeclarations returns the C declarations shared by the probes of a provider
	ProviderDeclarations(p *provider.Provider) (string, error)
	// ProbeDeclarations returns the C declarations needed by the sites of a probe
	ProbeDeclarations(p *provider.Provider, probe *provider.Probe) (string, error)
	// IsEnabledSite returns the body of a C function returning a non zero uint64_t when the probe is traced
	IsEnabledSite(p *provider.Provider, probe *provider.Probe, arch abi.Arch) (string, error)
	// ProbeSite returns the body of the C probe function. Parameters are named a0, a1, ...
	ProbeSite(p *provider.Provider, probe *provider.Probe, m abi.Marshaling) (string, error)
}

// DefaultProbeFormat is the default format of the probe wrapper names
const DefaultProbeFormat = "{provider}_{probe}"

// Config configures the generated code
type Config struct {
	// Package is the Go package of the generated files
	Package string
	// ProbeFormat names the probe wrappers, "{provider}" and "{probe}" are substituted before the result is camel cased
	ProbeFormat string
	// AutoRegister adds an init function registering the probes of the process
	AutoRegister bool
	// Archs are the architectures for which sites are generated, defaults to abi.SupportedArchs
	Archs []abi.Arch
	// Digest is written in the header of the generated files
	Digest string
}

func (c Config) withDefaults() Config {
	if len(c.Package) == 0 {
		c.Package = "probes"
	}
	if len(c.ProbeFormat) == 0 {
		c.ProbeFormat = DefaultProbeFormat
	}
	if len(c.Archs) == 0 {
		c.Archs = abi.SupportedArchs
	}
	return c
}

// ProbeIdent returns the name of the Go wrapper of a probe
func (c Config) ProbeIdent(providerName, probeName string) string {
	format := c.ProbeFormat
	if len(format) == 0 {
		format = DefaultProbeFormat
	}
	name := strings.NewReplacer("{provider}", providerName, "{probe}", probeName).Replace(format)
	return CamelCase(name)
}

// CamelCase turns a snake cased name into an exported Go identifier
func CamelCase(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) == 0 || unicode.IsDigit(rune(out[0])) {
		out = "P" + out
	}
	return out
}

// CIdent returns a C identifier unique to a provider, probe pair. Names are length prefixed so that "a_b":"c" and
// "a":"b_c" do not collide, and so that a suffix can't be mistaken for a part of the probe name.
func CIdent(providerName, probeName string, suffix ...string) string {
	parts := []string{"usdt", fmt.Sprintf("%d%s", len(providerName), providerName)}
	if len(probeName) > 0 {
		parts = append(parts, fmt.Sprintf("%d%s", len(probeName), probeName))
	}
	parts = append(parts, suffix...)
	return strings.Join(parts, "_")
}

// AsmTemplate quotes instruction lines as the C string literals of an asm statement
func AsmTemplate(indent string, lines ...string) string {
	quoted := make([]string, 0, len(lines))
	for _, line := range lines {
		quoted = append(quoted, indent+QuoteC(line+"\n"))
	}
	return strings.Join(quoted, "\n")
}

// QuoteC returns s as a C string literal
func QuoteC(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
