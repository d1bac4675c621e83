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

// Package linker generates probe sites for platforms whose linker builds the probe descriptor. The symbols of the
// sites are assigned by the provider compiler: they are scraped out of the header generated by `dtrace -h` and
// bound to plain C identifiers, so that the asm of the sites never spells a mangled name.
package linker

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Gui774ume/usdt/pkg/abi"
	"github.com/Gui774ume/usdt/pkg/codegen"
	"github.com/Gui774ume/usdt/pkg/provider"
)

// BackendName is the name of the link-time backend
const BackendName = "linker"

// labelMacros prefix the assembler names with the user label prefix of the platform, the compiler adds it to
// every C symbol but not to the names given with __asm__.
const labelMacros = `#ifndef USDT_LABEL
#define USDT_STR2(x) #x
#define USDT_STR(x) USDT_STR2(x)
#define USDT_LABEL(sym) USDT_STR(__USER_LABEL_PREFIX__) sym
#endif`

// Backend is the link-time backend
type Backend struct {
	compiler Compiler
	infos    map[string]*ProviderInfo
	dsource  string
	header   string
}

// NewBackend returns a link-time backend using the provided provider compiler
func NewBackend(compiler Compiler) *Backend {
	return &Backend{
		compiler: compiler,
		infos:    make(map[string]*ProviderInfo),
	}
}

// Name implements codegen.Backend
func (b *Backend) Name() string {
	return BackendName
}

// BuildConstraint implements codegen.Backend
func (b *Backend) BuildConstraint() string {
	return "cgo && darwin"
}

// Prepare implements codegen.Backend, it runs the provider compiler and collects the symbols of every probe. The
// compiler runs once per provider source.
func (b *Backend) Prepare(ctx context.Context, providers []*provider.Provider) error {
	if len(providers) == 0 {
		return nil
	}
	dsource := provider.DSource(providers...)
	if len(b.header) > 0 && dsource == b.dsource {
		return nil
	}
	header, err := b.compiler.Header(ctx, dsource)
	if err != nil {
		return err
	}
	infos, err := ExtractProviders(header)
	if err != nil {
		return err
	}
	if err = Check(infos, providers); err != nil {
		return err
	}
	b.infos = infos
	b.dsource = dsource
	b.header = header
	logrus.Debugf("collected the symbols of %d provider(s)", len(infos))
	return nil
}

// Header returns the provider header of the last preparation
func (b *Backend) Header() string {
	return b.header
}

// Info returns the symbols of a provider, once the backend is prepared
func (b *Backend) Info(providerName string) (*ProviderInfo, error) {
	info, ok := b.infos[providerName]
	if !ok {
		return nil, errors.Wrapf(ErrMissingSymbol, "provider %s", providerName)
	}
	return info, nil
}

// ProviderDeclarations implements codegen.Backend
func (b *Backend) ProviderDeclarations(p *provider.Provider) (string, error) {
	info, err := b.Info(p.Name)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		labelMacros,
		boundDeclaration("void", codegen.CIdent(p.Name, "", "stability"), "void", info.Stability),
		boundDeclaration("void", codegen.CIdent(p.Name, "", "typedefs"), "void", info.Typedefs),
	}, "\n"), nil
}

// ProbeDeclarations implements codegen.Backend
func (b *Backend) ProbeDeclarations(p *provider.Provider, probe *provider.Probe) (string, error) {
	info, err := b.Info(p.Name)
	if err != nil {
		return "", err
	}
	isEnabled, symbol, ok := info.Lookup(probe.Name)
	if !ok {
		return "", errors.Wrapf(ErrMissingSymbol, "%s:%s", p.Name, probe.Name)
	}

	params := "void"
	if len(probe.Types) > 0 {
		ctypes := make([]string, 0, len(probe.Types))
		for _, dt := range probe.Types {
			ctypes = append(ctypes, dt.CType())
		}
		params = strings.Join(ctypes, ", ")
	}
	return strings.Join([]string{
		boundDeclaration("int", isEnabledIdent(p, probe), "void", isEnabled),
		boundDeclaration("void", probeIdent(p, probe), params, symbol),
	}, "\n"), nil
}

// IsEnabledSite implements codegen.Backend, the linker turns the call to the is-enabled symbol into an inert sequence
func (b *Backend) IsEnabledSite(p *provider.Provider, probe *provider.Probe, _ abi.Arch) (string, error) {
	return fmt.Sprintf("\treturn (uint64_t)%s();", isEnabledIdent(p, probe)), nil
}

// ProbeSite implements codegen.Backend
func (b *Backend) ProbeSite(p *provider.Provider, probe *provider.Probe, m abi.Marshaling) (string, error) {
	lines := []string{
		".reference " + m.Arch.SymbolOperand("typedefs"),
		m.Arch.CallInstruction(),
		".reference " + m.Arch.SymbolOperand("stability"),
	}
	inputs := []string{
		fmt.Sprintf(`[typedefs] "i"(%s)`, codegen.CIdent(p.Name, "", "typedefs")),
		fmt.Sprintf(`[probe] "i"(%s)`, probeIdent(p, probe)),
		fmt.Sprintf(`[stability] "i"(%s)`, codegen.CIdent(p.Name, "", "stability")),
	}
	if constraints := m.Constraints(); len(constraints) > 0 {
		inputs = append(inputs, constraints)
	}

	var body strings.Builder
	for _, op := range m.Operands {
		body.WriteString("\t" + op.Declaration + "\n")
	}
	body.WriteString("\t__asm__ __volatile__(\n")
	body.WriteString(codegen.AsmTemplate("\t\t", lines...))
	fmt.Fprintf(&body, "\n\t\t:\n\t\t: %s);", strings.Join(inputs, ", "))
	return body.String(), nil
}

func isEnabledIdent(p *provider.Provider, probe *provider.Probe) string {
	return codegen.CIdent(p.Name, probe.Name, "isenabled")
}

func probeIdent(p *provider.Provider, probe *provider.Probe) string {
	return codegen.CIdent(p.Name, probe.Name, "probe")
}

// boundDeclaration declares a C function named ident whose assembler name is symbol
func boundDeclaration(ret, ident, params, symbol string) string {
	return fmt.Sprintf("extern %s %s(%s) __asm__(USDT_LABEL(%s));", ret, ident, params, codegen.QuoteC(symbol))
}
