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

// Package sections generates probe sites that describe themselves in the probe section of the binary. The sites are
// inert until the process registers the section with the kernel helper device, see pkg/usdt.
package sections

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gui774ume/usdt/pkg/abi"
	"github.com/Gui774ume/usdt/pkg/codegen"
	"github.com/Gui774ume/usdt/pkg/provider"
	"github.com/Gui774ume/usdt/pkg/record"
)

// BackendName is the name of the section record backend
const BackendName = "section"

// Backend is the section record backend
type Backend struct{}

// NewBackend returns a new section record backend
func NewBackend() *Backend {
	return &Backend{}
}

// Name implements codegen.Backend
func (b *Backend) Name() string {
	return BackendName
}

// BuildConstraint implements codegen.Backend
func (b *Backend) BuildConstraint() string {
	return "cgo && (linux || freebsd)"
}

// Prepare implements codegen.Backend, the records are self describing so there is nothing to prepare
func (b *Backend) Prepare(_ context.Context, _ []*provider.Provider) error {
	return nil
}

// ProviderDeclarations implements codegen.Backend
func (b *Backend) ProviderDeclarations(_ *provider.Provider) (string, error) {
	return "", nil
}

// ProbeDeclarations implements codegen.Backend
func (b *Backend) ProbeDeclarations(_ *provider.Provider, _ *provider.Probe) (string, error) {
	return "", nil
}

// IsEnabledSite implements codegen.Backend
func (b *Backend) IsEnabledSite(p *provider.Provider, probe *provider.Probe, arch abi.Arch) (string, error) {
	lines := append([]string{record.SiteLabel + ": " + arch.IsEnabledSequence()},
		record.Directives(p.Name, probe.Name, nil, true)...)

	clobbers := ""
	if arch.IsEnabledClobbersFlags() {
		clobbers = ` "cc"`
	}
	var body strings.Builder
	fmt.Fprintf(&body, "\tregister uint64_t enabled __asm__(\"%s\");\n", arch.ResultRegister())
	body.WriteString("\t__asm__ __volatile__(\n")
	body.WriteString(codegen.AsmTemplate("\t\t", lines...))
	fmt.Fprintf(&body, "\n\t\t: \"=r\"(enabled)\n\t\t:\n\t\t:%s);\n", clobbers)
	body.WriteString("\treturn enabled;")
	return body.String(), nil
}

// ProbeSite implements codegen.Backend
func (b *Backend) ProbeSite(p *provider.Provider, probe *provider.Probe, m abi.Marshaling) (string, error) {
	lines := append([]string{record.SiteLabel + ": " + m.Arch.ProbeSequence()},
		record.Directives(p.Name, probe.Name, probe.Types, false)...)

	var body strings.Builder
	for _, op := range m.Operands {
		body.WriteString("\t" + op.Declaration + "\n")
	}
	body.WriteString("\t__asm__ __volatile__(\n")
	body.WriteString(codegen.AsmTemplate("\t\t", lines...))
	fmt.Fprintf(&body, "\n\t\t:\n\t\t: %s);", m.Constraints())
	return body.String(), nil
}
