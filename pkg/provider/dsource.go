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
	"strings"
)

// DSource renders the D definition of the provider, as expected by the provider compiler
func (p *Provider) DSource() string {
	var b strings.Builder
	b.WriteString("provider ")
	b.WriteString(p.Name)
	b.WriteString(" {\n")
	for _, probe := range p.Probes {
		types := make([]string, 0, len(probe.Types))
		for _, dt := range probe.Types {
			types = append(types, dt.CType())
		}
		b.WriteString("\tprobe ")
		b.WriteString(probe.Name)
		b.WriteString("(")
		b.WriteString(strings.Join(types, ", "))
		b.WriteString(");\n")
	}
	b.WriteString("};\n")
	return b.String()
}

// DSource renders the D definition of a list of providers
func DSource(providers ...*Provider) string {
	sources := make([]string, 0, len(providers))
	for _, p := range providers {
		sources = append(sources, p.DSource())
	}
	return strings.Join(sources, "\n")
}
