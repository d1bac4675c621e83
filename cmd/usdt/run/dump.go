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

package run

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/Gui774ume/usdt/pkg/codegen"
	"github.com/Gui774ume/usdt/pkg/dof"
	"github.com/Gui774ume/usdt/pkg/linker"
	"github.com/Gui774ume/usdt/pkg/record"
	"github.com/Gui774ume/usdt/pkg/stat"
)

const providerInfoTmpl = `{{ range $info := . }}provider {{ .Name }}
	stability: {{ .Stability }}
	typedefs:  {{ .Typedefs }}
{{- range $probe, $symbol := .Probes }}
	probe {{ $probe }}
		is-enabled: {{ index $info.IsEnabled $probe }}
		probe:      {{ $symbol }}
{{- end }}
{{ end }}`

func dumpProviderInfos(infos map[string]*linker.ProviderInfo) error {
	names := make([]string, 0, len(infos))
	for name := range infos {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make([]*linker.ProviderInfo, 0, len(names))
	for _, name := range names {
		data = append(data, infos[name])
	}
	t := template.Must(template.New("tmpl").Parse(providerInfoTmpl))
	return t.Execute(os.Stdout, data)
}

func dumpFiles(files []codegen.File) {
	for _, f := range files {
		fmt.Printf("// ---- %s\n%s\n", f.Name, f.Content)
	}
}

func dumpSection(section *record.Section) {
	fmt.Printf("%-20s %-20s %-10s %18s %s\n", "PROVIDER", "PROBE", "KIND", "ADDRESS", "FUNC_NAME")
	for _, p := range section.SortedProviders() {
		for _, probe := range p.SortedProbes() {
			args := make([]string, 0, len(probe.Arguments))
			for _, arg := range probe.Arguments {
				args = append(args, arg.String())
			}
			for _, addr := range probe.Addresses {
				fmt.Printf("%-20s %-20s %-10s %#18x %s(%s)\n", p.Name, probe.Name, "probe", addr, probe.Function, strings.Join(args, ", "))
			}
			for _, addr := range probe.EnabledAddresses {
				fmt.Printf("%-20s %-20s %-10s %#18x %s\n", p.Name, probe.Name, "is-enabled", addr, probe.EnabledFunction)
			}
		}
	}
}

const dofTmpl = `{{ range . }}{{ .Provider }}:{{ .Name }} [function: {{ .Function }}, addr: {{ printf "%#x" .Addr }}]
	offsets:            {{ .Offsets }}
	is-enabled offsets: {{ .EnabledOffsets }}
	arguments:          {{ .Arguments }}
{{ end }}`

func dumpDOF(f *dof.File) error {
	probes, err := f.Probes()
	if err != nil {
		return err
	}
	fmt.Printf("%d section(s), %d probe(s)\n", len(f.Sections), len(probes))
	t := template.Must(template.New("tmpl").Parse(dofTmpl))
	return t.Execute(os.Stdout, probes)
}

func dumpReport(report stat.Report) {
	fmt.Printf("\n[duration: %s, %d hit(s)]\n", report.Duration, report.TotalHits())
	fmt.Printf("%10v %18v %-10s %s\n", "COUNT", "ADDRESS", "KIND", "PROBE")
	for _, s := range report.SitesByHits() {
		kind := "probe"
		if s.IsEnabled {
			kind = "is-enabled"
		}
		fmt.Printf("%10v %#18x %-10s %s (%s)\n", s.Hits, s.Address, kind, s.Name(), s.Function)
	}
}
