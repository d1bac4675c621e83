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
	"bytes"
	"context"
	"fmt"
	"go/format"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Gui774ume/usdt/pkg/abi"
	"github.com/Gui774ume/usdt/pkg/provider"
)

// GeneratedHeader is the first line of every generated file
const GeneratedHeader = "// Code generated by usdt. DO NOT EDIT."

// DigestPrefix introduces the digest line of the generated files
const DigestPrefix = "// usdt:digest "

// ErrInvalidDeclaration is returned for auxiliary declarations that can't be embedded in a cgo preamble
var ErrInvalidDeclaration = fmt.Errorf("invalid auxiliary declaration: %w", provider.ErrParse)

// ErrDuplicateIdent is returned when two probes would generate the same Go function
var ErrDuplicateIdent = fmt.Errorf("duplicate Go identifier: %w", provider.ErrParse)

// File is a generated source file
type File struct {
	Name    string
	Content []byte
}

type cFunc struct {
	EnabledFunc string
	EnabledBody string
	ProbeFunc   string
	CParams     string
	ProbeBody   string
}

type archData struct {
	Guard     string
	Functions []cFunc
}

type probeData struct {
	Name        string
	Provider    string
	Probe       string
	EnabledFunc string
	ProbeFunc   string
	Params      string
	Statements  []string
	CArgs       string
}

type fileData struct {
	Digest       string
	Backend      string
	Constraint   string
	Package      string
	Declarations []string
	BackendDecls string
	ProbeDecls   []string
	Archs        []archData
	Probes       []probeData
	NeedsUnsafe  bool
}

var sitesTmpl = template.Must(template.New("sites").Parse(GeneratedHeader + `
{{- if .Digest }}
// usdt:digest {{ .Digest }}
{{- end }}
// usdt:backend {{ .Backend }}

//go:build {{ .Constraint }}

package {{ .Package }}

/*
#include <stdint.h>
{{ range .Declarations }}{{ . }}
{{ end }}
{{ .BackendDecls }}
{{ range .ProbeDecls }}{{ . }}
{{ end }}
{{ range $i, $arch := .Archs }}{{ if eq $i 0 }}#if{{ else }}#elif{{ end }} defined({{ $arch.Guard }})
{{ range $arch.Functions }}
static inline uint64_t {{ .EnabledFunc }}(void) {
{{ .EnabledBody }}
}

static inline void {{ .ProbeFunc }}({{ .CParams }}) {
{{ .ProbeBody }}
}
{{ end }}{{ end }}#else
#error "usdt: unsupported architecture"
#endif
*/
import "C"
{{ if .NeedsUnsafe }}
import "unsafe"
{{ end }}
{{ range .Probes }}
// {{ .Name }} fires the probe {{ .Provider }}:{{ .Probe }}
func {{ .Name }}({{ .Params }}) {
	if C.{{ .EnabledFunc }}() == 0 {
		return
	}
{{- range .Statements }}
	{{ . }}
{{- end }}
	C.{{ .ProbeFunc }}({{ .CArgs }})
}

// {{ .Name }}Enabled returns true when the probe {{ .Provider }}:{{ .Probe }} is traced
func {{ .Name }}Enabled() bool {
	return C.{{ .EnabledFunc }}() != 0
}
{{ end }}`))

var stubTmpl = template.Must(template.New("stub").Parse(GeneratedHeader + `
{{- if .Digest }}
// usdt:digest {{ .Digest }}
{{- end }}

//go:build !({{ .Constraint }})

package {{ .Package }}
{{ range .Probes }}
// {{ .Name }} fires the probe {{ .Provider }}:{{ .Probe }}. Probes are compiled out on this platform.
func {{ .Name }}({{ .Params }}) {}

// {{ .Name }}Enabled always returns false on this platform
func {{ .Name }}Enabled() bool {
	return false
}
{{ end }}`))

var registerTmpl = template.Must(template.New("register").Parse(GeneratedHeader + `
{{- if .Digest }}
// usdt:digest {{ .Digest }}
{{- end }}

package {{ .Package }}

import "github.com/Gui774ume/usdt/pkg/usdt"

func init() {
	_ = usdt.Register()
}
`))

// Generate emits the probe sites of the providers with the provided backend
func Generate(ctx context.Context, providers []*provider.Provider, backend Backend, cfg Config) ([]File, error) {
	cfg = cfg.withDefaults()
	if err := provider.ValidateAll(providers); err != nil {
		return nil, err
	}
	if err := checkIdents(providers, cfg); err != nil {
		return nil, err
	}
	if err := backend.Prepare(ctx, providers); err != nil {
		return nil, err
	}

	var files []File
	for _, p := range providers {
		data, err := providerData(p, backend, cfg)
		if err != nil {
			return nil, err
		}

		sites, err := render(sitesTmpl, data)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't generate the probe sites of %s", p.Name)
		}
		stub, err := render(stubTmpl, data)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't generate the stubs of %s", p.Name)
		}
		files = append(files,
			File{Name: p.Name + "_usdt.go", Content: sites},
			File{Name: p.Name + "_usdt_stub.go", Content: stub},
		)
		logrus.Debugf("generated %d probe(s) for provider %s with the %s backend", len(p.Probes), p.Name, backend.Name())
	}

	if cfg.AutoRegister {
		register, err := render(registerTmpl, fileData{Package: cfg.Package, Digest: cfg.Digest})
		if err != nil {
			return nil, errors.Wrap(err, "couldn't generate the registration file")
		}
		files = append(files, File{Name: "usdt_register.go", Content: register})
	}
	return files, nil
}

// checkIdents ensures that the Go functions generated for the probes of a package are unique
func checkIdents(providers []*provider.Provider, cfg Config) error {
	owners := make(map[string]string)
	for _, p := range providers {
		for _, probe := range p.Probes {
			owner := p.Name + ":" + probe.Name
			name := cfg.ProbeIdent(p.Name, probe.Name)
			for _, ident := range []string{name, name + "Enabled"} {
				if other, ok := owners[ident]; ok {
					return errors.Wrapf(ErrDuplicateIdent, "%s and %s both generate %s", other, owner, ident)
				}
				owners[ident] = owner
			}
		}
	}
	return nil
}

func providerData(p *provider.Provider, backend Backend, cfg Config) (fileData, error) {
	data := fileData{
		Digest:     cfg.Digest,
		Backend:    backend.Name(),
		Constraint: backend.BuildConstraint(),
		Package:    cfg.Package,
	}
	for _, decl := range p.Declarations {
		if strings.Contains(decl, "*/") {
			return fileData{}, errors.Wrapf(ErrInvalidDeclaration, "%s: %q", p.Name, decl)
		}
		data.Declarations = append(data.Declarations, decl)
	}

	decls, err := backend.ProviderDeclarations(p)
	if err != nil {
		return fileData{}, err
	}
	data.BackendDecls = decls

	for _, probe := range p.Probes {
		decls, err := backend.ProbeDeclarations(p, probe)
		if err != nil {
			return fileData{}, err
		}
		if len(decls) > 0 {
			data.ProbeDecls = append(data.ProbeDecls, decls)
		}
	}

	for i, arch := range cfg.Archs {
		ad := archData{Guard: arch.Guard()}
		for _, probe := range p.Probes {
			m, err := abi.Marshal(arch, probe.Types)
			if err != nil {
				return fileData{}, errors.Wrapf(err, "%s:%s", p.Name, probe.Name)
			}
			enabledBody, err := backend.IsEnabledSite(p, probe, arch)
			if err != nil {
				return fileData{}, err
			}
			probeBody, err := backend.ProbeSite(p, probe, m)
			if err != nil {
				return fileData{}, err
			}
			ad.Functions = append(ad.Functions, cFunc{
				EnabledFunc: CIdent(p.Name, probe.Name, "enabled"),
				EnabledBody: enabledBody,
				ProbeFunc:   CIdent(p.Name, probe.Name),
				CParams:     m.CParams(),
				ProbeBody:   probeBody,
			})

			// the Go side of the call does not depend on the architecture
			if i == 0 {
				pd := probeData{
					Name:        cfg.ProbeIdent(p.Name, probe.Name),
					Provider:    p.Name,
					Probe:       probe.Name,
					EnabledFunc: CIdent(p.Name, probe.Name, "enabled"),
					ProbeFunc:   CIdent(p.Name, probe.Name),
					Params:      m.Params(),
					CArgs:       m.CArgs(),
				}
				for _, b := range m.Bindings {
					pd.Statements = append(pd.Statements, b.Statements...)
					if b.Class == provider.ClassIndirect {
						data.NeedsUnsafe = true
					}
				}
				data.Probes = append(data.Probes, pd)
			}
		}
		data.Archs = append(data.Archs, ad)
	}
	return data, nil
}

func render(tmpl *template.Template, data fileData) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "generated code doesn't parse")
	}
	return out, nil
}

// ReadDigest returns the digest recorded in a generated file, if any
func ReadDigest(content []byte) string {
	for _, line := range strings.Split(string(content), "\n") {
		if strings.HasPrefix(line, DigestPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, DigestPrefix))
		}
		if strings.HasPrefix(line, "package ") {
			break
		}
	}
	return ""
}
