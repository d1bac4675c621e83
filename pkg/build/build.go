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

package build

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/Gui774ume/usdt/pkg/codegen"
	"github.com/Gui774ume/usdt/pkg/linker"
	"github.com/Gui774ume/usdt/pkg/sections"
)

// Backend names
const (
	BackendAuto    = "auto"
	BackendLinker  = linker.BackendName
	BackendSection = sections.BackendName
)

// Backends lists the accepted backend names
var Backends = []string{BackendAuto, BackendLinker, BackendSection}

// ErrUnknownBackend is returned for an unknown backend name
var ErrUnknownBackend = errors.New("unknown backend")

// ErrBuild is returned when the generated files can't be written
var ErrBuild = linker.ErrBuild

// BackendFor returns the backend generating probe sites for goos. The link-time backend is selected on darwin, where
// the linker builds the probe descriptor.
func BackendFor(name, goos string, compiler linker.Compiler) (codegen.Backend, error) {
	if name == BackendAuto || len(name) == 0 {
		name = BackendSection
		if goos == "darwin" {
			name = BackendLinker
		}
	}
	switch name {
	case BackendLinker:
		if compiler == nil {
			compiler = linker.NewDTraceCompiler("")
		}
		return linker.NewBackend(compiler), nil
	case BackendSection:
		return sections.NewBackend(), nil
	default:
		return nil, errors.Wrap(ErrUnknownBackend, name)
	}
}

// headerBackend is implemented by backends generating code from a provider header
type headerBackend interface {
	codegen.Backend
	Header() string
}

// Options configures a generation
type Options struct {
	// Source is the definition file
	Source string
	// Output is the directory of the generated files
	Output string
	// Backend is "auto", "linker" or "section"
	Backend string
	// GOOS selects the automatic backend, defaults to runtime.GOOS
	GOOS string
	// Compiler overrides the provider compiler of the link-time backend
	Compiler linker.Compiler
	// Force rewrites files whose digest didn't change
	Force bool
	codegen.Config
}

// Result lists the files of a generation
type Result struct {
	Digest    string
	Written   []string
	Unchanged []string
}

// Digest returns the blake2b digest of a definition, of the options affecting the generated code and of any other
// generation input, such as the provider header of the linker backend
func Digest(source []byte, backend string, cfg codegen.Config, inputs ...string) string {
	h, _ := blake2b.New256(nil)
	_, _ = h.Write(source)
	_, _ = fmt.Fprintf(h, "\x00%s\x00%s\x00%s\x00%t", backend, cfg.Package, cfg.ProbeFormat, cfg.AutoRegister)
	for _, arch := range cfg.Archs {
		_, _ = fmt.Fprintf(h, "\x00%s", arch)
	}
	for _, input := range inputs {
		_, _ = fmt.Fprintf(h, "\x01%d\x00%s", len(input), input)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Generate loads the definition file and writes the generated files to the output directory
func Generate(ctx context.Context, opts Options) (Result, error) {
	providers, source, err := Load(opts.Source)
	if err != nil {
		return Result{}, err
	}
	goos := opts.GOOS
	if len(goos) == 0 {
		goos = runtime.GOOS
	}
	backend, err := BackendFor(opts.Backend, goos, opts.Compiler)
	if err != nil {
		return Result{}, err
	}

	// the symbols assigned by the provider compiler end up in the generated code
	var inputs []string
	if hb, ok := backend.(headerBackend); ok {
		if err = backend.Prepare(ctx, providers); err != nil {
			return Result{}, err
		}
		inputs = append(inputs, hb.Header())
	}

	cfg := opts.Config
	result := Result{Digest: Digest(source, backend.Name(), cfg, inputs...)}
	cfg.Digest = result.Digest

	files, err := codegen.Generate(ctx, providers, backend, cfg)
	if err != nil {
		return Result{}, err
	}

	if err = os.MkdirAll(opts.Output, 0755); err != nil {
		return Result{}, errors.Wrapf(ErrBuild, "couldn't create %s: %v", opts.Output, err)
	}
	for _, f := range files {
		path := filepath.Join(opts.Output, f.Name)
		if !opts.Force && upToDate(path, result.Digest) {
			logrus.Debugf("%s is up to date", path)
			result.Unchanged = append(result.Unchanged, path)
			continue
		}
		if err = ioutil.WriteFile(path, f.Content, 0644); err != nil {
			return result, errors.Wrapf(ErrBuild, "couldn't write %s: %v", path, err)
		}
		logrus.Infof("generated %s", path)
		result.Written = append(result.Written, path)
	}
	return result, nil
}

func upToDate(path, digest string) bool {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return false
	}
	return codegen.ReadDigest(content) == digest
}
