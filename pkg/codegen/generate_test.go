package codegen

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gui774ume/usdt/pkg/abi"
	"github.com/Gui774ume/usdt/pkg/provider"
)

type fakeBackend struct {
	prepared   []string
	prepareErr error
}

func (b *fakeBackend) Name() string {
	return "fake"
}

func (b *fakeBackend) BuildConstraint() string {
	return "cgo && linux"
}

func (b *fakeBackend) Prepare(_ context.Context, providers []*provider.Provider) error {
	for _, p := range providers {
		b.prepared = append(b.prepared, p.Name)
	}
	return b.prepareErr
}

func (b *fakeBackend) ProviderDeclarations(p *provider.Provider) (string, error) {
	return "// provider " + p.Name, nil
}

func (b *fakeBackend) ProbeDeclarations(p *provider.Provider, probe *provider.Probe) (string, error) {
	return "// probe " + p.Name + ":" + probe.Name, nil
}

func (b *fakeBackend) IsEnabledSite(_ *provider.Provider, _ *provider.Probe, arch abi.Arch) (string, error) {
	return "\treturn 0; // " + arch.String(), nil
}

func (b *fakeBackend) ProbeSite(_ *provider.Provider, _ *provider.Probe, m abi.Marshaling) (string, error) {
	return "\t__asm__ __volatile__(\"\" : : " + m.Constraints() + ");", nil
}

func newProvider(t *testing.T, name string, probes map[string][]string, order ...string) *provider.Provider {
	p := &provider.Provider{Name: name}
	for _, probeName := range order {
		probe, err := provider.NewProbe(probeName, probes[probeName]...)
		require.NoError(t, err)
		p.Probes = append(p.Probes, probe)
	}
	return p
}

func TestGenerate(t *testing.T) {
	p := newProvider(t, "foo", map[string][]string{
		"start": {"uint8_t", "char *"},
		"stop":  {"int64_t *"},
		"tick":  {},
	}, "start", "stop", "tick")
	p.Declarations = []string{"#include <stdlib.h>"}

	backend := &fakeBackend{}
	files, err := Generate(context.Background(), []*provider.Provider{p}, backend, Config{Digest: "abcdef"})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, []string{"foo"}, backend.prepared)

	sites := string(files[0].Content)
	assert.Equal(t, "foo_usdt.go", files[0].Name)
	assert.Contains(t, sites, GeneratedHeader)
	assert.Contains(t, sites, "//go:build cgo && linux")
	assert.Contains(t, sites, "package probes")
	assert.Contains(t, sites, "#include <stdlib.h>")
	assert.Contains(t, sites, "// provider foo")
	assert.Contains(t, sites, "// probe foo:start")
	assert.Contains(t, sites, "return 0; // amd64")
	assert.Contains(t, sites, "return 0; // arm64")
	assert.Contains(t, sites, `#error "usdt: unsupported architecture"`)
	assert.Contains(t, sites, `import "unsafe"`)

	assert.Contains(t, sites, "func FooStart(arg0 uint8, arg1 string) {")
	assert.Contains(t, sites, "if C.usdt_3foo_5start_enabled() == 0 {")
	assert.Contains(t, sites, "a0 := C.uint8_t(arg0)")
	assert.Contains(t, sites, "a1 := make([]byte, len(arg1)+1)")
	assert.Contains(t, sites, "C.usdt_3foo_5start(a0, (*C.char)(unsafe.Pointer(&a1[0])))")
	assert.Contains(t, sites, "func FooStop(arg0 *int64) {")
	assert.Contains(t, sites, "a0 := unsafe.Pointer(arg0)")
	assert.Contains(t, sites, "func FooTick() {")
	assert.Contains(t, sites, "C.usdt_3foo_4tick()")
	assert.Contains(t, sites, "func FooTickEnabled() bool {")
	assert.Equal(t, "abcdef", ReadDigest(files[0].Content))

	stub := string(files[1].Content)
	assert.Equal(t, "foo_usdt_stub.go", files[1].Name)
	assert.Contains(t, stub, "//go:build !(cgo && linux)")
	assert.Contains(t, stub, "func FooStart(arg0 uint8, arg1 string) {}")
	assert.NotContains(t, stub, `import "C"`)
	assert.Equal(t, "abcdef", ReadDigest(files[1].Content))
}

func TestGenerateIntegersOnly(t *testing.T) {
	p := newProvider(t, "foo", map[string][]string{"bar": {"uint32_t"}}, "bar")
	files, err := Generate(context.Background(), []*provider.Provider{p}, &fakeBackend{}, Config{Package: "trace"})
	require.NoError(t, err)
	sites := string(files[0].Content)
	assert.Contains(t, sites, "package trace")
	assert.NotContains(t, sites, `import "unsafe"`)
	assert.Empty(t, ReadDigest(files[0].Content))
}

func TestGenerateAutoRegister(t *testing.T) {
	p := newProvider(t, "foo", map[string][]string{"bar": {}}, "bar")
	files, err := Generate(context.Background(), []*provider.Provider{p}, &fakeBackend{}, Config{AutoRegister: true})
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "usdt_register.go", files[2].Name)
	assert.Contains(t, string(files[2].Content), `"github.com/Gui774ume/usdt/pkg/usdt"`)
	assert.Contains(t, string(files[2].Content), "_ = usdt.Register()")
}

func TestGenerateProbeFormat(t *testing.T) {
	p := newProvider(t, "foo", map[string][]string{"bar_baz": {}}, "bar_baz")
	files, err := Generate(context.Background(), []*provider.Provider{p}, &fakeBackend{}, Config{ProbeFormat: "probe_{probe}"})
	require.NoError(t, err)
	assert.Contains(t, string(files[0].Content), "func ProbeBarBaz() {")
}

func TestGenerateZeroProbes(t *testing.T) {
	p := &provider.Provider{Name: "empty"}
	files, err := Generate(context.Background(), []*provider.Provider{p}, &fakeBackend{}, Config{})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.NotContains(t, string(files[0].Content), "func ")
}

func TestGenerateErrors(t *testing.T) {
	p := newProvider(t, "foo", map[string][]string{"bar": {}}, "bar")
	p.Declarations = []string{"int x; */ int y;"}
	_, err := Generate(context.Background(), []*provider.Provider{p}, &fakeBackend{}, Config{})
	assert.True(t, errors.Is(err, ErrInvalidDeclaration))
	assert.True(t, errors.Is(err, provider.ErrParse))

	prepareErr := errors.New("compiler failed")
	p = newProvider(t, "foo", map[string][]string{"bar": {}}, "bar")
	_, err = Generate(context.Background(), []*provider.Provider{p}, &fakeBackend{prepareErr: prepareErr}, Config{})
	assert.True(t, errors.Is(err, prepareErr))

	types := []string{"uint8_t", "uint8_t", "uint8_t", "uint8_t", "uint8_t", "uint8_t", "uint8_t"}
	p = newProvider(t, "foo", map[string][]string{"bar": types}, "bar")
	_, err = Generate(context.Background(), []*provider.Provider{p}, &fakeBackend{}, Config{})
	assert.True(t, errors.Is(err, abi.ErrTooManyArguments))

	_, err = Generate(context.Background(), []*provider.Provider{p}, &fakeBackend{}, Config{Archs: []abi.Arch{abi.ARM64}})
	assert.NoError(t, err)
}

func TestGenerateDuplicateIdents(t *testing.T) {
	tests := map[string]struct {
		providers []*provider.Provider
		ident     string
	}{
		"same provider": {
			providers: []*provider.Provider{
				newProvider(t, "x", nil, "foo_bar", "fooBar"),
			},
			ident: "XFooBar",
		},
		"across providers": {
			providers: []*provider.Provider{
				newProvider(t, "a_b", nil, "c"),
				newProvider(t, "a", nil, "b_c"),
			},
			ident: "ABC",
		},
		"enabled suffix": {
			providers: []*provider.Provider{
				newProvider(t, "foo", nil, "bar", "bar_enabled"),
			},
			ident: "FooBarEnabled",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Generate(context.Background(), tt.providers, &fakeBackend{}, Config{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDuplicateIdent))
			assert.True(t, errors.Is(err, provider.ErrParse))
			assert.Contains(t, err.Error(), tt.ident)
		})
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "FooBar", CamelCase("foo_bar"))
	assert.Equal(t, "FooBarBaz", CamelCase("foo__bar-baz"))
	assert.Equal(t, "P1foo", CamelCase("1foo"))
	assert.Equal(t, "P", CamelCase("__"))

	assert.Equal(t, "usdt_3foo_3bar", CIdent("foo", "bar"))
	assert.Equal(t, "usdt_3foo_3bar_enabled", CIdent("foo", "bar", "enabled"))
	assert.NotEqual(t, CIdent("a_b", "c"), CIdent("a", "b_c"))

	assert.Equal(t, `"a \"b\"\\\n"`, QuoteC("a \"b\"\\\n"))
	assert.Equal(t, "\t\"nop\\n\"\n\t\"nop\\n\"", AsmTemplate("\t", "nop", "nop"))
}
