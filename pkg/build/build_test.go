package build

import (
	"context"
	"errors"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gui774ume/usdt/pkg/codegen"
	"github.com/Gui774ume/usdt/pkg/linker"
	"github.com/Gui774ume/usdt/pkg/provider"
	"github.com/Gui774ume/usdt/pkg/sections"
)

const definition = `providers:
  - name: foo
    declarations:
      - "#include <stdlib.h>"
    probes:
      - name: bar
        args: [uint8_t, "char *"]
      - name: baz
  - name: other
    probes:
      - name: qux
        args: ["int64_t *"]
`

type fakeCompiler struct{}

func (fakeCompiler) Header(_ context.Context, _ string) (string, error) {
	return "", linker.ErrBuild
}

// headerCompiler returns the provider header of the definition, with a typedefs symbol of the provided version
type headerCompiler struct {
	version string
	runs    int
}

func (c *headerCompiler) Header(_ context.Context, _ string) (string, error) {
	c.runs++
	return `#define FOO_STABILITY "___dtrace_stability$foo$v1$1_1_0_1_1_0_1_1_0_1_1_0_1_1_0"
#define FOO_TYPEDEFS "___dtrace_typedefs$foo$` + c.version + `"
extern int __dtrace_isenabled$foo$bar$v1(void);
extern void __dtrace_probe$foo$bar$v1$75696e74385f74$63686172202a(uint8_t, char *);
extern int __dtrace_isenabled$foo$baz$v1(void);
extern void __dtrace_probe$foo$baz$v1(void);
#define OTHER_STABILITY "___dtrace_stability$other$v1$1_1_0_1_1_0_1_1_0_1_1_0_1_1_0"
#define OTHER_TYPEDEFS "___dtrace_typedefs$other$` + c.version + `"
extern int __dtrace_isenabled$other$qux$v1(void);
extern void __dtrace_probe$other$qux$v1$696e7436345f74202a(int64_t *);
`, nil
}

func writeDefinition(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "probes.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParse(t *testing.T) {
	providers, err := Parse([]byte(definition))
	require.NoError(t, err)
	require.Len(t, providers, 2)

	foo := providers[0]
	assert.Equal(t, "foo", foo.Name)
	assert.Equal(t, []string{"#include <stdlib.h>"}, foo.Declarations)
	require.Len(t, foo.Probes, 2)
	assert.Equal(t, []provider.DataType{provider.MustParseDataType("uint8_t"), provider.MustParseDataType("char *")}, foo.Probes[0].Types)
	assert.Empty(t, foo.Probes[1].Types)
	assert.Equal(t, "other", providers[1].Name)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":             "providers: [",
		"unknown field":      "providers:\n  - name: foo\n    probs: []\n",
		"unknown type":       "providers:\n  - name: foo\n    probes:\n      - name: bar\n        args: [float]\n",
		"invalid name":       "providers:\n  - name: foo-bar\n",
		"duplicate probe":    "providers:\n  - name: foo\n    probes:\n      - name: bar\n      - name: bar\n",
		"duplicate provider": "providers:\n  - name: foo\n  - name: foo\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.True(t, errors.Is(err, provider.ErrParse), "%v", err)
		})
	}
}

func TestBackendFor(t *testing.T) {
	backend, err := BackendFor(BackendAuto, "linux", nil)
	require.NoError(t, err)
	assert.Equal(t, sections.BackendName, backend.Name())

	backend, err = BackendFor("", "darwin", nil)
	require.NoError(t, err)
	assert.Equal(t, linker.BackendName, backend.Name())

	backend, err = BackendFor(BackendLinker, "linux", nil)
	require.NoError(t, err)
	assert.Equal(t, linker.BackendName, backend.Name())

	_, err = BackendFor("plugin", "linux", nil)
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestDigest(t *testing.T) {
	cfg := codegen.Config{Package: "probes"}
	digest := Digest([]byte(definition), sections.BackendName, cfg)
	assert.Len(t, digest, 64)
	assert.Equal(t, digest, Digest([]byte(definition), sections.BackendName, cfg))
	assert.NotEqual(t, digest, Digest([]byte(definition), linker.BackendName, cfg))
	assert.NotEqual(t, digest, Digest([]byte(definition+"\n"), sections.BackendName, cfg))
	cfg.AutoRegister = true
	assert.NotEqual(t, digest, Digest([]byte(definition), sections.BackendName, cfg))
	assert.NotEqual(t, digest, Digest([]byte(definition), sections.BackendName, cfg, "header"))
	assert.NotEqual(t,
		Digest([]byte(definition), linker.BackendName, cfg, "a", "bc"),
		Digest([]byte(definition), linker.BackendName, cfg, "ab", "c"))
}

func TestGenerateLinkerHeader(t *testing.T) {
	source := writeDefinition(t, definition)
	output := t.TempDir()
	compiler := &headerCompiler{version: "v2"}
	opts := Options{
		Source:   source,
		Output:   output,
		Backend:  BackendLinker,
		Compiler: compiler,
	}

	first, err := Generate(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, first.Written, 4)
	// the header is shared by the digest and the generation
	assert.Equal(t, 1, compiler.runs)

	content, err := ioutil.ReadFile(filepath.Join(output, "foo_usdt.go"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "__dtrace_typedefs$foo$v2")

	result, err := Generate(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, result.Unchanged, 4)

	// new symbols from the provider compiler make the files stale
	compiler.version = "v3"
	result, err = Generate(context.Background(), opts)
	require.NoError(t, err)
	assert.NotEqual(t, first.Digest, result.Digest)
	assert.Len(t, result.Written, 4)

	content, err = ioutil.ReadFile(filepath.Join(output, "foo_usdt.go"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "__dtrace_typedefs$foo$v3")
}

func TestGenerate(t *testing.T) {
	source := writeDefinition(t, definition)
	output := filepath.Join(t.TempDir(), "probes")
	opts := Options{
		Source:  source,
		Output:  output,
		Backend: BackendSection,
		Config:  codegen.Config{AutoRegister: true},
	}

	result, err := Generate(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, result.Written, 5)
	assert.Empty(t, result.Unchanged)

	content, err := ioutil.ReadFile(filepath.Join(output, "foo_usdt.go"))
	require.NoError(t, err)
	assert.Equal(t, result.Digest, codegen.ReadDigest(content))
	assert.Contains(t, string(content), "func FooBar(arg0 uint8, arg1 string) {")

	result, err = Generate(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, result.Written)
	assert.Len(t, result.Unchanged, 5)

	opts.Force = true
	result, err = Generate(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, result.Written, 5)

	// a new option changes the digest
	opts.Force = false
	opts.ProbeFormat = "{probe}"
	result, err = Generate(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, result.Written, 5)
}

func TestGenerateErrors(t *testing.T) {
	_, err := Generate(context.Background(), Options{Source: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	source := writeDefinition(t, definition)
	_, err = Generate(context.Background(), Options{
		Source:   source,
		Output:   t.TempDir(),
		Backend:  BackendLinker,
		Compiler: fakeCompiler{},
	})
	assert.True(t, errors.Is(err, ErrBuild))

	// the output path is a file
	_, err = Generate(context.Background(), Options{Source: source, Output: source, Backend: BackendSection})
	assert.True(t, errors.Is(err, ErrBuild))
}
