package sections

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gui774ume/usdt/pkg/abi"
	"github.com/Gui774ume/usdt/pkg/codegen"
	"github.com/Gui774ume/usdt/pkg/provider"
)

func testProvider(t *testing.T) *provider.Provider {
	bar, err := provider.NewProbe("bar", "uint8_t", "char *")
	require.NoError(t, err)
	baz, err := provider.NewProbe("baz")
	require.NoError(t, err)
	return &provider.Provider{Name: "foo", Probes: []*provider.Probe{bar, baz}}
}

func TestIsEnabledSite(t *testing.T) {
	p := testProvider(t)
	b := NewBackend()

	body, err := b.IsEnabledSite(p, p.Probes[0], abi.AMD64)
	require.NoError(t, err)
	assert.Contains(t, body, `register uint64_t enabled __asm__("rax");`)
	assert.Contains(t, body, `"990: xor %%eax, %%eax; nop; nop; nop\n"`)
	assert.Contains(t, body, `".pushsection set_dtrace_probes, \"aw\"\n"`)
	assert.Contains(t, body, `".2byte 1\n"`)
	assert.Contains(t, body, `: "=r"(enabled)`)
	assert.Contains(t, body, `"cc"`)
	assert.NotContains(t, body, `".asciz \"uint8_t\"\n"`)
	assert.True(t, strings.HasSuffix(body, "return enabled;"))

	body, err = b.IsEnabledSite(p, p.Probes[0], abi.ARM64)
	require.NoError(t, err)
	assert.Contains(t, body, `register uint64_t enabled __asm__("x0");`)
	assert.Contains(t, body, `"990: mov x0, #0\n"`)
	assert.NotContains(t, body, `"cc"`)
}

func TestProbeSite(t *testing.T) {
	p := testProvider(t)
	b := NewBackend()

	m, err := abi.Marshal(abi.AMD64, p.Probes[0].Types)
	require.NoError(t, err)
	body, err := b.ProbeSite(p, p.Probes[0], m)
	require.NoError(t, err)

	assert.Contains(t, body, `register uint64_t arg0 __asm__("rdi") = (uint64_t)(a0);`)
	assert.Contains(t, body, `register uint64_t arg1 __asm__("rsi") = (uint64_t)(a1);`)
	assert.Contains(t, body, `"990: nop; nop; nop; nop; nop\n"`)
	assert.Contains(t, body, `".byte 2\n"`)
	assert.Contains(t, body, `".asciz \"foo\"\n"`)
	assert.Contains(t, body, `".asciz \"bar\"\n"`)
	assert.Contains(t, body, `".asciz \"uint8_t\"\n"`)
	assert.Contains(t, body, `".asciz \"char *\"\n"`)
	assert.Contains(t, body, `".popsection\n"`)
	assert.True(t, strings.HasSuffix(body, `: "r"(arg0), "r"(arg1));`))

	m, err = abi.Marshal(abi.ARM64, p.Probes[1].Types)
	require.NoError(t, err)
	body, err = b.ProbeSite(p, p.Probes[1], m)
	require.NoError(t, err)
	assert.NotContains(t, body, "register uint64_t arg")
	assert.Contains(t, body, `"990: nop\n"`)
	assert.Contains(t, body, `".byte 0\n"`)
}

func TestGenerate(t *testing.T) {
	files, err := codegen.Generate(context.Background(), []*provider.Provider{testProvider(t)}, NewBackend(), codegen.Config{})
	require.NoError(t, err)
	require.Len(t, files, 2)

	sites := string(files[0].Content)
	assert.Equal(t, "foo_usdt.go", files[0].Name)
	assert.Contains(t, sites, "//go:build cgo && (linux || freebsd)")
	assert.Contains(t, sites, "// usdt:backend section")
	assert.Contains(t, sites, "#if defined(__x86_64__)")
	assert.Contains(t, sites, "#elif defined(__aarch64__)")
	assert.Contains(t, sites, "static inline uint64_t usdt_3foo_3bar_enabled(void) {")
	assert.Contains(t, sites, "static inline void usdt_3foo_3bar(uint8_t a0, const char *a1) {")
	assert.Contains(t, sites, "func FooBar(arg0 uint8, arg1 string) {")
	assert.Contains(t, sites, "func FooBazEnabled() bool {")

	stub := string(files[1].Content)
	assert.Contains(t, stub, "//go:build !(cgo && (linux || freebsd))")
	assert.NotContains(t, stub, `import "C"`)
}
