package usdt

import (
	"debug/elf"
	"errors"
	"io/ioutil"
	"os"
	"reflect"
	"runtime"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gui774ume/usdt/pkg/dof"
	"github.com/Gui774ume/usdt/pkg/provider"
	"github.com/Gui774ume/usdt/pkg/record"
)

type fakeResolver struct {
	infos map[uint64]AddrInfo
}

func (r *fakeResolver) Resolve(addr uint64) (AddrInfo, error) {
	if info, ok := r.infos[addr]; ok {
		return info, nil
	}
	return AddrInfo{}, ErrUnresolved
}

type fakeDevice struct {
	opens   int
	helpers []dof.Helper
	openErr error
	addErr  error
	closed  int
}

func (d *fakeDevice) open() (Device, error) {
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d, nil
}

func (d *fakeDevice) AddDOF(h *dof.Helper) error {
	d.helpers = append(d.helpers, *h)
	return d.addErr
}

func (d *fakeDevice) Close() error {
	d.closed++
	return nil
}

func testFixture(t *testing.T) *Fixture {
	fixture, err := NewFixture(
		record.Record{Provider: "foo", Probe: "bar", Address: 0x401010, IsEnabled: true},
		record.Record{Provider: "foo", Probe: "bar", Address: 0x401020, Arguments: []provider.DataType{provider.MustParseDataType("uint8_t")}},
	)
	require.NoError(t, err)
	return fixture
}

func testResolver() *fakeResolver {
	return &fakeResolver{infos: map[uint64]AddrInfo{
		0x401010: {Path: "/usr/local/bin/server", Function: "main.serve", FunctionStart: 0x401000},
		0x401020: {Path: "/usr/local/bin/server", Function: "main.fire", FunctionStart: 0x401018},
	}}
}

func TestRegister(t *testing.T) {
	device := &fakeDevice{}
	r := &Registrar{Source: testFixture(t), Resolver: testResolver(), OpenDevice: device.open}

	require.NoError(t, r.Register())
	require.Len(t, device.helpers, 1)
	assert.Equal(t, "server", device.helpers[0].Module())
	assert.NotZero(t, device.helpers[0].DOF)
	assert.Equal(t, 1, device.closed)

	// the second call has no side effect
	require.NoError(t, r.Register())
	assert.Equal(t, 1, device.opens)
	assert.Len(t, device.helpers, 1)
}

func TestRegisterEmpty(t *testing.T) {
	device := &fakeDevice{}
	for _, source := range []Source{&Fixture{}, &Fixture{Data: make([]byte, 16)}, LinkedSection{}} {
		r := &Registrar{Source: source, Resolver: testResolver(), OpenDevice: device.open}
		if source == (LinkedSection{}) && len(linkedSection()) > 0 {
			continue
		}
		assert.NoError(t, r.Register())
	}
	assert.Zero(t, device.opens)
}

func TestRegisterErrors(t *testing.T) {
	openErr := &RegistrationError{Op: "open", Err: &os.PathError{Op: "open", Path: dof.HelperDevice, Err: syscall.ENOENT}}
	device := &fakeDevice{openErr: openErr}
	r := &Registrar{Source: testFixture(t), Resolver: testResolver(), OpenDevice: device.open}
	err := r.Register()
	var regErr *RegistrationError
	require.True(t, errors.As(err, &regErr))
	assert.Equal(t, "open", regErr.Op)
	assert.True(t, errors.Is(err, syscall.ENOENT))
	var pathErr *os.PathError
	assert.True(t, errors.As(err, &pathErr))

	// the failure is sticky
	assert.Equal(t, err, r.Register())
	assert.Equal(t, 1, device.opens)

	device = &fakeDevice{addErr: &RegistrationError{Op: "ioctl", Err: syscall.EINVAL}}
	r = &Registrar{Source: testFixture(t), Resolver: testResolver(), OpenDevice: device.open}
	err = r.Register()
	assert.True(t, errors.Is(err, syscall.EINVAL))
	assert.Equal(t, 1, device.closed)

	fixture := testFixture(t)
	fixture.Data[4] = 42
	r = &Registrar{Source: fixture, Resolver: testResolver(), OpenDevice: (&fakeDevice{}).open}
	assert.True(t, errors.Is(r.Register(), record.ErrMalformedRecord))

	sourceErr := errors.New("no such file")
	r = &Registrar{Source: &Fixture{Err: sourceErr}, OpenDevice: (&fakeDevice{}).open}
	assert.True(t, errors.Is(r.Register(), sourceErr))
}

func TestRegisterRecoversPanics(t *testing.T) {
	r := &Registrar{Source: testFixture(t), Resolver: testResolver(), OpenDevice: func() (Device, error) {
		panic("boom")
	}}
	var err error
	assert.NotPanics(t, func() {
		err = r.Register()
	})
	var regErr *RegistrationError
	assert.True(t, errors.As(err, &regErr))
}

func TestInspect(t *testing.T) {
	section, err := Inspect(testFixture(t), testResolver())
	require.NoError(t, err)
	bar := section.Providers["foo"].Probes["bar"]
	assert.Equal(t, "main.fire", bar.Function)
	assert.Equal(t, uint64(0x401018), bar.Base)
	assert.Equal(t, "main.serve", bar.EnabledFunction)

	// only the is-enabled site resolves
	resolver := &fakeResolver{infos: map[uint64]AddrInfo{
		0x401010: {Path: "/usr/local/bin/server", Function: "main.serve", FunctionStart: 0x401000},
	}}
	section, err = Inspect(testFixture(t), resolver)
	require.NoError(t, err)
	bar = section.Providers["foo"].Probes["bar"]
	assert.Empty(t, bar.Function)
	assert.Zero(t, bar.Base)
	assert.Equal(t, "main.serve", bar.EnabledFunction)

	section, err = Inspect(testFixture(t), nil)
	require.NoError(t, err)
	assert.Empty(t, section.Providers["foo"].Probes["bar"].Function)

	section, err = Inspect(&Fixture{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, section)
}

func TestModuleName(t *testing.T) {
	section, err := Inspect(testFixture(t), nil)
	require.NoError(t, err)

	assert.Equal(t, "server", ModuleName(section, testResolver()))
	assert.Equal(t, "?0x401010", ModuleName(section, &fakeResolver{}))
	assert.Equal(t, "?0x401010", ModuleName(section, nil))
	assert.Equal(t, UnknownModule, ModuleName(record.NewSection(), testResolver()))
	assert.Equal(t, UnknownModule, ModuleName(nil, nil))

	long := &fakeResolver{infos: map[uint64]AddrInfo{0x401010: {Path: "/bin/" + strings.Repeat("x", 100)}}}
	assert.Equal(t, strings.Repeat("x", dof.ModuleNameLen-1), ModuleName(section, long))
}

func TestRegistrationError(t *testing.T) {
	err := &RegistrationError{Op: "ioctl", Err: syscall.EPERM}
	assert.Contains(t, err.Error(), "ioctl")
	assert.True(t, errors.Is(err, syscall.EPERM))
}

func TestFileResolver(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("the test binary isn't an ELF file")
	}
	path, err := os.Executable()
	require.NoError(t, err)
	resolver, err := NewFileResolver(path)
	require.NoError(t, err)

	var fn elf.Symbol
	for _, sym := range resolver.symbols {
		if elf.ST_TYPE(sym.Info) == elf.STT_FUNC && sym.Size > 1 {
			fn = sym
			break
		}
	}
	require.NotEmpty(t, fn.Name)

	info, err := resolver.Resolve(fn.Value + 1)
	require.NoError(t, err)
	assert.Equal(t, path, info.Path)
	assert.Equal(t, fn.Value, info.FunctionStart)
	assert.NotEmpty(t, info.Function)

	_, err = NewFileResolver("/nonexistent")
	assert.Error(t, err)
}

func openFiles(t *testing.T) int {
	fds, err := ioutil.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	return len(fds)
}

func TestProcResolverClosesFiles(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("needs procfs")
	}
	resolver := NewProcResolver(os.Getpid())
	addr := uint64(reflect.ValueOf(TestProcResolverClosesFiles).Pointer())

	before := openFiles(t)
	info, err := resolver.Resolve(addr)
	require.NoError(t, err)
	assert.NotEmpty(t, info.Path)
	assert.Contains(t, info.Function, "TestProcResolverClosesFiles")
	assert.Equal(t, before, openFiles(t))

	syms := resolver.files[info.Path]
	require.NotNil(t, syms)
	assert.NotEmpty(t, syms.progs)
}
