package record

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gui774ume/usdt/pkg/provider"
)

func argTypes(names ...string) []provider.DataType {
	var out []provider.DataType
	for _, name := range names {
		out = append(out, provider.MustParseDataType(name))
	}
	return out
}

func TestDirectives(t *testing.T) {
	lines := Directives("foo", "bar", argTypes("uint8_t", "char *"), false)
	expected := []string{
		`.pushsection set_dtrace_probes, "aw"`,
		".balign 8",
		"991:",
		".4byte 992f - 991b",
		".byte 1",
		".byte 2",
		".2byte 0",
		".8byte 990b",
		`.asciz "foo"`,
		`.asciz "bar"`,
		`.asciz "uint8_t"`,
		`.asciz "char *"`,
		".balign 8",
		"992:",
		".popsection",
	}
	assert.Equal(t, expected, lines)

	lines = Directives("foo", "bar", nil, true)
	assert.Contains(t, lines, ".2byte 1")
	assert.Contains(t, lines, ".byte 0")
	assert.NotContains(t, lines, `.asciz "uint8_t"`)
}

func TestRecordLayout(t *testing.T) {
	rec := Record{Provider: "foo", Probe: "bar", Address: 0x1234, Arguments: argTypes("uint8_t")}
	data, err := rec.MarshalBinary()
	require.NoError(t, err)

	// 16 bytes of header followed by "foo\0bar\0uint8_t\0", already aligned
	require.Len(t, data, 32)
	assert.Equal(t, uint32(32), binary.LittleEndian.Uint32(data[0:4]))
	assert.Equal(t, byte(Version), data[4])
	assert.Equal(t, byte(1), data[5])
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(data[6:8]))
	assert.Equal(t, uint64(0x1234), binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, "foo\x00bar\x00uint8_t\x00", string(data[16:32]))

	var decoded Record
	read, err := decoded.UnmarshalBinary(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), read)
	assert.Equal(t, rec, decoded)
}

func TestProcessSection(t *testing.T) {
	data, err := Encode(
		Record{Provider: "foo", Probe: "bar", Address: 0x1000, IsEnabled: true},
		Record{Provider: "foo", Probe: "bar", Address: 0x1010, Arguments: argTypes("uint8_t", "char *")},
		Record{Provider: "foo", Probe: "baz", Address: 0x2000, IsEnabled: true},
		Record{Provider: "foo", Probe: "baz", Address: 0x2008},
		Record{Provider: "other", Probe: "qux", Address: 0x3000, Arguments: argTypes("int64_t *")},
	)
	require.NoError(t, err)
	// padding added by the linker between two objects
	data = append(data, make([]byte, 8)...)

	section, err := ProcessSection(data)
	require.NoError(t, err)
	require.NotNil(t, section)
	require.Len(t, section.Providers, 2)
	assert.Equal(t, 3, section.ProbeCount())

	bar := section.Providers["foo"].Probes["bar"]
	require.NotNil(t, bar)
	assert.Equal(t, []uint64{0x1010}, bar.Addresses)
	assert.Equal(t, []uint64{0x1000}, bar.EnabledAddresses)
	assert.Equal(t, argTypes("uint8_t", "char *"), bar.Arguments)
	assert.Equal(t, uint64(0x1000), bar.FirstAddress())

	assert.Same(t, bar, section.FirstProbe())
	assert.Equal(t, "foo", section.SortedProviders()[0].Name)
	assert.Equal(t, "baz", section.SortedProviders()[0].SortedProbes()[1].Name)

	section.Relocate(0x10000)
	assert.Equal(t, []uint64{0x11010}, bar.Addresses)
	assert.Equal(t, []uint64{0x11000}, bar.EnabledAddresses)
}

func TestProcessSectionEmpty(t *testing.T) {
	section, err := ProcessSection(nil)
	assert.NoError(t, err)
	assert.Nil(t, section)

	section, err = ProcessSection(make([]byte, 16))
	assert.NoError(t, err)
	assert.Nil(t, section)
}

func TestProcessSectionMalformed(t *testing.T) {
	valid, err := Encode(Record{Provider: "foo", Probe: "bar", Address: 0x1000, Arguments: argTypes("uint8_t")})
	require.NoError(t, err)

	badVersion := append([]byte{}, valid...)
	badVersion[4] = 42

	tooLong := append([]byte{}, valid...)
	binary.LittleEndian.PutUint32(tooLong[0:4], 4096)

	tooShort := append([]byte{}, valid...)
	binary.LittleEndian.PutUint32(tooShort[0:4], 8)

	missingStrings := append([]byte{}, valid...)
	missingStrings[5] = 9

	badType, err := Encode(Record{Provider: "foo", Probe: "bar", Arguments: argTypes("uint8_t")})
	require.NoError(t, err)
	copy(badType[24:31], "float\x00\x00")

	conflicting, err := Encode(
		Record{Provider: "foo", Probe: "bar", Address: 0x1000, Arguments: argTypes("uint8_t")},
		Record{Provider: "foo", Probe: "bar", Address: 0x2000, Arguments: argTypes("uint16_t")},
	)
	require.NoError(t, err)

	tests := map[string][]byte{
		"truncated header":  valid[:12],
		"truncated record":  valid[:len(valid)-8],
		"bad version":       badVersion,
		"length overflow":   tooLong,
		"length underflow":  tooShort,
		"missing strings":   missingStrings,
		"unknown type":      badType,
		"conflicting types": conflicting,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			section, err := ProcessSection(data)
			assert.Nil(t, section)
			assert.True(t, errors.Is(err, ErrMalformedRecord), "%v", err)
		})
	}
}
