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

package record

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/Gui774ume/usdt/pkg/provider"
)

// ErrMalformedRecord is returned when the probe section can't be decoded. It means that the binary was built with
// an incompatible version of the generator, or that the section was corrupted.
var ErrMalformedRecord = errors.New("malformed probe record")

// Record is a single probe site record
type Record struct {
	Provider  string
	Probe     string
	Address   uint64
	IsEnabled bool
	Arguments []provider.DataType
}

// MarshalBinary encodes the record with the layout emitted by Directives
func (r Record) MarshalBinary() ([]byte, error) {
	if len(r.Arguments) > 0xff {
		return nil, errors.Errorf("too many arguments: %d", len(r.Arguments))
	}
	var buf bytes.Buffer
	buf.Write(make([]byte, headerSize))
	for _, s := range []string{r.Provider, r.Probe} {
		buf.WriteString(s)
		buf.WriteByte(0)
	}
	for _, dt := range r.Arguments {
		buf.WriteString(dt.CType())
		buf.WriteByte(0)
	}
	for buf.Len()%alignment != 0 {
		buf.WriteByte(0)
	}

	data := buf.Bytes()
	var flags uint16
	if r.IsEnabled {
		flags |= FlagIsEnabled
	}
	binary.LittleEndian.PutUint32(data[0:4], uint32(len(data)))
	data[4] = Version
	data[5] = uint8(len(r.Arguments))
	binary.LittleEndian.PutUint16(data[6:8], flags)
	binary.LittleEndian.PutUint64(data[8:16], r.Address)
	return data, nil
}

// UnmarshalBinary decodes a record, it returns the number of bytes read
func (r *Record) UnmarshalBinary(data []byte) (int, error) {
	if len(data) < headerSize {
		return 0, errors.Wrapf(ErrMalformedRecord, "truncated header: %d bytes left", len(data))
	}
	length := int(binary.LittleEndian.Uint32(data[0:4]))
	if length < headerSize || length > len(data) {
		return 0, errors.Wrapf(ErrMalformedRecord, "invalid record length %d (%d bytes left)", length, len(data))
	}
	if data[4] != Version {
		return 0, errors.Wrapf(ErrMalformedRecord, "unknown record version %d", data[4])
	}
	nargs := int(data[5])
	flags := binary.LittleEndian.Uint16(data[6:8])
	r.Address = binary.LittleEndian.Uint64(data[8:16])
	r.IsEnabled = flags&FlagIsEnabled != 0

	strs := data[headerSize:length]
	var fields []string
	for len(fields) < 2+nargs {
		end := bytes.IndexByte(strs, 0)
		if end < 0 {
			return 0, errors.Wrapf(ErrMalformedRecord, "truncated strings, expected %d got %d", 2+nargs, len(fields))
		}
		fields = append(fields, string(strs[:end]))
		strs = strs[end+1:]
	}
	r.Provider, r.Probe = fields[0], fields[1]
	if len(r.Provider) == 0 || len(r.Probe) == 0 {
		return 0, errors.Wrap(ErrMalformedRecord, "empty provider or probe name")
	}

	r.Arguments = nil
	for _, name := range fields[2:] {
		dt, err := provider.ParseDataType(name)
		if err != nil {
			return 0, errors.Wrapf(ErrMalformedRecord, "%s:%s: %v", r.Provider, r.Probe, err)
		}
		r.Arguments = append(r.Arguments, dt)
	}
	return length, nil
}

// ProcessSection decodes the raw content of the probe section. It returns nil when the section holds no record.
func ProcessSection(data []byte) (*Section, error) {
	section := NewSection()
	for cursor := 0; cursor < len(data); {
		rest := data[cursor:]
		if len(rest) < 4 && bytes.Count(rest, []byte{0}) == len(rest) {
			break
		}
		// zero words are padding between the sections of two objects
		if len(rest) >= 4 && binary.LittleEndian.Uint32(rest[0:4]) == 0 {
			cursor += 4
			continue
		}

		var rec Record
		read, err := rec.UnmarshalBinary(rest)
		if err != nil {
			return nil, errors.Wrapf(err, "record at offset %d", cursor)
		}
		if err = section.AddSite(rec); err != nil {
			return nil, err
		}
		cursor += read
	}

	if len(section.Providers) == 0 {
		return nil, nil
	}
	return section, nil
}

// Encode concatenates the binary form of the provided records, as a linker would lay them out in the probe section
func Encode(records ...Record) ([]byte, error) {
	var out []byte
	for _, rec := range records {
		data, err := rec.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}
