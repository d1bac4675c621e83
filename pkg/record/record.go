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
	"fmt"
	"strings"

	"github.com/Gui774ume/usdt/pkg/provider"
)

const (
	// SectionName is the writable section holding the probe records
	SectionName = "set_dtrace_probes"
	// StartSymbol is the linker provided symbol at the start of the section
	StartSymbol = "__start_" + SectionName
	// StopSymbol is the linker provided symbol at the end of the section
	StopSymbol = "__stop_" + SectionName

	// Version is the version of the record layout
	Version = 1
	// FlagIsEnabled marks the record of an is-enabled site
	FlagIsEnabled = 1 << 0

	// SiteLabel is the local label of the instrumented instruction described by a record
	SiteLabel = "990"

	// headerSize is length (u32), version (u8), nargs (u8), flags (u16) and the site address (u64)
	headerSize = 16
	alignment  = 8
)

// Directives returns the assembler directives appending the record of the site labelled SiteLabel
// to the probe section. The address of the site is left as a relocation.
func Directives(providerName, probeName string, types []provider.DataType, isEnabled bool) []string {
	var flags int
	if isEnabled {
		flags |= FlagIsEnabled
	}
	lines := []string{
		fmt.Sprintf(`.pushsection %s, "aw"`, SectionName),
		fmt.Sprintf(".balign %d", alignment),
		"991:",
		".4byte 992f - 991b",
		fmt.Sprintf(".byte %d", Version),
		fmt.Sprintf(".byte %d", len(types)),
		fmt.Sprintf(".2byte %d", flags),
		fmt.Sprintf(".8byte %sb", SiteLabel),
		asciz(providerName),
		asciz(probeName),
	}
	for _, dt := range types {
		lines = append(lines, asciz(dt.CType()))
	}
	lines = append(lines,
		fmt.Sprintf(".balign %d", alignment),
		"992:",
		".popsection",
	)
	return lines
}

func asciz(s string) string {
	return `.asciz "` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
