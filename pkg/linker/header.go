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

package linker

import (
	"strings"
)

// Needles of the four kinds of lines of a generated provider header. For example:
//
//	#define FOO_STABILITY "___dtrace_stability$foo$v1$1_1_0_1_1_0_1_1_0_1_1_0_1_1_0"
//	#define FOO_TYPEDEFS "___dtrace_typedefs$foo$v2"
//	extern int __dtrace_isenabled$foo$bar$v1(void);
//	extern void __dtrace_probe$foo$bar$v1(uint8_t, char *);
const (
	stabilityNeedle = "___dtrace_stability$"
	typedefsNeedle  = "___dtrace_typedefs$"
	isEnabledNeedle = "extern int __dtrace_isenabled$"
	probeNeedle     = "extern void __dtrace_probe$"
)

// ParseStabilityLine returns the provider and the stability symbol of a stability line
func ParseStabilityLine(line string) (string, string, bool) {
	return parseMarker(line, stabilityNeedle)
}

// ParseTypedefsLine returns the provider and the typedefs symbol of a typedefs line
func ParseTypedefsLine(line string) (string, string, bool) {
	return parseMarker(line, typedefsNeedle)
}

// ParseIsEnabledLine returns the provider, the probe and the is-enabled symbol of an is-enabled declaration
func ParseIsEnabledLine(line string) (string, string, string, bool) {
	return parseExtern(line, isEnabledNeedle)
}

// ParseProbeLine returns the provider, the probe and the probe symbol of a probe declaration
func ParseProbeLine(line string) (string, string, string, bool) {
	return parseExtern(line, probeNeedle)
}

// parseMarker extracts a symbol quoted in a #define. The symbol starts one character into the needle: the compiler
// prepends an underscore to the symbol names, so the leading one is dropped here and added back during compilation.
func parseMarker(line, needle string) (string, string, bool) {
	index := strings.Index(line, needle)
	if index < 0 {
		return "", "", false
	}
	rest := line[index+len(needle):]
	end := strings.IndexByte(rest, '$')
	if end < 0 {
		return "", "", false
	}
	// the last character of the line is the closing quote
	if index+1 > len(line)-1 {
		return "", "", false
	}
	return rest[:end], line[index+1 : len(line)-1], true
}

// parseExtern extracts the function name of an extern declaration
func parseExtern(line, needle string) (string, string, string, bool) {
	index := strings.Index(line, needle)
	if index < 0 {
		return "", "", "", false
	}
	rest := line[index+len(needle):]
	end := strings.IndexByte(rest, '$')
	if end < 0 {
		return "", "", "", false
	}
	providerName := rest[:end]

	rest = rest[end+1:]
	end = strings.IndexByte(rest, '$')
	if end < 0 {
		return "", "", "", false
	}
	probeName := rest[:end]

	// "extern <type> <symbol>(...);", the symbol starts with the last word of the needle
	start := index + strings.LastIndexByte(needle, ' ') + 1
	stop := strings.LastIndexByte(line, '(')
	if stop <= start {
		return "", "", "", false
	}
	return providerName, probeName, line[start:stop], true
}
