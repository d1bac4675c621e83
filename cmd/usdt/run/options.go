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

package run

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Gui774ume/usdt/pkg/build"
	"github.com/Gui774ume/usdt/pkg/stat"
)

// Expansion formats
const (
	FormatD  = "d"
	FormatGo = "go"
)

// CLIOptions are the command line options of usdt
type CLIOptions struct {
	LogLevel     logrus.Level
	Definition   string
	Output       string
	Format       string
	CompilerPath string
	Duration     time.Duration
	BuildOptions build.Options
	StatOptions  stat.Options
}

// LogLevelSanitizer is a log level sanitizer that ensures that the provided log level exists
type LogLevelSanitizer struct {
	logLevel *logrus.Level
}

// NewLogLevelSanitizer creates a new instance of LogLevelSanitizer. The sanitized level will be written in the provided
// logrus level
func NewLogLevelSanitizer(sanitizedLevel *logrus.Level) *LogLevelSanitizer {
	*sanitizedLevel = logrus.InfoLevel
	return &LogLevelSanitizer{
		logLevel: sanitizedLevel,
	}
}

func (lls *LogLevelSanitizer) String() string {
	return fmt.Sprintf("%v", *lls.logLevel)
}

func (lls *LogLevelSanitizer) Set(val string) error {
	sanitized, err := logrus.ParseLevel(val)
	if err != nil {
		return err
	}
	*lls.logLevel = sanitized
	return nil
}

func (lls *LogLevelSanitizer) Type() string {
	return "string"
}

// PathSanitizer ensures that the provided path exists
type PathSanitizer struct {
	path *string
}

// NewPathSanitizer creates a new instance of PathSanitizer. The sanitized path will be written in the provided string
func NewPathSanitizer(path *string) *PathSanitizer {
	return &PathSanitizer{
		path: path,
	}
}

func (ps *PathSanitizer) String() string {
	return *ps.path
}

func (ps *PathSanitizer) Set(val string) error {
	if len(val) == 0 {
		return fmt.Errorf("empty path")
	}
	if _, err := os.Stat(val); err != nil {
		return fmt.Errorf("can't use %s: %v", val, err)
	}
	*ps.path = val
	return nil
}

func (ps *PathSanitizer) Type() string {
	return "string"
}

// OptionsSanitizer is a generic options sanitizer for usdt
type OptionsSanitizer struct {
	field   string
	options *CLIOptions
}

// NewOptionsSanitizer creates a new instance of OptionsSanitizer
func NewOptionsSanitizer(options *CLIOptions, field string) *OptionsSanitizer {
	return &OptionsSanitizer{
		options: options,
		field:   field,
	}
}

func (s *OptionsSanitizer) String() string {
	switch s.field {
	case "backend":
		return s.options.BuildOptions.Backend
	case "format":
		return s.options.Format
	case "pid":
		return fmt.Sprintf("%v", s.options.StatOptions.PID)
	case "probe-format":
		return s.options.BuildOptions.ProbeFormat
	}
	return ""
}

func (s *OptionsSanitizer) Set(val string) error {
	switch s.field {
	case "backend":
		if !contains(build.Backends, val) {
			return fmt.Errorf("unknown backend '%s', options: %s", val, strings.Join(build.Backends, ", "))
		}
		s.options.BuildOptions.Backend = val
	case "format":
		if val != FormatD && val != FormatGo {
			return fmt.Errorf("unknown format '%s', options: %s or %s", val, FormatD, FormatGo)
		}
		s.options.Format = val
	case "pid":
		pid, err := strconv.Atoi(val)
		if err != nil || pid < 0 {
			return fmt.Errorf("%v is not a valid pid value: %v", val, err)
		}
		s.options.StatOptions.PID = pid
	case "probe-format":
		if !strings.Contains(val, "{probe}") {
			return fmt.Errorf("'%s' isn't a valid probe format: missing {probe}", val)
		}
		s.options.BuildOptions.ProbeFormat = val
	}
	return nil
}

func (s *OptionsSanitizer) Type() string {
	switch s.field {
	case "pid":
		return "int"
	}
	return "string"
}

func contains(values []string, val string) bool {
	for _, v := range values {
		if v == val {
			return true
		}
	}
	return false
}
