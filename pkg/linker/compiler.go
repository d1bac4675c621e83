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
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrBuild is returned when the provider compiler fails
var ErrBuild = errors.New("build failure")

// Compiler turns the D source of providers into a C header
type Compiler interface {
	Header(ctx context.Context, dsource string) (string, error)
}

// DefaultCompilerPath is the provider compiler looked up in PATH
const DefaultCompilerPath = "dtrace"

// DTraceCompiler runs the dtrace header generator
type DTraceCompiler struct {
	Path string
}

// NewDTraceCompiler returns a compiler running the dtrace binary found at path, or in PATH when path is empty
func NewDTraceCompiler(path string) *DTraceCompiler {
	if len(path) == 0 {
		path = DefaultCompilerPath
	}
	return &DTraceCompiler{Path: path}
}

// Header implements Compiler
func (c *DTraceCompiler) Header(ctx context.Context, dsource string) (string, error) {
	cmd := exec.CommandContext(ctx, c.Path, "-h", "-s", "/dev/stdin", "-o", "/dev/stdout")
	cmd.Stdin = strings.NewReader(dsource)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logrus.Debugf("running %s", strings.Join(cmd.Args, " "))
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(ErrBuild, "%s -h failed: %v: %s", c.Path, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return "", errors.Wrapf(ErrBuild, "%s -h produced an empty header", c.Path)
	}
	return stdout.String(), nil
}
