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
	"go/token"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Gui774ume/usdt/pkg/build"
	"github.com/Gui774ume/usdt/pkg/codegen"
	"github.com/Gui774ume/usdt/pkg/dof"
	"github.com/Gui774ume/usdt/pkg/linker"
	"github.com/Gui774ume/usdt/pkg/provider"
	"github.com/Gui774ume/usdt/pkg/record"
	"github.com/Gui774ume/usdt/pkg/stat"
	"github.com/Gui774ume/usdt/pkg/usdt"
)

func generateCmd(cmd *cobra.Command, args []string) error {
	opts := options.BuildOptions
	opts.Source = options.Definition
	opts.Compiler = linker.NewDTraceCompiler(options.CompilerPath)
	if len(opts.Package) == 0 {
		opts.Package = packageName(opts.Output)
	}

	result, err := build.Generate(cmd.Context(), opts)
	if err != nil {
		return err
	}
	logrus.Infof("%d file(s) written, %d file(s) up to date [digest: %s]", len(result.Written), len(result.Unchanged), result.Digest)
	return nil
}

// packageName returns the name of the directory if it is a valid package name
func packageName(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	name := filepath.Base(abs)
	if !token.IsIdentifier(name) {
		return ""
	}
	return name
}

func expandCmd(cmd *cobra.Command, args []string) error {
	providers, source, err := build.Load(options.Definition)
	if err != nil {
		return err
	}
	if options.Format == FormatD {
		fmt.Print(provider.DSource(providers...))
		return nil
	}

	backend, err := build.BackendFor(options.BuildOptions.Backend, runtime.GOOS, linker.NewDTraceCompiler(options.CompilerPath))
	if err != nil {
		return err
	}
	cfg := options.BuildOptions.Config
	cfg.Digest = build.Digest(source, backend.Name(), cfg)
	files, err := codegen.Generate(cmd.Context(), providers, backend, cfg)
	if err != nil {
		return err
	}
	dumpFiles(files)
	return nil
}

func headerCmd(cmd *cobra.Command, args []string) error {
	providers, _, err := build.Load(options.Definition)
	if err != nil {
		return err
	}
	header, err := linker.NewDTraceCompiler(options.CompilerPath).Header(cmd.Context(), provider.DSource(providers...))
	if err != nil {
		return err
	}
	infos, err := linker.ExtractProviders(header)
	if err != nil {
		return err
	}
	if err = linker.Check(infos, providers); err != nil {
		logrus.Warnf("%v", err)
	}
	return dumpProviderInfos(infos)
}

// inspectBinary reads the probe section of the binary and resolves the functions holding the sites
func inspectBinary(path string) (*record.Section, error) {
	var resolver usdt.Resolver
	if r, err := usdt.NewFileResolver(path); err != nil {
		logrus.Warnf("%v", err)
	} else {
		resolver = r
	}
	section, err := usdt.Inspect(usdt.ELFFile{Path: path}, resolver)
	if err != nil {
		return nil, err
	}
	if section == nil {
		return nil, fmt.Errorf("no probe in %s", path)
	}
	return section, nil
}

func listCmd(cmd *cobra.Command, args []string) error {
	section, err := inspectBinary(options.StatOptions.Binary)
	if err != nil {
		return err
	}
	dumpSection(section)
	return nil
}

func dofCmd(cmd *cobra.Command, args []string) error {
	section, err := inspectBinary(options.StatOptions.Binary)
	if err != nil {
		return err
	}
	buf, err := dof.Serialize(section)
	if err != nil {
		return err
	}

	output := options.Output
	if len(output) == 0 {
		output = options.StatOptions.Binary + ".dof"
	}
	if err = ioutil.WriteFile(output, buf, 0644); err != nil {
		return errors.Wrapf(err, "couldn't write %s", output)
	}
	logrus.Infof("%d byte(s) descriptor of module %s written to %s", len(buf), filepath.Base(options.StatOptions.Binary), output)

	f, err := dof.Parse(buf)
	if err != nil {
		return err
	}
	return dumpDOF(f)
}

func statCmd(cmd *cobra.Command, args []string) error {
	section, err := inspectBinary(options.StatOptions.Binary)
	if err != nil {
		return err
	}
	counter := stat.NewSiteCounter(stat.Sites(section, options.StatOptions.IsEnabled), options.StatOptions)
	if err = counter.Start(); err != nil {
		return errors.Wrap(err, "couldn't start counting")
	}

	wait := make(chan os.Signal, 1)
	signal.Notify(wait, os.Interrupt, syscall.SIGTERM)
	if options.Duration > 0 {
		select {
		case <-wait:
		case <-time.After(options.Duration):
		}
	} else {
		<-wait
	}

	report, err := counter.Stop()
	if err != nil {
		logrus.Errorf("couldn't stop counting: %v", err)
	}
	dumpReport(report)
	return nil
}
