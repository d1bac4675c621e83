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
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Gui774ume/usdt/pkg/build"
)

// USDT represents the base command of usdt
var USDT = &cobra.Command{
	Use:   "usdt",
	Short: "generate and inspect statically defined tracing probes",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logrus.SetLevel(options.LogLevel)
	},
	SilenceUsage: true,
}

var generateCommand = &cobra.Command{
	Use:   "generate",
	Short: "generate the probe sites of a provider definition",
	RunE:  generateCmd,
}

var expandCommand = &cobra.Command{
	Use:   "expand",
	Short: "print the D provider source or the generated Go code of a provider definition",
	RunE:  expandCmd,
}

var headerCommand = &cobra.Command{
	Use:   "header",
	Short: "run the provider compiler and print the symbols it assigned",
	RunE:  headerCmd,
}

var listCommand = &cobra.Command{
	Use:   "list",
	Short: "list the probe sites of an executable",
	RunE:  listCmd,
}

var dofCommand = &cobra.Command{
	Use:   "dof",
	Short: "write the probe descriptor of an executable",
	RunE:  dofCmd,
}

var statCommand = &cobra.Command{
	Use:   "stat",
	Short: "count the hits of the probe sites of an executable",
	RunE:  statCmd,
}

var options CLIOptions

func init() {
	USDT.PersistentFlags().VarP(
		NewLogLevelSanitizer(&options.LogLevel),
		"log-level",
		"l",
		`log level, options: panic, fatal, error, warn, info, debug or trace`)

	for _, cmd := range []*cobra.Command{generateCommand, expandCommand, headerCommand} {
		cmd.Flags().VarP(
			NewPathSanitizer(&options.Definition),
			"file",
			"f",
			`path to the provider definition`)
		_ = cmd.MarkFlagRequired("file")
	}

	options.BuildOptions.Backend = build.BackendAuto
	for _, cmd := range []*cobra.Command{generateCommand, expandCommand} {
		cmd.Flags().Var(
			NewOptionsSanitizer(&options, "backend"),
			"backend",
			`probe site backend, options: auto, linker or section`)
		cmd.Flags().Var(
			NewOptionsSanitizer(&options, "probe-format"),
			"probe-format",
			`name of the generated probe functions, "{provider}" and "{probe}" are substituted`)
		cmd.Flags().StringVar(
			&options.BuildOptions.Package,
			"package",
			"",
			`package of the generated files, defaults to the output directory name`)
		cmd.Flags().BoolVar(
			&options.BuildOptions.AutoRegister,
			"auto-register",
			false,
			`when set, the generated package registers the probes of the process on init`)
	}

	generateCommand.Flags().StringVarP(
		&options.BuildOptions.Output,
		"output",
		"o",
		".",
		`output directory of the generated files`)
	generateCommand.Flags().BoolVar(
		&options.BuildOptions.Force,
		"force",
		false,
		`when set, files are rewritten even if the definition didn't change`)

	options.Format = FormatD
	expandCommand.Flags().Var(
		NewOptionsSanitizer(&options, "format"),
		"format",
		`output format, options: d or go`)

	for _, cmd := range []*cobra.Command{generateCommand, expandCommand, headerCommand} {
		cmd.Flags().StringVar(
			&options.CompilerPath,
			"compiler",
			"",
			`path to the provider compiler of the linker backend, defaults to dtrace`)
	}

	for _, cmd := range []*cobra.Command{listCommand, dofCommand, statCommand} {
		cmd.Flags().VarP(
			NewPathSanitizer(&options.StatOptions.Binary),
			"binary",
			"b",
			`path to the binary`)
		_ = cmd.MarkFlagRequired("binary")
	}

	dofCommand.Flags().StringVarP(
		&options.Output,
		"output",
		"o",
		"",
		`output file of the descriptor, defaults to <binary>.dof`)

	statCommand.Flags().Var(
		NewOptionsSanitizer(&options, "pid"),
		"pid",
		`when set, only the hits of the provided pid are counted`)
	statCommand.Flags().DurationVar(
		&options.Duration,
		"duration",
		0,
		`when set, counting stops after the provided duration instead of waiting for Ctrl + C`)
	statCommand.Flags().BoolVar(
		&options.StatOptions.IsEnabled,
		"is-enabled",
		false,
		`when set, is-enabled sites are counted too`)

	USDT.AddCommand(generateCommand, expandCommand, headerCommand, listCommand, dofCommand, statCommand)
}
