// Package cmd holds the respguard command line.
package cmd

import (
	"github.com/spf13/cobra"
)

const (
	configFlagName  = "config"
	configFlagUsage = "path to a yaml config file (default: ./config.yaml when present)"

	shapeFlagName     = "shape"
	filePathFlagName  = "file-path"
	promptFlagName    = "prompt"
	promptFileFlag    = "prompt-file"
	serverFlagName    = "server"
	outputFlagName    = "output"
	defaultServerURL  = "http://localhost:3456"
	stdinArgument     = "-"
	metricsPathSuffix = "/v1/metrics"
)

type rootOptions struct {
	configPath string
	version    string
}

// NewRootCommand builds the command tree. version is printed by the version
// subcommand.
func NewRootCommand(version string) *cobra.Command {
	options := &rootOptions{version: version}

	root := &cobra.Command{
		Use:           "respguard",
		Short:         "Clean, recover and validate structured output from language models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&options.configPath, configFlagName, "", configFlagUsage)

	root.AddCommand(
		newProcessCommand(options),
		newAnalyzeCommand(options),
		newServeCommand(options),
		newMetricsCommand(),
		newVersionCommand(options),
	)
	return root
}

// Execute runs the root command with os.Args
func Execute(version string) error {
	return NewRootCommand(version).Execute()
}

func newVersionCommand(options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(options.version + "\n"))
			return err
		},
	}
}
