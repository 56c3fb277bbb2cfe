package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"respguard/internal"
	"respguard/processor"
	"respguard/types"
)

type analyzeOptions struct {
	prompt     string
	promptFile string
	filePath   string
}

func newAnalyzeCommand(root *rootOptions) *cobra.Command {
	options := &analyzeOptions{}

	command := &cobra.Command{
		Use:   "analyze",
		Short: "Ask the configured model for a code analysis and process the answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyzeCommand(cmd, root, *options)
		},
	}
	command.Flags().StringVar(&options.prompt, promptFlagName, "", "prompt text")
	command.Flags().StringVar(&options.promptFile, promptFileFlag, "", "read the prompt from a file")
	command.Flags().StringVar(&options.filePath, filePathFlagName, "", "path of the analysed source file, recorded in error context")
	command.MarkFlagsMutuallyExclusive(promptFlagName, promptFileFlag)
	return command
}

func runAnalyzeCommand(cmd *cobra.Command, root *rootOptions, options analyzeOptions) error {
	prompt := options.prompt
	if options.promptFile != "" {
		data, err := os.ReadFile(options.promptFile)
		if err != nil {
			return fmt.Errorf("read prompt %s: %w", options.promptFile, err)
		}
		prompt = string(data)
	}
	if prompt == "" {
		return errors.New("a prompt is required (--prompt or --prompt-file)")
	}

	a, err := newApp(root.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireAnalyzer(); err != nil {
		return err
	}

	ctx, requestID := internal.EnsureRequestID(cmd.Context())
	gen, err := a.analyzer.Analyze(ctx, prompt, processor.WithFilePath(options.filePath))
	if err != nil {
		return err
	}
	if err := a.audit.LogResponse(requestID, types.AnalysisSchemaName, gen.Raw, gen.Result); err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), gen.Result)
}
