package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"respguard/internal"
	"respguard/processor"
	"respguard/types"
)

type processOptions struct {
	shape    string
	filePath string
}

func newProcessCommand(root *rootOptions) *cobra.Command {
	options := &processOptions{shape: types.AnalysisSchemaName}

	command := &cobra.Command{
		Use:   "process [file|-]",
		Short: "Clean, recover and validate a saved model response",
		Long: "Reads a raw model response from a file or stdin and prints the processing result as JSON. " +
			"A failed result is still printed; callers decide whether to fall back.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcessCommand(cmd, root, *options, args)
		},
	}
	command.Flags().StringVar(&options.shape, shapeFlagName, options.shape, "registered shape to validate against")
	command.Flags().StringVar(&options.filePath, filePathFlagName, "", "path of the analysed source file, recorded in error context")
	return command
}

func runProcessCommand(cmd *cobra.Command, root *rootOptions, options processOptions, args []string) error {
	raw, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	a, err := newApp(root.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, requestID := internal.EnsureRequestID(cmd.Context())
	result, err := a.processor.ProcessNamed(ctx, raw, options.shape, processor.WithFilePath(options.filePath))
	if err != nil {
		return err
	}
	if err := a.audit.LogResponse(requestID, options.shape, raw, result); err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), result)
}

// readInput reads args[0], or stdin when no file or "-" is given
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == stdinArgument {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read response %s: %w", args[0], err)
	}
	return string(data), nil
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
