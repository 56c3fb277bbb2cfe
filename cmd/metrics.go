package cmd

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type metricsOptions struct {
	serverURL string
	output    string
}

func newMetricsCommand() *cobra.Command {
	options := &metricsOptions{serverURL: defaultServerURL}

	command := &cobra.Command{
		Use:   "metrics",
		Short: "Export or import the error metrics of a running server",
	}
	command.PersistentFlags().StringVar(&options.serverURL, serverFlagName, options.serverURL, "base URL of a running respguard server")

	export := &cobra.Command{
		Use:   "export",
		Short: "Write the collector state as a JSON blob",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetricsExport(cmd, *options)
		},
	}
	export.Flags().StringVarP(&options.output, outputFlagName, "o", "", "write to a file instead of stdout")

	importCmd := &cobra.Command{
		Use:   "import [file|-]",
		Short: "Replace the collector state with a previously exported blob",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetricsImport(cmd, *options, args)
		},
	}

	command.AddCommand(export, importCmd)
	return command
}

var metricsHTTPClient = &http.Client{Timeout: 30 * time.Second}

func metricsURL(base string) string {
	return strings.TrimRight(base, "/") + metricsPathSuffix
}

func runMetricsExport(cmd *cobra.Command, options metricsOptions) error {
	resp, err := metricsHTTPClient.Get(metricsURL(options.serverURL))
	if err != nil {
		return fmt.Errorf("export metrics: %w", err)
	}
	defer resp.Body.Close()

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("export metrics: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("export metrics: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(blob)))
	}

	if options.output != "" {
		if err := os.WriteFile(options.output, blob, 0644); err != nil {
			return fmt.Errorf("export metrics: %w", err)
		}
		return nil
	}
	_, err = cmd.OutOrStdout().Write(append(blob, '\n'))
	return err
}

func runMetricsImport(cmd *cobra.Command, options metricsOptions, args []string) error {
	blob, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	resp, err := metricsHTTPClient.Post(metricsURL(options.serverURL), "application/json", bytes.NewReader([]byte(blob)))
	if err != nil {
		return fmt.Errorf("import metrics: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("import metrics: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("import metrics: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, err = cmd.OutOrStdout().Write(body)
	return err
}
