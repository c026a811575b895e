package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newBatchCmd() *cobra.Command {
	flags := &fetchFlags{}
	var fromFile string

	cmd := &cobra.Command{
		Use:   "batch [targets...]",
		Short: "Acquire many targets with bounded concurrency",
		Long: `Acquires every listed target and prints a per-target report with the
aggregate success rate. Targets may be passed as arguments or read one per
line from a file via --file. A failing target never stops the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}
			targets := args
			if fromFile != "" {
				fileTargets, err := readTargets(fromFile)
				if err != nil {
					return err
				}
				targets = append(targets, fileTargets...)
			}
			if len(targets) == 0 {
				return fmt.Errorf("no targets given")
			}
			dest := flags.destination
			if dest == "" {
				dest = a.Config.Storage.Root
			}

			report := a.Pipe.BatchFetch(cmd.Context(), targets, dest, opts)
			for _, res := range report.Results {
				status := "ok"
				if !res.OK {
					status = "failed (" + res.Reason + ")"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", status, res.Target)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d/%d succeeded (%.0f%%)\n",
				report.Succeeded, len(report.Results), report.SuccessRate*100)
			if report.Failed > 0 {
				return fmt.Errorf("%d target(s) failed", report.Failed)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&fromFile, "file", "", "file with one target per line")
	return cmd
}

func readTargets(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets file: %w", err)
	}
	defer f.Close()

	var targets []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	return targets, nil
}
