package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func GenCmd() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "gen",
		Short: "Regenerate Go code from .templ sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !force {
				stale, err := staleTemplFiles(".")
				if err != nil {
					return err
				}
				if len(stale) == 0 {
					fmt.Fprintln(out, "[templ] skipped")
					return nil
				}
			}
			if _, err := exec.LookPath("templ"); err != nil {
				printTemplHint(cmd.ErrOrStderr())
				return errors.New("templ not found in PATH")
			}

			start := time.Now()
			gen := exec.CommandContext(cmd.Context(), "templ", "generate")
			gen.Stdout = out
			gen.Stderr = cmd.ErrOrStderr()
			if err := gen.Run(); err != nil {
				return fmt.Errorf("templ: %w", err)
			}
			fmt.Fprintf(out, "[templ] done (%s)\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	c.Flags().BoolVar(&force, "force", false, "regenerate even when outputs are up to date")
	return c
}

func printTemplHint(w io.Writer) {
	fmt.Fprintln(w, "gen needs the templ CLI:")
	fmt.Fprintln(w, "  go install github.com/a-h/templ/cmd/templ@v0.3.960")
}

// staleTemplFiles lists .templ sources under root whose _templ.go output is
// missing or older than the source.
func staleTemplFiles(root string) ([]string, error) {
	skip := map[string]bool{}
	for _, d := range strings.Split(devExcludeDirs, ",") {
		skip[d] = true
	}

	var stale []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (skip[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".templ") {
			return nil
		}
		out := strings.TrimSuffix(path, ".templ") + "_templ.go"
		if !isUpToDate(out, path) {
			stale = append(stale, path)
		}
		return nil
	})
	return stale, err
}

func isUpToDate(output string, inputs ...string) bool {
	outInfo, err := os.Stat(output)
	if err != nil {
		return false
	}
	for _, input := range inputs {
		inInfo, err := os.Stat(input)
		if err != nil {
			continue
		}
		if inInfo.ModTime().After(outInfo.ModTime()) {
			return false
		}
	}
	return true
}
