package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/spf13/cobra"
)

// Paths air never watches: build output, on-device fallback records and
// the local sqlite file.
const devExcludeDirs = "bin,tmp,.data,_examples"

func DevCmd() *cobra.Command {
	var port string
	c := &cobra.Command{
		Use:   "dev",
		Short: "Rebuild and restart the server whenever Go, SQL or templ sources change",
		RunE: func(cmd *cobra.Command, args []string) error {
			airPath, err := exec.LookPath("air")
			if err != nil {
				printAirHint(cmd.ErrOrStderr())
				return errors.New("air not found in PATH")
			}
			env := append(os.Environ(), "PORT="+port, "APP_ENV=development")
			return syscall.Exec(airPath, airArgs(), env)
		},
	}
	c.Flags().StringVar(&port, "port", "8090", "port the server listens on")
	return c
}

func printAirHint(w io.Writer) {
	fmt.Fprintln(w, "dev needs air for hot reload:")
	fmt.Fprintln(w, "  go install github.com/air-verse/air@latest")
}

// airArgs configures air entirely from flags; -c /dev/null stops it from
// picking up a stray .air.toml.
func airArgs() []string {
	return []string{
		"air",
		"-c", "/dev/null",
		"-root", ".",
		"-build.cmd", "go run ./cmd/do gen && go build -o ./tmp/server ./cmd/server",
		"-build.bin", "./tmp/server",
		"-build.delay", "100",
		"-build.exclude_dir", devExcludeDirs,
		"-build.exclude_regex", "_test.go$|_templ.go$",
		"-build.include_ext", "go,sql,templ",
		"-build.kill_delay", "500ms",
		"-build.send_interrupt", "true",
	}
}
