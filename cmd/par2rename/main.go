package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"example.com/par2rename/internal/common"
	"example.com/par2rename/internal/config"
	"example.com/par2rename/internal/par2"
)

// exitError carries a status code without printing usage.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error {
	return e.err
}

type app struct {
	stdout  io.Writer
	stderr  io.Writer
	cfgFile string
	verbose bool
	cfg     config.Config
	logs    io.Closer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:   "par2rename",
		Short: "Rename source files recorded in PAR2 recovery sets",
		Long: titleStyle.Render("par2rename") + subtitleStyle.Render(" - rename files inside PAR2 recovery sets") + `

Lists the source file names recorded by a PAR2 set and writes copies of the
set's .par2 files in which selected names are replaced. Recovery data stays
valid because it is keyed by content hashes, not by names.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logs != nil {
				a.logs.Close()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default "+config.DefaultPath+" if present)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(a.filesCmd())
	root.AddCommand(a.listCmd())
	root.AddCommand(a.renameCmd())
	root.AddCommand(a.reportCmd())
	root.AddCommand(a.verifyCmd())
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	path := a.cfgFile
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	closer, err := common.SetupLogging(cfg.LogOptions())
	if err != nil {
		return err
	}
	a.logs = closer
	if a.verbose {
		common.SetVerbose(true)
	}
	return nil
}

// expandInputs turns a single .par2 path into every file of its set.
func expandInputs(args []string, noSiblings bool) ([]string, error) {
	if len(args) != 1 || noSiblings {
		return args, nil
	}
	if _, err := os.Stat(args[0]); err != nil {
		return nil, err
	}
	files, err := par2.FindSetFiles(args[0])
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f == filepath.Clean(args[0]) {
			return files, nil
		}
	}
	return append([]string{args[0]}, files...), nil
}

func newBatchID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+exitErr.err.Error())
			}
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
