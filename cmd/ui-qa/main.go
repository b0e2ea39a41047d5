// Command ui-qa runs declarative browser scenarios against a locally served
// page in one or more browser engines.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitError carries a process exit code up to main. A nil err means the
// outcome was already reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// fail reports a usage, configuration or boot problem (exit 2).
func fail(format string, a ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, a...)}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ui-qa",
		Short:         "Declarative browser scenario runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), validateCmd(), listCmd())
	return root
}

func main() {
	err := rootCmd().Execute()
	if err == nil {
		os.Exit(0)
	}
	code := 2
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
		if ee.err == nil {
			os.Exit(code)
		}
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(code)
}
