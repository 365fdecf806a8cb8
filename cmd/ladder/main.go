// The ladder command runs demonstration circuits and exposes them for
// monitoring.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var verbosity string

var rootCmd = &cobra.Command{
	Use:   "ladder",
	Short: "Reactive automation circuit runner",
	PersistentPreRunE: func(*cobra.Command, []string) error {
		level, err := logrus.ParseLevel(verbosity)
		if err != nil {
			return fmt.Errorf("bad verbosity %q: %w", verbosity, err)
		}

		logrus.SetLevel(level)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v",
		"info", "log level (trace, debug, info, warn, error)")
}

func main() {
	// A .env file is optional; the environment wins over it.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
