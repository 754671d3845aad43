// Command torenms runs the realtime device-state center.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:          "torenms",
		Short:        "Realtime device-state center",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "file to load environment variables from")
	root.AddCommand(newServeCmd(), newSeedCmd())
	return root
}

// loadEnv reads the env file. A missing file is fine: the environment may be set by other means.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("Load(): %s", err)
	}
	return nil
}
