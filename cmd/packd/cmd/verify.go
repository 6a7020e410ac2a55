package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/packd/internal/shaka"
)

// verifyProbeTimeout bounds the version probe; the binary answers
// --version in well under a second when healthy.
const verifyProbeTimeout = 30 * time.Second

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the Shaka Packager installation",
	Long: `Verify that the Shaka Packager binary is present, executable, and
answers a version probe.

The binary is located from (in order) the --binary flag, the
PACKD_PACKAGER_BINARY environment variable, the configured
packager.binary path, and finally the system PATH.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("binary", "", "Path to the Shaka Packager binary")
	mustBindPFlag("packager.binary", verifyCmd.Flags().Lookup("binary"))
}

func runVerify(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	path, err := shaka.FindBinary(viper.GetString("packager.binary"))
	if err != nil {
		return fmt.Errorf("locating packager binary: %w", err)
	}

	runner, err := shaka.NewRunner(path, verifyProbeTimeout, logger)
	if err != nil {
		return fmt.Errorf("initializing runner: %w", err)
	}

	version, err := runner.Version(cmd.Context())
	if err != nil {
		return fmt.Errorf("probing packager version: %w", err)
	}

	fmt.Printf("Shaka Packager %s (%s)\n", version, path)
	return nil
}
