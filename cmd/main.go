package main

import (
	"os"

	envload "github.com/deviceops/categorysync/internal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "catsync",
	Short: "Bulk device category reassignment for the MDM platform",
	Long: `catsync reads rows of (DeviceID, DeviceName, NewCategory) from a CSV file
or a Feishu spreadsheet, resolves each category name against the MDM platform,
updates every device and optionally polls until the change is confirmed.`,
}

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.AddCommand(
		newRunCmd(),
		newResolveCmd(),
	)
	_ = envload.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("catsync command failed")
	}
}
