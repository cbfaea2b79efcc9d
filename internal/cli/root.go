package cli

import (
	"github.com/spf13/cobra"

	"pitchroom/internal/bootstrap"
	"pitchroom/internal/config"
	"pitchroom/internal/ports"
	"pitchroom/internal/version"
)

// AssembleFunc builds the runtime graph around an event sink.
type AssembleFunc func(cfg config.Config, sink ports.EventSink) (bootstrap.Services, error)

type Dependencies struct {
	Config   config.Config
	Assemble AssembleFunc
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps.Assemble == nil {
		deps.Assemble = bootstrap.Assemble
	}

	rootCmd := &cobra.Command{
		Use:           "pitchroom",
		Short:         "Practice a startup pitch in front of AI judges",
		Long:          "A headless client for the pitch room backend. Runs a timed session, streams the judges' transcript, and prints the scored analysis when the session ends.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate("pitchroom " + version.String() + "\n")

	rootCmd.AddCommand(NewRunCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))
	rootCmd.AddCommand(NewConfigCmd(deps))

	return rootCmd
}
