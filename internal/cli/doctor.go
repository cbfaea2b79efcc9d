package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pitchroom/internal/bootstrap"
	"pitchroom/internal/rules"
)

const doctorPingTimeout = 3 * time.Second

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the backend, rules file, and judge roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd.OutOrStdout())
			cfg := deps.Config
			ok := true

			if cfg.Source != "" {
				f.Check("Config file", true, cfg.Source)
			} else {
				f.Check("Config file", true, "none, using defaults")
			}

			backend := bootstrap.NewBackend(cfg)
			defer backend.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), doctorPingTimeout)
			defer cancel()
			if err := backend.Ping(ctx); err != nil {
				f.Check("Backend", false, err.Error())
				ok = false
			} else {
				f.Check("Backend", true, cfg.Backend.BaseURL)
			}

			engine, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
			switch {
			case err != nil:
				f.Check("Substitution rules", false, err.Error())
				ok = false
			case engine.Source() == "":
				f.Check("Substitution rules", true, "no rules file")
			default:
				f.Check("Substitution rules", true, fmt.Sprintf("%d rules from %s", engine.Len(), engine.Source()))
			}

			names := make([]string, 0, len(cfg.Judges))
			for _, judge := range cfg.Judges {
				names = append(names, judge.Name)
			}
			f.Check("Judges", len(names) > 0, strings.Join(names, ", "))
			if len(names) == 0 {
				ok = false
			}

			if cfg.Kafka.Enabled {
				f.Check("Kafka", true, strings.Join(cfg.Kafka.Brokers, ","))
			} else {
				f.Check("Kafka", true, "disabled")
			}

			if ok {
				f.Success("\nReady to pitch!")
			} else {
				f.Warning("\nSome checks failed.")
			}
			return nil
		},
	}
}
