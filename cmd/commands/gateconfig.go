package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/gatewright/gatewright/internal/appconfig"
	"github.com/gatewright/gatewright/internal/gateconfig"
)

// NewGateConfigCommand returns the gate-config subcommand: validate or print
// the effective Gate configuration document.
func NewGateConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "gate-config",
		Usage: "Validate and print the effective Gate configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "Path to the Gate YAML document",
				Value: appconfig.GateConfigPath(),
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			path := cmd.String("file")
			cfg, err := gateconfig.Load(path)
			if err != nil {
				return fmt.Errorf("gate config invalid: %w", err)
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("# %s (version %d)\n%s", path, cfg.Version, out)
			return nil
		},
	}
}
