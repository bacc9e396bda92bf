package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/urfave/cli/v3"
)

// NewInjectCommand returns the inject subcommand: post one wire Observation
// (from a flag or stdin) to a running core's HTTP gateway.
func NewInjectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inject",
		Usage: "Publish an Observation into a running core over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Gateway base address",
				Value: "http://127.0.0.1:18520",
			},
			&cli.StringFlag{
				Name:  "text",
				Usage: "Shortcut: send a MESSAGE with this text",
			},
			&cli.StringFlag{
				Name:  "actor",
				Usage: "Actor id for --text",
				Value: "cli",
			},
		},
		Action: runInject,
	}
}

func runInject(ctx context.Context, cmd *cli.Command) error {
	var body []byte
	if text := cmd.String("text"); text != "" {
		payload := map[string]any{
			"obs_type":    "MESSAGE",
			"source_name": "cli_inject",
			"actor":       map[string]any{"actor_id": cmd.String("actor"), "actor_type": "user"},
			"payload":     map[string]any{"text": text},
		}
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	} else {
		var err error
		body, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		cmd.String("addr")+"/api/observe", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post observation: %w", err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway rejected observation (%d): %s", resp.StatusCode, out)
	}
	fmt.Printf("%s\n", out)
	return nil
}
