package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *cli) listCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all pending timers across every topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(*a.configPath)
			if err != nil {
				return err
			}
			defer application.close()

			keys, payloads, err := application.engine.FetchAllTimers(context.Background())
			if err != nil {
				return fmt.Errorf("fetch timers: %w", err)
			}

			if len(keys) == 0 {
				fmt.Println("no pending timers")
				return nil
			}

			for _, key := range keys {
				fmt.Printf("%s\t%s\n", key, payloads[key])
			}
			return nil
		},
	}

	return cmd
}
