package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *cli) removeCommand() *cobra.Command {
	var timerID string

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a pending notification timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(*a.configPath)
			if err != nil {
				return err
			}
			defer application.close()

			if err := application.engine.RemoveTimer(context.Background(), notificationTopic, timerID); err != nil {
				return fmt.Errorf("remove timer: %w", err)
			}

			fmt.Printf("removed %q\n", timerID)
			return nil
		},
	}

	cmd.Flags().StringVar(&timerID, "id", "", "timer id to remove")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}
