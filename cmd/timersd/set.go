package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (a *cli) setCommand() *cobra.Command {
	var (
		timerID   string
		recipient string
		message   string
		after     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Schedule a notification timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(*a.configPath)
			if err != nil {
				return err
			}
			defer application.close()

			payload := notificationPayload{Recipient: recipient, Message: message}
			if err := application.engine.SetTimer(context.Background(), notificationTopic, timerID, payload, after); err != nil {
				return fmt.Errorf("set timer: %w", err)
			}

			fmt.Printf("scheduled %q to activate in %s\n", timerID, after)
			return nil
		},
	}

	cmd.Flags().StringVar(&timerID, "id", "", "timer id, unique within the notifications topic")
	cmd.Flags().StringVar(&recipient, "recipient", "", "notification recipient")
	cmd.Flags().StringVar(&message, "message", "", "notification message")
	cmd.Flags().DurationVar(&after, "after", time.Minute, "delay before activation")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("recipient")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}
