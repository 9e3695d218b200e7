package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"videoterror/internal/notify"
	"videoterror/pkg/log"
)

var (
	nsqdAddr string
	topic    string
	channel  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print process state changes published by the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := notify.DefaultConfig()
		conf.NSQDAddr = nsqdAddr
		conf.Topic = topic
		if channel == "" {
			channel = "vtclient_" + uuid.New().String()[:8] + "#ephemeral"
		}

		out := cmd.OutOrStdout()
		consumer, err := notify.NewConsumer(conf, channel, func(msg *notify.ProcessMessage) {
			fmt.Fprintf(out, "%s %s task=%s state=%s progress=%.2f %s\n",
				msg.DatasetId, msg.ProcessId, msg.TaskId, msg.State, msg.Progress, msg.ErrorMessage)
		}, log.NewLogger())
		if err != nil {
			return err
		}
		if err := consumer.Start(conf.NSQDAddr); err != nil {
			return err
		}
		defer consumer.Stop()

		termChan := make(chan os.Signal, 1)
		signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)
		<-termChan
		return nil
	},
}

func init() {
	defaults := notify.DefaultConfig()
	watchCmd.Flags().StringVar(&nsqdAddr, "nsqd", defaults.NSQDAddr, "nsqd TCP address")
	watchCmd.Flags().StringVar(&topic, "topic", defaults.Topic, "Topic the server publishes to")
	watchCmd.Flags().StringVar(&channel, "channel", "", "Channel to consume (default: an ephemeral one)")
}
