package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"videoterror/internal/client"
	"videoterror/internal/version"
	"videoterror/pkg/log"
)

var (
	logLevel string
	conn     string
	deadline time.Duration
	secret   string
)

var rootCmd = &cobra.Command{
	Use:   "vtclient",
	Short: "vtclient drives a video analytics server",
	Long: `vtclient calls the operations of a video analytics server and runs
multi-stage analysis pipelines against it.
Version: ` + version.VERSION + `/` + version.COMMIT,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.InitLog(logLevel)
	},
}

func newClient() (*client.Client, error) {
	opts := []client.Option{client.WithDeadline(deadline), client.WithEagerConnect()}
	if secret != "" {
		opts = append(opts, client.WithToken(secret))
	}
	return client.NewClient(conn, opts...)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().StringVar(&conn, "conn", "tcp://127.0.0.1:8081", "Server connection string")
	rootCmd.PersistentFlags().DurationVar(&deadline, "deadline", client.DefaultDeadline, "Deadline of each call")
	rootCmd.PersistentFlags().StringVar(&secret, "jwt-secret", os.Getenv("VT_JWT_SECRET"), "Secret used to sign call tokens")

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(opsCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	Execute()
}
