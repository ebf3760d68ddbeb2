package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "gpt-bot",
	Short: "Telegram bot for GPT chat and image generation with usage limits",
	Long: `gpt-bot answers Telegram messages with chat completions and images.

Usage is metered per model against the free plan or a purchased product.

Commands:
  gpt-bot serve     # run the bot, workers and the payment webhook
  gpt-bot catalog   # print and validate plans and products`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil, "env files to load (default config.env, .env)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
