package cmd

import (
	"log"

	"github.com/natehak/SteamGroupChatBot/partyline"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the relay bot and the operator API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := partyline.New(cfg)
		if err != nil {
			log.Fatalf("error creating partyline: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running partyline: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
