package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/AlecAivazis/survey/v2"
	"github.com/pahedl-app/pahedl/engine"
	"github.com/pahedl-app/pahedl/state"
	"github.com/pahedl-app/pahedl/where"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resumeCmd)
}

var resumeCmd = &cobra.Command{
	Use:   "resume [id]",
	Short: "Resume an interrupted download",
	Long:  "Reopens an incomplete download record, reuses any valid part files, and fetches the rest.\nWithout an id, incomplete records are offered interactively.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		store, err := state.Open(where.StateFile())
		handleErr(err)

		var id string
		if len(args) == 1 {
			id = args[0]
		} else {
			incomplete := store.ListIncomplete()
			if len(incomplete) == 0 {
				fmt.Println("nothing to resume")
				return
			}

			labels := lo.Map(incomplete, func(r state.DownloadRecord, _ int) string {
				return fmt.Sprintf("%s — episode %d (%s)", r.AnimeName, r.Episode, r.Status)
			})
			var picked string
			handleErr(survey.AskOne(&survey.Select{Message: "Resume which download?", Options: labels}, &picked))

			index := lo.IndexOf(labels, picked)
			id = incomplete[index].ID
		}

		eng := engine.New(store, newPrinter())
		handleErr(eng.Resume(ctx, id))
	},
}
