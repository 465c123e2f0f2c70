package cmd

import (
	"fmt"
	"time"

	"github.com/pahedl-app/pahedl/state"
	"github.com/pahedl-app/pahedl/style"
	"github.com/pahedl-app/pahedl/util"
	"github.com/pahedl-app/pahedl/where"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateListCmd, stateRemoveCmd, stateClearCmd, stateValidateCmd)
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and maintain the durable download state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List incomplete downloads",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := state.Open(where.StateFile())
		handleErr(err)

		incomplete := store.ListIncomplete()
		if len(incomplete) == 0 {
			fmt.Println("no incomplete downloads")
			return
		}

		fmt.Println(util.Quantify(len(incomplete), "incomplete download", "incomplete downloads"))
		for _, record := range incomplete {
			started := time.Unix(record.StartedAt, 0).Format("2006-01-02 15:04")
			detail := fmt.Sprintf("%s episode %d, started %s", record.AnimeName, record.Episode, started)
			if record.ErrorMessage != nil {
				detail += " — " + *record.ErrorMessage
			}
			fmt.Printf("  %s\n    %s\n", style.Bold(record.ID), style.Faint(detail))
		}
	},
}

var stateRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a download record",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := state.Open(where.StateFile())
		handleErr(err)
		handleErr(store.Remove(args[0]))
	},
}

var stateClearCmd = &cobra.Command{
	Use:   "clear-completed",
	Short: "Drop every completed record",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := state.Open(where.StateFile())
		handleErr(err)
		handleErr(store.ClearCompleted())
	},
}

var stateValidateCmd = &cobra.Command{
	Use:   "validate <id>",
	Short: "Check a record's on-disk integrity",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store, err := state.Open(where.StateFile())
		handleErr(err)

		ok, err := store.Validate(args[0])
		handleErr(err)
		if ok {
			fmt.Println("valid")
		} else {
			fmt.Println("invalid")
		}
	},
}
