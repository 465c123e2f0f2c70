package cmd

import (
	"fmt"
	"sort"

	"github.com/pahedl-app/pahedl/config"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInfoCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration fields",
}

var configInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show every configuration field with its current value",
	Run: func(cmd *cobra.Command, args []string) {
		keys := lo.Keys(config.Default)
		sort.Strings(keys)

		for _, k := range keys {
			field := config.Default[k]
			fmt.Println(field.Pretty())
			fmt.Println()
		}
	},
}
