package cmd

import (
	"fmt"

	"github.com/pahedl-app/pahedl/constant"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the application version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", constant.App, constant.Version)
	},
}
