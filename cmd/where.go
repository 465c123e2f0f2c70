package cmd

import (
	"fmt"

	"github.com/pahedl-app/pahedl/style"
	"github.com/pahedl-app/pahedl/where"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(whereCmd)
}

var whereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show the application's filesystem locations",
	Run: func(cmd *cobra.Command, args []string) {
		rows := []struct{ name, path string }{
			{"config", where.Config()},
			{"state", where.StateFile()},
			{"settings", where.SettingsFile()},
			{"cache", where.Cache()},
			{"logs", where.Logs()},
			{"downloads", downloadDir()},
		}
		for _, row := range rows {
			fmt.Printf("%-10s %s\n", style.Bold(row.name), row.path)
		}
	},
}
