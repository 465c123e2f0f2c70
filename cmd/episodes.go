package cmd

import (
	"context"
	"fmt"

	"github.com/pahedl-app/pahedl/api"
	"github.com/pahedl-app/pahedl/config"
	"github.com/pahedl-app/pahedl/key"
	"github.com/pahedl-app/pahedl/network"
	"github.com/pahedl-app/pahedl/style"
	"github.com/pahedl-app/pahedl/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(episodesCmd)
	episodesCmd.Flags().Bool("fresh", false, "Bypass the local catalog cache")
}

var episodesCmd = &cobra.Command{
	Use:   "episodes <slug>",
	Short: "List the episode catalog for an anime",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		slug := args[0]
		if fresh, _ := cmd.Flags().GetBool("fresh"); fresh {
			api.InvalidateCatalog(slug)
		}

		host := network.NewHost(config.NormalizeHost(viper.GetString(key.HostURL)))
		client := api.NewClient(host)

		episodes, err := client.Episodes(context.Background(), slug)
		handleErr(err)

		name := client.ResolveAnimeName(context.Background(), slug, slug)
		fmt.Printf("%s — %s\n", style.Bold(name), util.Quantify(len(episodes), "episode", "episodes"))
		for _, episode := range episodes {
			fmt.Printf("  %4d  %s\n", episode.Number, style.Faint(episode.Session))
		}
	},
}
