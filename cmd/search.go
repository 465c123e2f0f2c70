package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/pahedl-app/pahedl/api"
	"github.com/pahedl-app/pahedl/config"
	"github.com/pahedl-app/pahedl/key"
	"github.com/pahedl-app/pahedl/network"
	"github.com/pahedl-app/pahedl/style"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().Bool("json", false, "Emit results as JSON")
	searchCmd.Flags().Bool("exact", false, "Keep only fuzzy matches of the query")
}

var searchCmd = &cobra.Command{
	Use:   "search <name>",
	Short: "Search the catalog for an anime",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		query := strings.Join(args, " ")
		host := network.NewHost(config.NormalizeHost(viper.GetString(key.HostURL)))

		items, err := api.NewClient(host).Search(context.Background(), query)
		handleErr(err)

		if lo.Must(cmd.Flags().GetBool("exact")) {
			items = lo.Filter(items, func(item api.SearchItem, _ int) bool {
				return fuzzy.MatchFold(query, item.Title)
			})
		}

		if lo.Must(cmd.Flags().GetBool("json")) {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			handleErr(encoder.Encode(items))
			return
		}

		if len(items) == 0 {
			fmt.Println("no results")
			return
		}
		for _, item := range items {
			fmt.Printf("%s  %s\n", style.Bold(item.Title), style.Faint(item.Session))
		}
	},
}
