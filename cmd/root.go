// Package cmd implements the command-line interface for pahedl.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/muesli/reflow/wordwrap"
	"github.com/pahedl-app/pahedl/constant"
	"github.com/pahedl-app/pahedl/key"
	"github.com/pahedl-app/pahedl/log"
	"github.com/pahedl-app/pahedl/style"
	"github.com/pahedl-app/pahedl/util"
	"github.com/pahedl-app/pahedl/where"
	cc "github.com/ivanpirog/coloredcobra"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.PersistentFlags().String("host", "", "Streaming host base URL")
	lo.Must0(viper.BindPFlag(key.HostURL, rootCmd.PersistentFlags().Lookup("host")))

	rootCmd.PersistentFlags().StringP("download-dir", "d", "", "Directory for completed episodes")
	lo.Must0(viper.BindPFlag(key.DownloadDir, rootCmd.PersistentFlags().Lookup("download-dir")))

	rootCmd.PersistentFlags().IntP("workers", "w", 10, "Parallel segment downloads per episode (2-64)")
	lo.Must0(viper.BindPFlag(key.DownloadWorkers, rootCmd.PersistentFlags().Lookup("workers")))
}

// rootCmd defines the entry point for the pahedl application.
var rootCmd = &cobra.Command{
	Use:   constant.App,
	Short: "A download engine for animepahe episodes",
	Long:  "Resolves animepahe episodes to HLS playlists, downloads and decrypts their segments concurrently,\nand assembles them into playable files with durable, resumable state.",
	Run: func(cmd *cobra.Command, args []string) {
		lo.Must0(cmd.Help())
	},
}

// Execute initializes child command routing and processes the CLI entry point.
func Execute() {
	if viper.GetBool(key.CliColored) {
		cc.Init(&cc.Config{
			RootCmd:       rootCmd,
			Headings:      cc.HiCyan + cc.Bold + cc.Underline,
			Commands:      cc.HiYellow + cc.Bold,
			Example:       cc.Italic,
			ExecName:      cc.Bold,
			Flags:         cc.Bold,
			FlagsDataType: cc.Italic + cc.HiBlue,
		})
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// handleErr reports a fatal command error, wrapped to the terminal width.
func handleErr(err error) {
	if err == nil {
		return
	}
	log.Error(err)

	width, _, termErr := util.TerminalSize()
	if termErr != nil || width <= 0 {
		width = 80
	}
	message := wordwrap.String(strings.Trim(err.Error(), " \n"), width)
	_, _ = fmt.Fprintf(os.Stderr, "%s %s\n", style.ErrorTitle("error"), message)
	os.Exit(1)
}

// downloadDir resolves the output directory: the configured one, or the
// user's Downloads folder.
func downloadDir() string {
	if dir := viper.GetString(key.DownloadDir); dir != "" {
		return dir
	}
	return where.Downloads()
}
