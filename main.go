// Package main is the entry point for the pahedl application.
package main

import (
	"github.com/pahedl-app/pahedl/cmd"
	"github.com/pahedl-app/pahedl/config"
	"github.com/pahedl-app/pahedl/download"
	"github.com/pahedl-app/pahedl/key"
	"github.com/pahedl-app/pahedl/log"
	"github.com/pahedl-app/pahedl/where"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

func main() {
	lo.Must0(config.Setup())
	lo.Must0(log.Setup())

	// Prune scratch left behind by cancelled or crashed jobs.
	go func() {
		dir := viper.GetString(key.DownloadDir)
		if dir == "" {
			dir = where.Downloads()
		}
		download.PurgeStaleScratch(dir)
	}()

	cmd.Execute()
}
