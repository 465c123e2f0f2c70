package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/pahedl-app/pahedl/config"
	"github.com/pahedl-app/pahedl/state"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(schemaCmd)
}

// schemaCmd emits the JSON Schemas of the documents shared with the desktop
// shell, so the shell can validate what it reads and writes.
var schemaCmd = &cobra.Command{
	Use:       "schema <settings|record>",
	Short:     "Print the JSON Schema of a shared on-disk document",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"settings", "record"},
	Run: func(cmd *cobra.Command, args []string) {
		var schema *jsonschema.Schema
		switch args[0] {
		case "settings":
			schema = jsonschema.Reflect(&config.Settings{})
		case "record":
			schema = jsonschema.Reflect(&state.DownloadRecord{})
		default:
			handleErr(fmt.Errorf("unknown document %q", args[0]))
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		handleErr(encoder.Encode(schema))
	},
}
