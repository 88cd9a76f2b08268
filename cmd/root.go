package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dSlab/cmd/record"
	"github.com/ValentinKolb/dSlab/cmd/serve"
	"github.com/ValentinKolb/dSlab/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dslab",
		Short: "distributed record slabs",
		Long: fmt.Sprintf(`dSlab (v%s)

Stores records in per-node slabs and keeps them replicated across nodes.
Hosts issue memos for every change, replicas replay them in order and a
coordinator keeps every record at its target replica count.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dSlab",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dSlab v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(record.RecordCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
