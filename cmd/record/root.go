package record

import (
	"github.com/ValentinKolb/dSlab/cmd/util"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/ValentinKolb/dSlab/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcSlab slab.IService

	// RecordCommands represents the record command group
	RecordCommands = &cobra.Command{
		Use:               "record",
		Short:             "Perform record operations on a slab",
		PersistentPreRunE: setupSlabClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the record command
	util.SetupRPCClientFlags(RecordCommands)

	RecordCommands.PersistentFlags().Int("shard", 100, util.WrapString("ID of the shard to connect to"))

	// Add subcommands
	RecordCommands.AddCommand(createCmd)
	RecordCommands.AddCommand(setCmd)
	RecordCommands.AddCommand(getCmd)
	RecordCommands.AddCommand(envelopeCmd)
	RecordCommands.AddCommand(memosCmd)
	RecordCommands.AddCommand(peersCmd)
	RecordCommands.AddCommand(desiredCmd)
	RecordCommands.AddCommand(targetCmd)
	RecordCommands.AddCommand(evictCmd)
	RecordCommands.AddCommand(retireCmd)
	RecordCommands.AddCommand(statusCmd)
	RecordCommands.AddCommand(listCmd)
	RecordCommands.AddCommand(infoCmd)
	RecordCommands.AddCommand(perfTestCmd)
}

// setupSlabClient initializes the RPC slab client
func setupSlabClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration components
	config := util.GetClientConfig()
	shardId := util.GetShardID()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the slab client
	rpcSlab, err = client.NewRPCSlab(
		shardId,
		*config,
		t,
		s,
	)

	return err
}
