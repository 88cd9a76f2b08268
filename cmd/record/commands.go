package record

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/spf13/cobra"
)

var (
	createCmd = &cobra.Command{
		Use:   "create [json]",
		Short: "Creates a record hosted by the slab",
		Long:  `Creates a record hosted by the slab. The optional argument is a JSON object with the initial value, keys starting with "$" must hold a record id (e.g. '{"name":"alice","$owner":"<record id>"}').`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var values map[string]record.Value
			if len(args) == 1 {
				var err error
				if values, err = parseValues(args[0]); err != nil {
					return err
				}
			}
			id, err := rpcSlab.Create(values)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [id] [json]",
		Short: "Merges a JSON object into the value of a hosted record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseValues(args[1])
			if err != nil {
				return err
			}
			memo, err := rpcSlab.Set(ident.RecordID(args[0]), values)
			if err != nil {
				return err
			}
			fmt.Printf("issued memo %s\n", memo.ID)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [id]",
		Short: "Reads the value of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := rpcSlab.Value(ident.RecordID(args[0]))
			if err != nil {
				return err
			}
			return printJSON(record.Plain(values))
		},
	}
	envelopeCmd = &cobra.Command{
		Use:   "envelope [id]",
		Short: "Prints the envelope (identity and peerings) of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := rpcSlab.Envelope(ident.RecordID(args[0]), true)
			if err != nil {
				return err
			}
			return printJSON(env)
		},
	}
	memosCmd = &cobra.Command{
		Use:   "memos [id] [seq]",
		Short: "Prints the memos of a record after a sequence number (default 0)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var seq uint64
			if len(args) == 2 {
				var err error
				if seq, err = strconv.ParseUint(args[1], 10, 64); err != nil {
					return fmt.Errorf("seq must be a number: %w", err)
				}
			}
			memos, err := rpcSlab.MemosSince(ident.RecordID(args[0]), seq)
			if err != nil {
				return err
			}
			return printJSON(memos)
		},
	}
	peersCmd = &cobra.Command{
		Use:   "peers [id]",
		Short: "Lists the nodes related to a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			replicaOnly, _ := cmd.Flags().GetBool("replicas")
			nodes, err := rpcSlab.PeersOf(ident.RecordID(args[0]), replicaOnly)
			if err != nil {
				return err
			}
			for _, node := range nodes {
				fmt.Println(node)
			}
			return nil
		},
	}
	desiredCmd = &cobra.Command{
		Use:   "desired [id]",
		Short: "Prints how many replicas a record is missing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := rpcSlab.DesiredReplicas(ident.RecordID(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("id=%s, desired=%d\n", args[0], n)
			return nil
		},
	}
	targetCmd = &cobra.Command{
		Use:   "target [id] [n]",
		Short: "Sets the target replica count of a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("n must be a number: %w", err)
			}
			if err := rpcSlab.SetTargetReplicas(ident.RecordID(args[0]), n); err != nil {
				return err
			}
			fmt.Println("target set successfully")
			return nil
		},
	}
	evictCmd = &cobra.Command{
		Use:   "evict [id]",
		Short: "Marks the slab's copy of a record for eviction (use --cancel to clear)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cancel, _ := cmd.Flags().GetBool("cancel")
			if err := rpcSlab.SetEvicting(ident.RecordID(args[0]), !cancel); err != nil {
				return err
			}
			fmt.Printf("id=%s, evicting=%t\n", args[0], !cancel)
			return nil
		},
	}
	retireCmd = &cobra.Command{
		Use:   "retire [id]",
		Short: "Drops the slab's copy of an evicting record if a replacement exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			retired, err := rpcSlab.TryRetire(ident.RecordID(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("id=%s, retired=%t\n", args[0], retired)
			return nil
		},
	}
	statusCmd = &cobra.Command{
		Use:   "status [id]",
		Short: "Prints the replication state of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := rpcSlab.Status(ident.RecordID(args[0]))
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists the ids of all records stored on the slab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := rpcSlab.Records()
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints metadata about the slab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rpcSlab.Info()
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}
)

func init() {
	peersCmd.Flags().Bool("replicas", false, "Only list nodes holding a replica")
	evictCmd.Flags().Bool("cancel", false, "Clear the eviction intent instead of setting it")
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseValues parses a plain JSON object into record values
func parseValues(raw string) (map[string]record.Value, error) {
	var plain map[string]any
	if err := json.Unmarshal([]byte(raw), &plain); err != nil {
		return nil, fmt.Errorf("value must be a JSON object: %w", err)
	}
	return record.FromPlain(plain)
}

// printJSON prints v as indented JSON
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
