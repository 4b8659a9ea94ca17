// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/sileht/redpanda/pkg/datamigrations"
	"github.com/sileht/redpanda/pkg/datamigrations/dmrpc"
)

var statusTargetAddr string
var statusTargetNode int32

var statusCmd = &cobra.Command{
	Use: "status",
	Short: "list outstanding migrations known to a node's coordinator role",
	Long: `
Dial a single node and report what it currently knows as the data-migration
coordinator. The reply is empty, not an error, if the node is not currently
the coordinator.
`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusTargetAddr, "addr", "127.0.0.1:0", "address of the node to query")
	statusCmd.Flags().Int32Var(&statusTargetNode, "node-id", 1, "id of the node to query")
}

func runStatus(cmd *cobra.Command, args []string) error {
	dialer := dmrpc.NewGRPCDialer(func(datamigrations.NodeID) (string, error) {
		return statusTargetAddr, nil
	}, grpc.WithInsecure())
	defer dialer.Close()

	node := datamigrations.NodeID(statusTargetNode)
	snaps, err := dialer.ListOutstandingMigrations(cmd.Context(), node)
	if err != nil {
		return errors.Wrapf(err, "querying node %d at %s", node, statusTargetAddr)
	}

	if len(snaps) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no outstanding migrations")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "MIGRATION\tSOUGHT STATE\tTOPIC\tOUTSTANDING PARTITIONS")
	for _, m := range snaps {
		for _, t := range m.Topics {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", m.ID, m.SoughtState, t.Topic, t.OutstandingPartitions)
		}
	}
	return tw.Flush()
}
