package main

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a diagnostic snapshot of a freshly opened session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, cleanup, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		snap := sess.Snapshot()
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"field", "value"})
		table.Append([]string{"gate_occupancy", strconv.FormatInt(snap.GateOccupancy, 10)})
		table.Append([]string{"gate_capacity", strconv.FormatInt(snap.GateCapacity, 10)})
		table.Append([]string{"in_flight_count", strconv.Itoa(snap.InFlightCount)})
		table.Append([]string{"ring_known", strconv.FormatBool(snap.RingKnown)})
		table.Render()
		return nil
	},
}
