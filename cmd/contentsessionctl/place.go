package main

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/oasisprotocol/contentfleet/go/localcas"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

var placeOverwrite bool

var placeCmd = &cobra.Command{
	Use:   "place <type:hexdigest> <path>",
	Short: "Materialize a content hash at a local path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := parseHash(args[0])
		if err != nil {
			return err
		}

		sess, cleanup, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		replacement := localcas.ReplacementFailIfExists
		if placeOverwrite {
			replacement = localcas.ReplacementOverwrite
		}

		res, err := sess.PlaceFile(cmd.Context(), h, args[1], localcas.AccessReadOnly, replacement, localcas.RealizationCopy, urgency.Normal)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"hash", "path", "kind", "source", "gate_occupancy", "gate_wait", "err"})
		errStr := ""
		if res.Err != nil {
			errStr = res.Err.Error()
		}
		table.Append([]string{
			res.Hash.String(), res.Path, res.Kind.String(), string(res.Source),
			strconv.FormatInt(res.GateOccupancy, 10), res.GateWait.String(), errStr,
		})
		table.Render()
		return nil
	},
}

func init() {
	placeCmd.Flags().BoolVar(&placeOverwrite, "overwrite", false, "allow overwriting an existing path")
}
