package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/oasisprotocol/contentfleet/go/contenthash"
	"github.com/oasisprotocol/contentfleet/go/session"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

var pinFast bool

var pinCmd = &cobra.Command{
	Use:   "pin <type:hexdigest>...",
	Short: "Pin one or more content hashes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hashes := make([]contenthash.Hash, len(args))
		for i, a := range args {
			h, err := parseHash(a)
			if err != nil {
				return err
			}
			hashes[i] = h
		}

		sess, cleanup, err := openSession(cmd, func(cfg *session.Config) {
			cfg.Pin.ReturnGlobalExistenceFast = pinFast
		})
		if err != nil {
			return err
		}
		defer cleanup()

		results, err := sess.PinBulk(cmd.Context(), hashes, urgency.Normal)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"hash", "kind", "replicas", "note", "err"})
		for _, r := range results {
			errStr := ""
			if r.Err != nil {
				errStr = r.Err.Error()
			}
			table.Append([]string{r.Hash.String(), r.Kind.String(), fmt.Sprintf("%d", r.ReplicaCount), r.Note, errStr})
		}
		table.Render()
		return nil
	},
}

func init() {
	pinCmd.Flags().BoolVar(&pinFast, "fast", false, "return_global_existence_fast")
}
