package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/oasisprotocol/contentfleet/go/localcas"
	"github.com/oasisprotocol/contentfleet/go/urgency"
)

var (
	putHashType string
	putSkipReg  bool
)

var putCmd = &cobra.Command{
	Use:   "put <path>",
	Short: "Put a file into the local CAS, registering it with the directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := hashTypeFromFlag(putHashType)
		if err != nil {
			return err
		}
		sess, cleanup, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		u := urgency.Normal
		if putSkipReg {
			u = urgency.SkipRegisterContent
		}

		res, err := sess.PutFile(cmd.Context(), args[0], localcas.PutSpec{Type: typ}, localcas.RealizationCopy, u)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"hash", "size", "registered", "err"})
		errStr := ""
		if res.Err != nil {
			errStr = res.Err.Error()
		}
		table.Append([]string{res.Hash.String(), fmt.Sprintf("%d", res.Size), fmt.Sprintf("%v", res.Registered), errStr})
		table.Render()
		return nil
	},
}

func init() {
	putCmd.Flags().StringVar(&putHashType, "hash-type", "sha256", "hash type to compute (sha256|blake3|vso0)")
	putCmd.Flags().BoolVar(&putSkipReg, "skip-register", false, "hint the directory registration may be skipped")
}
