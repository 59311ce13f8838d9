package main

import (
	"fmt"
	"os"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var watchFollowFromStart bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail this datadir's log file as other contentsessionctl commands run",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := logFilePath()
		if _, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			return fmt.Errorf("open log file: %w", err)
		}

		whence := os.SEEK_END
		if watchFollowFromStart {
			whence = os.SEEK_SET
		}
		t, err := tail.TailFile(path, tail.Config{
			Follow:    true,
			ReOpen:    true,
			MustExist: true,
			Location:  &tail.SeekInfo{Whence: whence},
			Logger:    tail.DiscardingLogger,
		})
		if err != nil {
			return fmt.Errorf("tail log file: %w", err)
		}
		defer t.Stop()

		ctx := cmd.Context()
		for {
			select {
			case line, ok := <-t.Lines:
				if !ok {
					return t.Err()
				}
				if line.Err != nil {
					return line.Err
				}
				fmt.Println(line.Text)
			case <-ctx.Done():
				return nil
			}
		}
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchFollowFromStart, "from-start", false, "replay the full log file before following")
	_ = viper.BindPFlag("from-start", watchCmd.Flags().Lookup("from-start"))
}
