package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Check the GitLab URL and token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		conn := a.live.Connection()
		ctx, cancel := context.WithTimeout(cmd.Context(), conn.Timeout+5*time.Second)
		defer cancel()

		res := a.clients.TestConnection(ctx, conn)
		fmt.Println(res.Message)
		if !res.OK {
			return errSilent
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testConnectionCmd)
}
