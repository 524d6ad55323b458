package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Connect and ping the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		start := time.Now()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		if err = c.Ping(ctx); err != nil {
			return err
		}
		fmt.Printf("connected to %s (%s mode, server %s, connection %d) in %v\n",
			c.Host(), c.Mode(), c.ServerVersion(), c.ConnectionID(), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
