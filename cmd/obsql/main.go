// Command obsql is a small client for OceanBase built on the driver: it
// parses connection urls, pings servers and runs statements.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	oceanbase "github.com/oceanbase/obconnector-go"
)

var (
	rawURL     string
	configPath string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "obsql",
	Short:         "Run SQL against an OceanBase server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rawURL, "url", os.Getenv("OB_URL"), "Connection url (default $OB_URL)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Data source YAML file, used instead of --url")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout of the whole command")
}

// connect opens a connection from --config or --url.
func connect(ctx context.Context) (*oceanbase.Conn, error) {
	if configPath != "" {
		ds, err := oceanbase.LoadDataSource(configPath)
		if err != nil {
			return nil, err
		}
		return ds.Connect(ctx)
	}
	if rawURL == "" {
		return nil, fmt.Errorf("no connection url: set --url, $OB_URL or --config")
	}
	return oceanbase.Connect(ctx, rawURL)
}

// commandContext bounds a command by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "obsql: %v\n", err)
		os.Exit(1)
	}
}
