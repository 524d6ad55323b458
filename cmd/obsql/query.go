package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	oceanbase "github.com/oceanbase/obconnector-go"
)

var fetchSize int

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a query and print its rows as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		s, err := c.CreateStatement()
		if err != nil {
			return err
		}
		defer s.Close()

		if err = s.SetFetchSize(fetchSize); err != nil {
			return err
		}
		rs, err := s.ExecuteQuery(ctx, args[0])
		if err != nil {
			return err
		}
		return printRows(rs)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec <sql>...",
	Short: "Run statements; several are sent as one batch",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		s, err := c.CreateStatement()
		if err != nil {
			return err
		}
		defer s.Close()

		if len(args) == 1 {
			n, err := s.ExecuteUpdate(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%d row(s) affected\n", n)
			return nil
		}

		for _, q := range args {
			if err = s.AddBatch(q); err != nil {
				return err
			}
		}
		counts, err := s.ExecuteBatch(ctx)
		if err != nil {
			return err
		}
		for i, n := range counts {
			fmt.Printf("%d: %d\n", i+1, n)
		}
		return nil
	},
}

// printRows writes one JSON object per row, keyed by column label.
func printRows(rs *oceanbase.ResultSet) error {
	defer rs.Close()

	labels := rs.Columns()
	enc := json.NewEncoder(os.Stdout)

	for {
		ok, err := rs.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		row := make(map[string]interface{}, len(labels))
		for i, label := range labels {
			v, err := rs.GetObject(i + 1)
			if err != nil {
				return err
			}
			if b, isBytes := v.([]byte); isBytes {
				v = string(b)
			}
			row[label] = v
		}
		if err = enc.Encode(row); err != nil {
			return err
		}
	}
}

func init() {
	queryCmd.Flags().IntVar(&fetchSize, "fetch-size", 0, "Rows read per round trip, 0 reads all")
	rootCmd.AddCommand(queryCmd, execCmd)
}
