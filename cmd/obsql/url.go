package main

import (
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	oceanbase "github.com/oceanbase/obconnector-go"
)

type parsedURL struct {
	URL      string             `json:"url"`
	Oracle   bool               `json:"oracle"`
	HAMode   string             `json:"haMode"`
	Hosts    []string           `json:"hosts"`
	Database string             `json:"database"`
	Unknown  []string           `json:"unknownOptions,omitempty"`
	Options  *oceanbase.Options `json:"options"`
}

var parseURLCmd = &cobra.Command{
	Use:   "parse-url [url]",
	Short: "Print the parsed form of a connection url",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := rawURL
		if len(args) == 1 {
			s = args[0]
		}

		u, err := oceanbase.ParseURL(s)
		if err != nil {
			return err
		}

		out := parsedURL{
			URL:      u.String(),
			Oracle:   u.Oracle,
			HAMode:   u.HAMode.String(),
			Database: u.Database,
			Unknown:  u.Unknown,
			Options:  u.Options.Clone(),
		}
		out.Options.Password = ""
		for _, h := range u.Hosts {
			out.Hosts = append(out.Hosts, h.String())
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(parseURLCmd)
}
