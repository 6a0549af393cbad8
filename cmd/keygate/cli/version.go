package cli

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/ratelimit"
)

type versionInfo struct {
	Version         string   `json:"version"`
	Commit          string   `json:"commit"`
	Built           string   `json:"built"`
	GoVersion       string   `json:"go_version"`
	Platform        string   `json:"platform"`
	StoreDrivers    []string `json:"store_drivers"`
	LimiterBackends []string `json:"limiter_backends"`
}

func newVersionCmd(version, commit, date string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version:         version,
				Commit:          commit,
				Built:           date,
				GoVersion:       runtime.Version(),
				Platform:        runtime.GOOS + "/" + runtime.GOARCH,
				StoreDrivers:    []string{config.DriverSQLite, config.DriverPostgres, config.DriverMySQL, config.DriverSQLServer},
				LimiterBackends: []string{ratelimit.BackendMemory, ratelimit.BackendRedis},
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, info)
			}

			fmt.Fprintf(out, "keygate %s\n", info.Version)
			fmt.Fprintf(out, "  commit:   %s\n", info.Commit)
			fmt.Fprintf(out, "  built:    %s\n", info.Built)
			fmt.Fprintf(out, "  go:       %s (%s)\n", info.GoVersion, info.Platform)
			fmt.Fprintf(out, "  stores:   %s\n", strings.Join(info.StoreDrivers, ", "))
			fmt.Fprintf(out, "  limiters: %s\n", strings.Join(info.LimiterBackends, ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	return cmd
}
