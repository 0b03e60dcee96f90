package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toolshed/toolshed/app/toolshedctl/cmd/utils/sharedvenv"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionJSON bool

// VersionInfo represents CLI version information
type VersionInfo struct {
	Version   string   `json:"version"`
	Commit    string   `json:"commit"`
	BuildDate string   `json:"buildDate"`
	Platform  string   `json:"platform"`
	GoVersion string   `json:"goVersion"`
	Backends  []string `json:"backends"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version information for toolshedctl and the environment backends it supports.`,
	Run: func(cmd *cobra.Command, args []string) {
		info := VersionInfo{
			Version:   Version,
			Commit:    Commit,
			BuildDate: BuildDate,
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			GoVersion: runtime.Version(),
			Backends:  sharedvenv.Backends().Names(),
		}
		if versionJSON {
			outputJSON(info)
		} else {
			outputHumanReadable(info)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Output in JSON format")
}

// outputJSON outputs version information in JSON format
func outputJSON(info VersionInfo) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(info)
}

// outputHumanReadable outputs version information in human-readable format
func outputHumanReadable(info VersionInfo) {
	fmt.Printf("toolshedctl %s (commit %s, %s)\n",
		info.Version,
		shortCommit(info.Commit),
		info.BuildDate)
	fmt.Printf("Platform: %s, %s\n", info.Platform, info.GoVersion)
	fmt.Printf("Backends: %s\n", strings.Join(info.Backends, ", "))
}

// shortCommit returns the first 7 characters of a commit hash
func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
