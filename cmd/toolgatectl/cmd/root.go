package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apiecho "go.pilab.hu/toolgate/api/echo"
)

const AppName = "toolgatectl"

// NewRootCmd builds the command tree. Settings come from flags or from
// TOOLGATECTL_* environment variables.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TOOLGATECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           AppName,
		Short:         "toolgatectl talks to the toolgate access broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("server", "http://localhost:8080", "broker base URL")
	flags.String("prefix", apiecho.DefaultRoutePrefix, "API route prefix")
	flags.String("token", "", "session bearer token")
	_ = v.BindPFlags(flags)

	root.AddCommand(
		newRequestAccessCmd(v),
		newCleanupCmd(v),
		newDevTokenCmd(v),
	)

	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
