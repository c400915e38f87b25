package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"go.pilab.hu/toolgate/cmd/toolgatectl/client"
)

func newClient(v *viper.Viper) (*client.Client, error) {
	return client.New(v.GetString("server"), v.GetString("prefix"), v.GetString("token"))
}

func printYAML(cmd *cobra.Command, value any) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(value); err != nil {
		return err
	}
	return enc.Close()
}

func newRequestAccessCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "request-access TOOL_ID",
		Short: "Issue a one-time launch link for a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(v)
			if err != nil {
				return err
			}
			resp, err := c.RequestAccess(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printYAML(cmd, resp)
		},
	}
}

func newCleanupCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired grants (requires an elevated session)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(v)
			if err != nil {
				return err
			}
			resp, err := c.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			return printYAML(cmd, resp)
		},
	}
}
