package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/helpmetest/cli/pkg/config"
	hmterrors "github.com/helpmetest/cli/pkg/errors"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			redacted := *a.cfg
			redacted.API.Token = redact(redacted.API.Token)
			redacted.UI.NATS.Token = redact(redacted.UI.NATS.Token)
			data, err := yaml.Marshal(&redacted)
			if err != nil {
				return hmterrors.Wrap(err, hmterrors.ErrCodeInternal, "failed to render configuration")
			}
			a.out.Print("%s", data)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "List the config files that are read, in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := config.Paths()
			if a.configPath != "" {
				paths = []string{a.configPath}
			}
			for _, p := range paths {
				state := "missing"
				if _, err := os.Stat(p); err == nil {
					state = "found"
				}
				a.out.Println("%s (%s)", p, state)
			}
			return nil
		},
	})
	return cmd
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}
