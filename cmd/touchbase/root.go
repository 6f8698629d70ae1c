package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"touchbase/internal/app"
)

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "touchbase",
		Short:         "Check-in scheduling and status reconciliation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "./config.json", "path to config file (json or yaml)")

	cmd.AddCommand(
		newServeCommand(opts),
		newReconcileCommand(opts),
		newFeedCommand(opts),
		newTokenCommand(opts),
		newNextDueCommand(),
		newClassifyCommand(),
	)
	return cmd
}

// withApp builds the app for a one-shot command and closes it afterwards.
func withApp(opts *rootOptions, fn func(a *app.App) error) error {
	a, err := app.New(opts.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
