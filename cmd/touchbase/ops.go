package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"touchbase/internal/app"
	"touchbase/internal/feed"
)

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile one owner, or every owner in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app.App) error {
				if owner != "" {
					res, err := a.Reconcile().Run(cmd.Context(), owner)
					if err != nil {
						return err
					}
					return writeJSON(cmd.OutOrStdout(), res)
				}
				results, err := a.Reconcile().RunAll(cmd.Context())
				if werr := writeJSON(cmd.OutOrStdout(), results); werr != nil {
					return werr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (default: all owners)")
	return cmd
}

func newFeedCommand(opts *rootOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Write an owner's iCalendar feed to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app.App) error {
				return a.Feed().Render(cmd.Context(), cmd.OutOrStdout(), owner)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Show or rotate feed subscription tokens",
	}
	var owner string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the owner's feed URL, issuing a token on first use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app.App) error {
				tok, err := a.Tokens().Get(cmd.Context(), owner)
				if err != nil {
					return err
				}
				return printToken(cmd, a, tok.Token)
			})
		},
	}
	rotate := &cobra.Command{
		Use:   "rotate",
		Short: "Replace the owner's feed token; the old URL stops working",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app.App) error {
				tok, err := a.Tokens().Rotate(cmd.Context(), owner)
				if err != nil {
					return err
				}
				return printToken(cmd, a, tok.Token)
			})
		},
	}
	cmd.PersistentFlags().StringVar(&owner, "owner", "", "owner id")
	_ = cmd.MarkPersistentFlagRequired("owner")
	cmd.AddCommand(show, rotate)
	return cmd
}

func printToken(cmd *cobra.Command, a *app.App, token string) error {
	base := strings.TrimSpace(a.Config().Feed.BaseURL)
	if base == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), feed.URL(base, token))
	return err
}
