package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/storyhook/internal/cli"
	"github.com/hyperjump/storyhook/internal/connection"
	"github.com/hyperjump/storyhook/internal/importer"
	"github.com/hyperjump/storyhook/internal/models"
)

// errNoToken is returned when an identity has no stored token.
var errNoToken = errors.New("no token stored for identity; run 'storyhook token set' first")

func tokenFor(ctx context.Context, c *Components, identity string) (string, error) {
	token, err := c.Tokens.Get(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if token == "" {
		return "", fmt.Errorf("%s: %w", identity, errNoToken)
	}
	return token, nil
}

func newImportCmd(flags *globalFlags) *cobra.Command {
	var identity, output string
	cmd := &cobra.Command{
		Use:   "import <project> <document>",
		Short: "Import one document, updating its draft when one exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity = strings.TrimSpace(identity)
			if identity == "" {
				return errors.New("--identity is required")
			}
			c, err := setup(flags, componentOptions{forward: true})
			if err != nil {
				return err
			}
			defer c.Close()
			ctx := cmd.Context()

			token, err := tokenFor(ctx, c, identity)
			if err != nil {
				return err
			}
			out, err := c.Pipeline.Import(ctx, importer.Request{
				ProjectID:  args[0],
				DocumentID: args[1],
				AuthorID:   identity,
				Fetcher:    c.Session(token),
			})
			if err != nil {
				return err
			}
			c.Logger.Debug("import finished", zap.Int64("record_id", out.RecordID), zap.Int("media_replaced", out.MediaReplaced))
			return cli.WriteImportResult(cmd.OutOrStdout(), &models.ImportResult{
				ProjectID:  args[0],
				DocumentID: args[1],
				RecordID:   out.RecordID,
				EditURL:    c.Config.EditURL(out.RecordID),
				Updated:    out.Updated,
			}, cli.ParseOutputFormat(output))
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "local identity whose token authenticates the fetch")
	cmd.Flags().StringVar(&output, "output", "text", "output format: text or json")
	return cmd
}

func newTokenCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage stored source service tokens",
	}

	var verify bool
	setCmd := &cobra.Command{
		Use:   "set <identity> <token>",
		Short: "Store (encrypted) the token for an identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, token := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
			if identity == "" || token == "" {
				return errors.New("identity and token must not be empty")
			}
			c, err := setup(flags, componentOptions{})
			if err != nil {
				return err
			}
			defer c.Close()
			ctx := cmd.Context()
			if verify {
				user, err := c.Client.Session(token).GetUser(ctx)
				if err != nil {
					return fmt.Errorf("verify token: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Token belongs to %s\n", user.Email)
			}
			if _, err := c.Tokens.Set(ctx, identity, token); err != nil {
				return fmt.Errorf("store token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token stored for %s\n", identity)
			return nil
		},
	}
	setCmd.Flags().BoolVar(&verify, "verify", false, "check the token against the source service first")

	clearCmd := &cobra.Command{
		Use:   "clear <identity>",
		Short: "Remove the stored token for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup(flags, componentOptions{})
			if err != nil {
				return err
			}
			defer c.Close()
			removed, err := c.Tokens.Clear(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("clear token: %w", err)
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Token cleared for %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "No token stored for %s\n", args[0])
			}
			return nil
		},
	}

	cmd.AddCommand(setCmd, clearCmd)
	return cmd
}

func newConnectCmd(flags *globalFlags) *cobra.Command {
	var update, all bool
	var output string
	cmd := &cobra.Command{
		Use:   "connect <identity>",
		Short: "Register this site as the webhook target for an identity",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				if !update {
					return errors.New("--all requires --update")
				}
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup(flags, componentOptions{})
			if err != nil {
				return err
			}
			defer c.Close()
			ctx := cmd.Context()
			if all {
				n, err := c.Connections.UpdateAll(ctx, func(ctx context.Context, identity string) (connection.Registry, error) {
					token, err := tokenFor(ctx, c, identity)
					if err != nil {
						return nil, err
					}
					return c.Client.Session(token), nil
				})
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %d connection(s)\n", n)
				return err
			}
			identity := args[0]
			token, err := tokenFor(ctx, c, identity)
			if err != nil {
				return err
			}
			session := c.Client.Session(token)
			if update {
				if err := c.Connections.Update(ctx, session, identity); err != nil {
					return err
				}
			} else if _, err := c.Connections.Register(ctx, session, identity); err != nil {
				return err
			}
			conn, err := c.Connections.Get(ctx, identity)
			if err != nil {
				return err
			}
			if conn == nil {
				return fmt.Errorf("connection for %s was not stored", identity)
			}
			return cli.WriteConnection(cmd.OutOrStdout(), conn, cli.ParseOutputFormat(output))
		},
	}
	cmd.Flags().BoolVar(&update, "update", false, "re-send the target of an existing connection")
	cmd.Flags().BoolVar(&all, "all", false, "with --update, re-send the targets of every stored connection")
	cmd.Flags().StringVar(&output, "output", "text", "output format: text or json")
	return cmd
}

func newDisconnectCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <identity>",
		Short: "Remove the webhook target registered for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := setup(flags, componentOptions{})
			if err != nil {
				return err
			}
			defer c.Close()
			ctx := cmd.Context()
			identity := args[0]
			token, err := tokenFor(ctx, c, identity)
			if err != nil {
				return err
			}
			removed, err := c.Connections.Remove(ctx, c.Client.Session(token), identity)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Disconnected %s\n", identity)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "No connection for %s\n", identity)
			}
			return nil
		},
	}
}
