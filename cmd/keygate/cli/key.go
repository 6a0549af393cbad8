package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, inspect and revoke API keys directly against the key store.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyShowCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// keyRow is the JSON shape of a key in CLI output. It never carries the
// digest.
type keyRow struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Masked      string          `json:"masked"`
	CreatedAt   time.Time       `json:"created_at"`
	Revoked     bool            `json:"revoked"`
	Metadata    *model.Metadata `json:"metadata,omitempty"`
}

func newKeyRow(k *model.APIKey) keyRow {
	return keyRow{
		ID:          k.ID,
		DisplayName: k.Name,
		Masked:      k.Masked(),
		CreatedAt:   k.CreatedAt,
		Revoked:     k.Revoked,
		Metadata:    k.Metadata,
	}
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name       string
		kind       string
		attrs      map[string]string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Generate a new API key. The plaintext key is shown once and cannot be
retrieved again. Output is JSON when --json is set or stdout is not a terminal.`,
		Example: `  keygate key create --name "Production"
  keygate key create --name "bench rig" --kind hardware --attr processor=rp2040 --attr memory=264KB`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(attrs) > 0 && kind == "" {
				return errors.New("--attr requires --kind")
			}
			req := service.IssueRequest{DisplayName: name}
			if kind != "" {
				req.Metadata = &service.MetadataInput{Kind: kind, Attributes: attrs}
			}
			out := cmd.OutOrStdout()
			return runKeyCreate(cmd.Context(), out, req, jsonOutput || !isTerminal(out))
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name for the key")
	cmd.Flags().StringVar(&kind, "kind", "", "Metadata kind to attach, e.g. hardware or motor")
	cmd.Flags().StringToStringVar(&attrs, "attr", nil, "Metadata attribute as name=value (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyCreate(ctx context.Context, out io.Writer, req service.IssueRequest, jsonOutput bool) error {
	cfg := loadConfig()
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := newKeyService(cfg, store, quietLogger())
	if err != nil {
		return err
	}

	issued, err := keys.Issue(ctx, req)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	if jsonOutput {
		resp := map[string]interface{}{
			"id":            issued.Key.ID,
			"display_name":  issued.Key.Name,
			"plaintext_key": issued.Plaintext,
			"last4":         issued.Key.Last4,
			"created_at":    issued.Key.CreatedAt,
		}
		if issued.Key.Metadata != nil {
			resp["metadata"] = issued.Key.Metadata
		}
		if issued.MetadataErr != nil {
			resp["metadata_error"] = issued.MetadataErr.Error()
		}
		return printJSON(out, resp)
	}

	fmt.Fprintln(out, "API Key created:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Key:  %s\n", issued.Plaintext)
	fmt.Fprintf(out, "  ID:   %s\n", issued.Key.ID)
	if issued.Key.Name != "" {
		fmt.Fprintf(out, "  Name: %s\n", issued.Key.Name)
	}
	if issued.MetadataErr != nil {
		fmt.Fprintf(out, "  Metadata was not saved: %v\n", issued.MetadataErr)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		all        bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.Context(), cmd.OutOrStdout(), all, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include revoked keys")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(ctx context.Context, out io.Writer, includeRevoked, jsonOutput bool) error {
	store, err := openStore(loadConfig())
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(ctx, includeRevoked)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	rows := make([]keyRow, len(keys))
	for i := range keys {
		rows[i] = newKeyRow(&keys[i])
	}

	if jsonOutput {
		return printJSON(out, rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "No API keys found. Use 'keygate key create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-10s  %-24s  %-20s  %-7s\n", "ID", "KEY", "NAME", "CREATED", "REVOKED")
	for _, k := range rows {
		revoked := "no"
		if k.Revoked {
			revoked = "yes"
		}
		fmt.Fprintf(out, "%-36s  %-10s  %-24s  %-20s  %-7s\n",
			k.ID, k.Masked, k.DisplayName, k.CreatedAt.Format(time.RFC3339), revoked)
	}
	return nil
}

// ---------- key show ----------

func newKeyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one API key and its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyShow(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func runKeyShow(ctx context.Context, out io.Writer, id string) error {
	cfg := loadConfig()
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := newKeyService(cfg, store, quietLogger())
	if err != nil {
		return err
	}

	key, err := keys.Get(ctx, id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return fmt.Errorf("no API key with id %q", id)
		}
		return err
	}
	return printJSON(out, newKeyRow(key))
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Long:  "Permanently revoke an API key. Revoked keys fail verification on the next request.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func runKeyRevoke(ctx context.Context, out io.Writer, id string) error {
	cfg := loadConfig()
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := newKeyService(cfg, store, quietLogger())
	if err != nil {
		return err
	}

	ok, err := keys.Revoke(ctx, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if !ok {
		return fmt.Errorf("no active API key with id %q", id)
	}

	fmt.Fprintf(out, "Revoked API key %s\n", id)
	return nil
}
