package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/musinsa-manager/internal/config"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
	"github.com/xkilldash9x/musinsa-manager/internal/service"
	"github.com/xkilldash9x/musinsa-manager/internal/store"
	"github.com/xkilldash9x/musinsa-manager/internal/validation"
)

// TemplateEntry is one entry of a template file.
type TemplateEntry struct {
	ProductKey string           `yaml:"product_key"`
	Template   musinsa.Template `yaml:"template"`
}

// openStore connects to the template database. Tests replace it.
var openStore = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service.TemplateStore, func(), error) {
	url := cfg.Database().URL
	if url == "" {
		return nil, nil, errors.New("no database configured (set database.url or MUSINSA_DATABASE_URL)")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}

func newTemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manages stored review templates",
	}
	cmd.AddCommand(newTemplateValidateCmd(), newTemplateImportCmd())
	cmd.AddCommand(
		templateQueryCmd("get <productKey>", "Prints one stored template", 1, func(ctx context.Context, c *service.Controller, args []string) service.TemplateResult {
			return c.GetTemplate(ctx, args[0])
		}),
		templateQueryCmd("list", "Prints every stored template", 0, func(ctx context.Context, c *service.Controller, args []string) service.TemplateResult {
			return c.ListTemplates(ctx)
		}),
		templateQueryCmd("delete <productKey>", "Removes a stored template", 1, func(ctx context.Context, c *service.Controller, args []string) service.TemplateResult {
			return c.DeleteTemplate(ctx, args[0])
		}),
	)
	return cmd
}

// readTemplateFile parses a YAML list of TemplateEntry.
func readTemplateFile(path string) ([]TemplateEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}
	var entries []TemplateEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return entries, nil
}

// ValidationReport is the outcome of template validate for one entry.
type ValidationReport struct {
	ProductKey string `json:"productKey"`
	OK         bool   `json:"ok"`
	Reason     string `json:"reason,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func newTemplateValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.yaml>",
		Short: "Checks a template file offline without storing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readTemplateFile(args[0])
			if err != nil {
				return err
			}
			reports := make([]ValidationReport, len(entries))
			failed := 0
			for i, e := range entries {
				reports[i] = ValidationReport{ProductKey: e.ProductKey, OK: true}
				if verr := validation.ValidateTemplate(e.ProductKey, e.Template); verr != nil {
					failed++
					reports[i].OK = false
					reports[i].Reason = validation.ReasonOf(verr)
					var ve *validation.Error
					if errors.As(verr, &ve) {
						reports[i].Detail = ve.Detail
					}
				}
			}
			if err := printJSON(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d templates are invalid", failed, len(entries))
			}
			return nil
		},
	}
}

func newTemplateImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Validates and stores every template in a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readTemplateFile(args[0])
			if err != nil {
				return err
			}
			return withTemplateController(cmd, func(ctx context.Context, c *service.Controller) error {
				results := make([]service.TemplateResult, len(entries))
				failed := 0
				for i, e := range entries {
					results[i] = c.SaveTemplate(ctx, e.ProductKey, e.Template)
					if !results[i].OK {
						failed++
					}
				}
				if err := printJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d templates were not stored", failed, len(entries))
				}
				return nil
			})
		},
	}
}

func templateQueryCmd(use, short string, nargs int, run func(ctx context.Context, c *service.Controller, args []string) service.TemplateResult) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTemplateController(cmd, func(ctx context.Context, c *service.Controller) error {
				res := run(ctx, c, args)
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.OK {
					return fmt.Errorf("template command failed: %s", res.Reason)
				}
				return nil
			})
		},
	}
}

// withTemplateController runs fn against a controller backed only by the store; template
// commands never need the browser.
func withTemplateController(cmd *cobra.Command, fn func(ctx context.Context, c *service.Controller) error) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := observability.GetLogger()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, service.New(service.Deps{Store: st}, nil, logger))
}
