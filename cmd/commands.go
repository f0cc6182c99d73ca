package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/musinsa-manager/internal/confirm"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/service"
)

// passwordEnv is read when --password is not given, keeping it out of shell history.
const passwordEnv = "MUSINSA_PASSWORD"

func newLoginCmd() *cobra.Command {
	var loginID, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Signs in through the browser session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv(passwordEnv)
			}
			return runCommand(cmd, "login", service.LoginRequest{LoginID: loginID, Password: password})
		},
	}
	cmd.Flags().StringVar(&loginID, "login-id", "", "Account login id")
	cmd.Flags().StringVar(&password, "password", "", "Account password (default $"+passwordEnv+")")
	_ = cmd.MarkFlagRequired("login-id")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Signs out of the browser session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "logout", nil)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probes whether the session is signed in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "fetchSessionStatus", nil)
		},
	}
}

func newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "Lists items awaiting a review or a purchase confirmation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "fetchReviewTargets", nil)
		},
	}
}

func newConfirmCmd() *cobra.Command {
	var itemsFile string
	cmd := &cobra.Command{
		Use:   "confirm [orderNo:orderOptionNo...]",
		Short: "Confirms purchases",
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []confirm.Item
			if itemsFile != "" {
				if err := loadItems(itemsFile, &items); err != nil {
					return err
				}
			}
			for _, arg := range args {
				orderNo, optionNo, ok := strings.Cut(arg, ":")
				if !ok || orderNo == "" || optionNo == "" {
					return fmt.Errorf("invalid item %q, want orderNo:orderOptionNo", arg)
				}
				items = append(items, confirm.Item{OrderNo: musinsa.FlexString(orderNo), OrderOptionNo: musinsa.FlexString(optionNo)})
			}
			if len(items) == 0 {
				return errors.New("no items to confirm")
			}
			return runCommand(cmd, "confirmOrders", service.ConfirmRequest{Items: items})
		},
	}
	cmd.Flags().StringVarP(&itemsFile, "items", "i", "", "JSON or YAML file listing {orderNo, orderOptionNo} items")
	return cmd
}

func newSyncCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pulls every order placed in a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "syncOrdersRange", service.RangeRequest{StartDate: start, EndDate: end})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First order date, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "Last order date, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newReviewCmd() *cobra.Command {
	var itemsFile string
	var dom bool
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Writes reviews for the listed items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []musinsa.WriteItem
			if err := loadItems(itemsFile, &items); err != nil {
				return err
			}
			command := "writeReviews"
			if dom {
				command = "writeReviewsDom"
			}
			return runCommand(cmd, command, service.WriteRequest{Items: items})
		},
	}
	cmd.Flags().StringVarP(&itemsFile, "items", "i", "", "JSON or YAML file listing review items")
	cmd.Flags().BoolVar(&dom, "dom", false, "Fill the review form in the browser instead of calling the API")
	cmd.Flags().Bool("review-visible", false, "Show the review window while --dom runs. (Overrides config/env)")
	_ = cmd.MarkFlagRequired("items")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version",
		Args:  cobra.NoArgs,
		// No config is needed to print the version.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

// loadItems decodes a JSON or YAML list into dst. YAML goes through JSON so both formats
// share the json field names.
func loadItems(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read items: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var generic interface{}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if data, err = json.Marshal(generic); err != nil {
			return fmt.Errorf("failed to convert %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
