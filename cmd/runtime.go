package cmd

import (
	"context"
	"fmt"
	"io"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/musinsa-manager/internal/config"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
	"github.com/xkilldash9x/musinsa-manager/internal/service"
)

// Runtime is a running browser session with its controller.
type Runtime interface {
	Dispatch(ctx context.Context, name string, payload []byte) (interface{}, error)
	Subscribe(buffer int) (<-chan service.Event, func())
	Metrics() *observability.Metrics
	Shutdown()
}

type componentsRuntime struct {
	*service.Components
}

func (r componentsRuntime) Dispatch(ctx context.Context, name string, payload []byte) (interface{}, error) {
	return r.Controller.Dispatch(ctx, name, payload)
}

func (r componentsRuntime) Subscribe(buffer int) (<-chan service.Event, func()) {
	return r.Controller.Subscribe(buffer)
}

func (r componentsRuntime) Metrics() *observability.Metrics { return r.Components.Metrics }

// startRuntime launches the browser and wires the controller. Tests replace it.
var startRuntime = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Runtime, error) {
	components, err := service.NewComponents(ctx, cfg, observability.NewMetrics(), logger)
	if err != nil {
		return nil, err
	}
	return componentsRuntime{components}, nil
}

// runCommand starts a runtime, runs one controller command and prints its result as JSON.
// Events raised while it runs are printed to stderr, one per line.
func runCommand(cmd *cobra.Command, name string, payload interface{}) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := observability.GetLogger()

	var raw []byte
	if payload != nil {
		if raw, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", name, err)
		}
	}

	rt, err := startRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser session: %w", err)
	}
	defer rt.Shutdown()

	events, unsubscribe := rt.Subscribe(256)
	followed := make(chan struct{})
	go func() {
		defer close(followed)
		printEvents(cmd.ErrOrStderr(), events)
	}()

	res, err := rt.Dispatch(ctx, name, raw)
	unsubscribe()
	<-followed
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func printEvents(w io.Writer, events <-chan service.Event) {
	for ev := range events {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "[%s] %s\n", ev.Type, data)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
