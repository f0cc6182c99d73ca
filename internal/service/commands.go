package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/musinsa-manager/internal/confirm"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
)

var (
	// ErrUnknownCommand is returned by Dispatch for a command name it does not serve.
	ErrUnknownCommand = errors.New("service: unknown command")
	// ErrBadPayload wraps payload decoding failures.
	ErrBadPayload = errors.New("service: bad payload")
)

// LoginRequest is the payload of login.
type LoginRequest struct {
	LoginID  string `json:"loginId"`
	Password string `json:"password"`
}

// ConfirmRequest is the payload of confirmOrders.
type ConfirmRequest struct {
	Items []confirm.Item `json:"items"`
}

// WriteRequest is the payload of writeReviews and writeReviewsDom.
type WriteRequest struct {
	Items []musinsa.WriteItem `json:"items"`
}

// RangeRequest is the payload of syncOrdersRange.
type RangeRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// PathRequest is the payload of readFile.
type PathRequest struct {
	Path string `json:"path"`
}

// FileInputRequest is the payload of setFileInputFiles.
type FileInputRequest struct {
	Selector string   `json:"selector"`
	Files    []string `json:"files"`
}

// TemplateRequest is the payload of the template commands. Template is ignored except by
// saveTemplate.
type TemplateRequest struct {
	ProductKey string           `json:"productKey"`
	Template   musinsa.Template `json:"template"`
}

type handler func(ctx context.Context, c *Controller, payload []byte) (interface{}, error)

func decode[T any](payload []byte) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return v, nil
}

func with[T any](run func(ctx context.Context, c *Controller, req T) interface{}) handler {
	return func(ctx context.Context, c *Controller, payload []byte) (interface{}, error) {
		req, err := decode[T](payload)
		if err != nil {
			return nil, err
		}
		return run(ctx, c, req), nil
	}
}

func plain(run func(ctx context.Context, c *Controller) interface{}) handler {
	return func(ctx context.Context, c *Controller, _ []byte) (interface{}, error) {
		return run(ctx, c), nil
	}
}

var commands = map[string]handler{
	"login": with(func(ctx context.Context, c *Controller, r LoginRequest) interface{} {
		return c.Login(ctx, r.LoginID, r.Password)
	}),
	"logout": plain(func(ctx context.Context, c *Controller) interface{} {
		return c.Logout(ctx)
	}),
	"fetchSessionStatus": plain(func(ctx context.Context, c *Controller) interface{} {
		return c.FetchSessionStatus(ctx)
	}),
	"fetchReviewTargets": plain(func(ctx context.Context, c *Controller) interface{} {
		return c.FetchReviewTargets(ctx)
	}),
	"confirmOrders": with(func(ctx context.Context, c *Controller, r ConfirmRequest) interface{} {
		return c.ConfirmOrders(ctx, r.Items)
	}),
	"writeReviews": with(func(ctx context.Context, c *Controller, r WriteRequest) interface{} {
		return c.WriteReviews(ctx, r.Items)
	}),
	"writeReviewsDom": with(func(ctx context.Context, c *Controller, r WriteRequest) interface{} {
		return c.WriteReviewsDom(ctx, r.Items)
	}),
	"syncOrdersRange": with(func(ctx context.Context, c *Controller, r RangeRequest) interface{} {
		return c.SyncOrdersRange(ctx, r.StartDate, r.EndDate)
	}),
	"closeReviewWindow": plain(func(ctx context.Context, c *Controller) interface{} {
		return c.CloseReviewWindow(ctx)
	}),
	"readFile": with(func(_ context.Context, c *Controller, r PathRequest) interface{} {
		return c.ReadFile(r.Path)
	}),
	"setFileInputFiles": with(func(ctx context.Context, c *Controller, r FileInputRequest) interface{} {
		return c.SetFileInputFiles(ctx, r.Selector, r.Files)
	}),
	"saveTemplate": with(func(ctx context.Context, c *Controller, r TemplateRequest) interface{} {
		return c.SaveTemplate(ctx, r.ProductKey, r.Template)
	}),
	"getTemplate": with(func(ctx context.Context, c *Controller, r TemplateRequest) interface{} {
		return c.GetTemplate(ctx, r.ProductKey)
	}),
	"listTemplates": plain(func(ctx context.Context, c *Controller) interface{} {
		return c.ListTemplates(ctx)
	}),
	"deleteTemplate": with(func(ctx context.Context, c *Controller, r TemplateRequest) interface{} {
		return c.DeleteTemplate(ctx, r.ProductKey)
	}),
}

// Commands lists the command names Dispatch serves, sorted.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch decodes payload for the named command and runs it. Only an unknown command or
// an undecodable payload is an error; every other failure is reported inside the result.
func (c *Controller) Dispatch(ctx context.Context, name string, payload []byte) (interface{}, error) {
	h, ok := commands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	logger, opID := observability.WithOperation(c.logger, name)
	started := time.Now()
	logger.Debug("Command received.")

	res, err := h(ctx, c, payload)
	elapsed := time.Since(started)
	c.metrics.ObserveOperation(name, elapsed.Seconds())
	if err != nil {
		logger.Warn("Command rejected.", zap.Error(err))
		return nil, err
	}
	logger.Info("Command finished.", zap.String("op_id", opID), zap.Duration("elapsed", elapsed))
	return res, nil
}
