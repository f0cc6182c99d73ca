package review

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/musinsa-manager/internal/browser/remote"
	"github.com/xkilldash9x/musinsa-manager/internal/config"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
)

const (
	ReasonListTimeout       = "list_timeout"
	ReasonContainerNotFound = "container_not_found"
	ReasonFormNotReady      = "form_not_ready"
	ReasonListNotReached    = "list_not_reached"
	ReasonDOMExecFailed     = "dom_exec_failed"
)

const (
	// containerAttempts bounds how far down the virtualized list the search scrolls.
	containerAttempts = 60
	scrollStep        = 800
	scrollSettle      = 250 * time.Millisecond
	dialogAttempts    = 50
	completeAttempts  = 80
	// navigationRetries is how often a waiting step is re-run when a navigation tears
	// down the document under it.
	navigationRetries = 3
)

// Page is the tab the DOM variant drives. *browser.Window satisfies it.
type Page interface {
	remote.Evaluator
	Navigate(ctx context.Context, url string) error
	SetFileInputFiles(ctx context.Context, selector string, files []string) error
}

// Step is one traced action of a DOM submission.
type Step struct {
	Name          string                 `json:"name"`
	OrderNo       string                 `json:"orderNo"`
	OrderOptionNo string                 `json:"orderOptionNo"`
	Kind          musinsa.ReviewKind     `json:"kind"`
	Detail        map[string]interface{} `json:"detail,omitempty"`
}

// Trace receives every step of a DOM submission.
type Trace func(Step)

// DOMWriter fills and submits the site's review form in a browser tab.
type DOMWriter struct {
	cfg       config.ReviewConfig
	endpoints musinsa.Endpoints
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewDOMWriter creates a writer.
func NewDOMWriter(cfg config.ReviewConfig, endpoints musinsa.Endpoints, metrics *observability.Metrics, logger *zap.Logger) *DOMWriter {
	return &DOMWriter{cfg: cfg, endpoints: endpoints, metrics: metrics, logger: logger.Named("review_dom")}
}

// Write resolves each item against the reviewable records read from the review window and
// submits every kind that has content. Items run one after another on the same tab.
func (w *DOMWriter) Write(ctx context.Context, page Page, targets []musinsa.ListingRecord, items []musinsa.WriteItem, trace Trace) Result {
	if len(items) == 0 {
		return Result{Reason: ReasonEmptyPayload}
	}
	logger, _ := observability.WithOperation(w.logger, "write_reviews_dom")
	started := time.Now()
	defer func() { w.metrics.ObserveOperation("write_reviews_dom", time.Since(started).Seconds()) }()

	results := make([]ItemResult, 0, len(items))
	for _, item := range items {
		matched, ok := MatchTarget(targets, item)
		if !ok {
			logger.Info("Item is not reviewable in the review window.", zap.String("order_no", item.OrderNo.String()), zap.String("order_option_no", item.OrderOptionNo.String()))
			results = append(results, ItemResult{OrderNo: item.OrderNo.String(), OrderOptionNo: item.OrderOptionNo.String(), Reason: ReasonNotFound})
			continue
		}
		merged := Merge(matched, item)
		out := ItemResult{OK: true, OrderNo: merged.OrderNo.String(), OrderOptionNo: merged.OrderOptionNo.String()}
		for _, kind := range musinsa.ReviewKinds {
			if !hasText(merged.Template.Content(kind)) {
				continue
			}
			r := w.runTask(ctx, logger, page, merged, kind, trace)
			w.metrics.ReviewWrite("dom", string(kind), r.OK)
			out.set(kind, r)
			if !r.OK && out.OK {
				out.OK = false
				out.Reason = r.failure(string(kind) + "_failed")
			}
		}
		results = append(results, out)
	}
	return Result{OK: true, Results: results}
}

// tracer logs a step and forwards it to the caller's trace.
func tracer(logger *zap.Logger, item musinsa.WriteItem, kind musinsa.ReviewKind, trace Trace) func(name string, detail map[string]interface{}) {
	return func(name string, detail map[string]interface{}) {
		logger.Debug("DOM review step.", zap.String("step", name), zap.String("kind", string(kind)),
			zap.String("order_option_no", item.OrderOptionNo.String()), zap.Any("detail", detail))
		if trace != nil {
			trace(Step{Name: name, OrderNo: item.OrderNo.String(), OrderOptionNo: item.OrderOptionNo.String(), Kind: kind, Detail: detail})
		}
	}
}

func ctxReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded.Error()
	}
	return context.Canceled.Error()
}

func ms(d time.Duration) int64 { return d.Milliseconds() }

// settled re-runs a waiting step when a navigation destroys its document.
func settled[A any, R any](ctx context.Context, s remote.Script[A, R], ev remote.Evaluator, arg A) (R, error) {
	var (
		out R
		err error
	)
	for i := 0; i < navigationRetries; i++ {
		out, err = s.Run(ctx, ev, arg)
		if !remote.IsFrameDestroyed(err) {
			return out, err
		}
	}
	return out, err
}

// clicked treats a navigation caused by the click itself as success.
func clicked(err error) bool {
	return err == nil || remote.IsFrameDestroyed(err)
}

func (w *DOMWriter) scriptFailure(logger *zap.Logger, kind musinsa.ReviewKind, err error) *KindResult {
	logger.Warn("DOM review step failed.", zap.String("kind", string(kind)), zap.Error(err))
	switch {
	case remote.KindOf(err) == remote.KindWindowMissing:
		return &KindResult{Reason: string(remote.KindWindowMissing)}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &KindResult{Reason: ctxReason(err)}
	}
	return &KindResult{Reason: ReasonDOMExecFailed, Message: err.Error()}
}

func (w *DOMWriter) runTask(ctx context.Context, logger *zap.Logger, page Page, item musinsa.WriteItem, kind musinsa.ReviewKind, trace Trace) *KindResult {
	t := tracer(logger, item, kind, trace)
	poll := ms(w.cfg.PollInterval)

	direct := false
	if opt := item.OrderOptionNo.String(); opt != "" {
		url := w.endpoints.WriteForm(kind, opt)
		if err := page.Navigate(ctx, url); err != nil {
			if remote.KindOf(err) == remote.KindWindowMissing {
				return w.scriptFailure(logger, kind, err)
			}
			t("navigate:write_failed", map[string]interface{}{"url": url, "error": err.Error()})
		} else {
			direct = true
		}
	}

	ready := false
	if direct {
		st, err := settled(ctx, waitForm, page, formStateArgs{TimeoutMs: ms(w.cfg.FormTimeout), PollMs: poll, WritePath: writePath, Textarea: textareaSelectors})
		if err != nil {
			return w.scriptFailure(logger, kind, err)
		}
		ready = st.Ready
		t("form:direct", map[string]interface{}{"ready": st.Ready, "href": st.Href})
	}
	if !ready {
		reason, err := w.openFromList(ctx, page, item, kind, t)
		if err != nil {
			return w.scriptFailure(logger, kind, err)
		}
		if reason != "" {
			return &KindResult{Reason: reason}
		}
		st, err := settled(ctx, waitForm, page, formStateArgs{TimeoutMs: ms(w.cfg.FormTimeout), PollMs: poll, WritePath: writePath, Textarea: textareaSelectors, AwaitWritePage: true})
		if err != nil {
			return w.scriptFailure(logger, kind, err)
		}
		t("form:from_list", map[string]interface{}{"ready": st.Ready, "href": st.Href})
		if !st.Ready {
			return &KindResult{Reason: ReasonFormNotReady}
		}
	}

	tmpl := item.Template
	filled, err := fillForm.Run(ctx, page, fillArgs{
		Textarea:  textareaSelectors,
		Content:   tmpl.Content(kind),
		NeedsBody: tmpl.NeedsBodyFields(),
		Gender:    tmpl.Gender,
		Height:    tmpl.Height.String(),
		Weight:    tmpl.Weight.String(),
	})
	if err != nil {
		return w.scriptFailure(logger, kind, err)
	}
	t("form:filled", map[string]interface{}{"rated": filled.Rated, "questions": filled.Questions, "content": filled.Content, "gender": filled.Gender, "measures": filled.Measures})

	if path := tmpl.ImagePath(kind); path != "" {
		w.attach(ctx, page, path, t)
	} else {
		t("upload:skip_no_path", nil)
	}

	sub, err := submitForm.Run(ctx, page, submitArgs{SkipSubmit: item.SkipSubmit, DialogAttempts: dialogAttempts, PollMs: poll})
	if !clicked(err) {
		return w.scriptFailure(logger, kind, err)
	}
	if err == nil {
		if !sub.OK {
			return &KindResult{Reason: sub.Reason}
		}
		if sub.Skipped != "" {
			t("submit:skipped", nil)
			return &KindResult{OK: true, Skipped: sub.Skipped}
		}
	}
	t("submit:clicked", nil)

	skipComplete := w.cfg.SkipCompleteClick
	if item.SkipCompleteClick != nil {
		skipComplete = *item.SkipCompleteClick
	}
	if skipComplete {
		t("complete_click:skipped", nil)
		return &KindResult{OK: true, Skipped: "complete_click"}
	}

	done, err := clickComplete.Run(ctx, page, completeArgs{Attempts: completeAttempts, PollMs: poll})
	if !clicked(err) {
		return w.scriptFailure(logger, kind, err)
	}
	t("complete:clicked", map[string]interface{}{"found": done || err != nil})

	back, err := settled(ctx, waitList, page, listReadyArgs{TimeoutMs: ms(w.cfg.ListTimeout), PollMs: poll, ListPath: listPath, Marker: listMarkerSelector})
	if err != nil {
		return w.scriptFailure(logger, kind, err)
	}
	if !back {
		return &KindResult{Reason: ReasonListNotReached}
	}
	return &KindResult{OK: true}
}

// openFromList finds the item on the review list and clicks its write button. A non-empty
// reason means the list was usable but the item or its button was not.
func (w *DOMWriter) openFromList(ctx context.Context, page Page, item musinsa.WriteItem, kind musinsa.ReviewKind, t func(string, map[string]interface{})) (string, error) {
	if err := page.Navigate(ctx, w.endpoints.ReviewList()); err != nil {
		if remote.KindOf(err) == remote.KindWindowMissing {
			return "", err
		}
		t("navigate:list_failed", map[string]interface{}{"error": err.Error()})
	}

	for try := 0; try < containerAttempts; try++ {
		args := snapshotArgs{TimeoutMs: ms(w.cfg.ListTimeout), PollMs: ms(w.cfg.PollInterval), Marker: listMarkerSelector}
		if try > 0 {
			args.TimeoutMs = ms(w.cfg.PollInterval)
			args.ScrollBy = scrollStep
			args.SettleMs = ms(scrollSettle)
		}
		snap, err := settled(ctx, snapshotList, page, args)
		if err != nil {
			return "", err
		}
		if !snap.Ready {
			if try == 0 {
				return ReasonListTimeout, nil
			}
			continue
		}
		index, found, err := FindListEntry(snap.HTML, item)
		if err != nil {
			t("list:parse_failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		if !found {
			continue
		}
		t("list:matched", map[string]interface{}{"index": index, "tries": try})

		out, err := openWrite.Run(ctx, page, openArgs{ItemIndex: index, Kind: string(kind), Card: cardSelector})
		if !clicked(err) {
			return "", err
		}
		if err == nil && !out.OK {
			return out.Reason, nil
		}
		return "", nil
	}
	return ReasonContainerNotFound, nil
}

// attach uploads one image, first by assigning a constructed File in the page and then
// through the inspection-protocol file input. Failures are traced and otherwise ignored.
func (w *DOMWriter) attach(ctx context.Context, page Page, path string, t func(string, map[string]interface{})) bool {
	data, err := ReadFileBase64(path)
	if err != nil {
		t("upload:read_error", map[string]interface{}{"path": path, "error": err.Error()})
		return false
	}
	out, err := attachImage.Run(ctx, page, attachArgs{
		Name:     filepath.Base(path),
		Data:     data,
		Inputs:   fileInputSelectors,
		Trigger:  uploadTrigger,
		Attempts: w.cfg.UploadAttempts,
		PollMs:   ms(w.cfg.PollInterval),
	})
	if err == nil && out.OK {
		t("upload:set_input", map[string]interface{}{"tries": out.Tries, "candidates": out.Candidates, "fileCount": out.FileCount})
		return true
	}
	detail := map[string]interface{}{"tries": out.Tries, "candidates": out.Candidates}
	if err != nil {
		detail["error"] = err.Error()
	}
	t("upload:cdp_start", detail)

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if err := page.SetFileInputFiles(ctx, cdpFileInput, []string{abs}); err != nil {
		t("upload:cdp_fail", map[string]interface{}{"error": err.Error()})
		return false
	}
	t("upload:cdp_success", nil)
	return true
}

// ReadFileBase64 returns a local file's content as standard base64.
func ReadFileBase64(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("review: empty path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("review: %s is empty", path)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
