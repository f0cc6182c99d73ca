package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/musinsa-manager/internal/config"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
)

// Client is the direct transport the API variant needs. *musinsa.HTTPClient satisfies it
// once seeded from the logged-in window.
type Client interface {
	musinsa.Doer
	Put(ctx context.Context, rawURL, contentType string, body []byte) (*musinsa.Response, error)
}

// satisfaction is one answered satisfaction question.
type satisfaction struct {
	QuestionID int `json:"questionId"`
	AnswerID   int `json:"answerId"`
}

// defaultSatisfaction answers every standard question with its most positive choice. It
// is sent when before-write does not supply its own block.
var defaultSatisfaction = []satisfaction{
	{QuestionID: 1427, AnswerID: 7130},
	{QuestionID: 1428, AnswerID: 7135},
	{QuestionID: 1429, AnswerID: 7140},
	{QuestionID: 1430, AnswerID: 7145},
}

// uploadError carries one of the image upload reason codes.
type uploadError struct {
	reason string
	err    error
}

func (e *uploadError) Error() string {
	if e.err != nil {
		return e.reason + ": " + e.err.Error()
	}
	return e.reason
}

func (e *uploadError) Unwrap() error { return e.err }

// image is an uploaded attachment as the submit API expects it.
type image struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	URL      string `json:"url"`
}

// APIWriter posts reviews through the review API.
type APIWriter struct {
	cfg       config.ReviewConfig
	endpoints musinsa.Endpoints
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewAPIWriter creates a writer.
func NewAPIWriter(cfg config.ReviewConfig, endpoints musinsa.Endpoints, metrics *observability.Metrics, logger *zap.Logger) *APIWriter {
	return &APIWriter{cfg: cfg, endpoints: endpoints, metrics: metrics, logger: logger.Named("review_api"), now: time.Now}
}

// Write submits both review kinds for every item, one item at a time. Image uploads
// happen first; an upload failure fails the item without submitting anything.
func (w *APIWriter) Write(ctx context.Context, client Client, items []musinsa.WriteItem) Result {
	if len(items) == 0 {
		return Result{Reason: ReasonEmptyPayload}
	}
	logger, _ := observability.WithOperation(w.logger, "write_reviews")
	started := time.Now()
	defer func() { w.metrics.ObserveOperation("write_reviews", time.Since(started).Seconds()) }()

	results := make([]ItemResult, 0, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			results = append(results, ItemResult{OrderNo: item.OrderNo.String(), OrderOptionNo: item.OrderOptionNo.String(), Reason: ctx.Err().Error()})
			continue
		}
		results = append(results, w.writeItem(ctx, logger, client, item))
	}
	return Result{OK: true, Results: results}
}

func (w *APIWriter) writeItem(ctx context.Context, logger *zap.Logger, client Client, item musinsa.WriteItem) ItemResult {
	out := ItemResult{OrderNo: item.OrderNo.String(), OrderOptionNo: item.OrderOptionNo.String()}
	logger = logger.With(zap.String("order_no", out.OrderNo), zap.String("order_option_no", out.OrderOptionNo))

	uploads := make(map[musinsa.ReviewKind]*image, 2)
	for _, kind := range musinsa.ReviewKinds {
		path := item.Template.ImagePath(kind)
		if path == "" {
			continue
		}
		img, err := w.upload(ctx, client, item.GoodsNo, path)
		if err != nil {
			logger.Warn("Image upload failed.", zap.String("kind", string(kind)), zap.Error(err))
			var ue *uploadError
			if errors.As(err, &ue) {
				out.Reason = ue.reason
			} else {
				out.Reason = err.Error()
			}
			return out
		}
		logger.Debug("Image uploaded.", zap.String("kind", string(kind)), zap.String("file_name", img.FileName))
		uploads[kind] = img
	}

	for _, kind := range musinsa.ReviewKinds {
		r := w.post(ctx, logger, client, item, kind, uploads[kind])
		w.metrics.ReviewWrite("api", string(kind), r.OK)
		out.set(kind, r)
	}
	out.OK = out.General.OK && out.Style.OK
	switch {
	case !out.General.OK:
		out.Reason = out.General.failure("general_failed")
	case !out.Style.OK:
		out.Reason = out.Style.failure("style_failed")
	}
	return out
}

// contentType maps an image extension to its upload content type.
func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	}
	return "image/jpeg"
}

// readImage loads a local image, refusing anything above max bytes.
func readImage(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &uploadError{reason: ReasonImageNotFound, err: err}
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		return nil, &uploadError{reason: ReasonImageNotFound, err: err}
	}
	if st.Size() > max {
		return nil, &uploadError{reason: ReasonImageTooLarge}
	}
	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return nil, &uploadError{reason: ReasonImageNotFound, err: err}
	}
	if int64(len(data)) > max {
		return nil, &uploadError{reason: ReasonImageTooLarge}
	}
	return data, nil
}

type presignResponse struct {
	Meta musinsa.Meta `json:"meta"`
	Data []struct {
		PreSignedURL string `json:"preSignedUrl"`
		FileName     string `json:"fileName"`
		URL          string `json:"url"`
	} `json:"data"`
}

// upload asks for a presigned target and PUTs the image bytes to it.
func (w *APIWriter) upload(ctx context.Context, client Client, goodsNo musinsa.FlexString, path string) (*image, error) {
	data, err := readImage(path, w.cfg.MaxImageBytes)
	if err != nil {
		return nil, err
	}
	fileName := strconv.FormatInt(w.now().UnixMilli(), 10) + "_" + filepath.Base(path)

	body, err := json.Marshal(map[string]interface{}{
		"goodsNo":      numeric(goodsNo),
		"fileNameList": []string{fileName},
	})
	if err != nil {
		return nil, fmt.Errorf("review: failed to encode presign request: %w", err)
	}
	res, err := client.Do(ctx, musinsa.Request{Method: "POST", URL: w.endpoints.Presign(), Headers: w.endpoints.JSONHeaders(), Body: string(body)})
	if err != nil {
		return nil, &uploadError{reason: ReasonPresignFailed, err: err}
	}
	var presign presignResponse
	_ = res.Decode(&presign)
	if !res.OK() || !presign.Meta.Succeeded() {
		return nil, &uploadError{reason: ReasonPresignFailed, err: musinsa.NewStatusError("", res.Status)}
	}
	if len(presign.Data) == 0 || presign.Data[0].PreSignedURL == "" || presign.Data[0].FileName == "" {
		return nil, &uploadError{reason: ReasonPresignInvalid}
	}
	entry := presign.Data[0]

	put, err := client.Put(ctx, entry.PreSignedURL, contentType(path), data)
	if err != nil {
		return nil, &uploadError{reason: ReasonUploadFailed, err: err}
	}
	if !put.OK() {
		return nil, &uploadError{reason: ReasonUploadFailed, err: musinsa.NewStatusError("", put.Status)}
	}
	return &image{FileName: entry.FileName, FileSize: int64(len(data)), URL: entry.URL}, nil
}

// beforeWrite is the part of the descriptor the submission uses. Fields are kept raw so
// server-supplied values are echoed back untouched.
type beforeWrite struct {
	orderOptionNo json.Any
	experienceNo  json.Any
	relatedNo     json.Any
	satisfaction  json.Any
}

// fetchBeforeWrite loads the descriptor for one kind. A failed result carries the reason
// and a body excerpt.
func (w *APIWriter) fetchBeforeWrite(ctx context.Context, client Client, orderOptionNo string, kind musinsa.ReviewKind) (*beforeWrite, *KindResult) {
	req := musinsa.GetJSON(w.endpoints.BeforeWrite(orderOptionNo, kind))
	req.Headers["Origin"] = w.endpoints.Origin()
	req.Headers["Referer"] = w.endpoints.Referer()
	req.Headers["Accept-Language"] = "ko"

	res, err := client.Do(ctx, req)
	if err != nil {
		return nil, &KindResult{Reason: ReasonBeforeWriteFailed, Message: err.Error()}
	}
	var env struct {
		Meta musinsa.Meta `json:"meta"`
	}
	_ = res.Decode(&env)
	if !res.OK() || !env.Meta.Succeeded() {
		reason := env.Meta.ErrorCode
		if reason == "" {
			reason = musinsa.NewStatusError("", res.Status).Code()
		}
		return nil, &KindResult{Reason: reason, Body: musinsa.Truncate(res.Body, 400)}
	}
	data := json.Get(res.Body, "data")
	return &beforeWrite{
		orderOptionNo: data.Get("orderOptionNo"),
		experienceNo:  data.Get("experienceNo"),
		relatedNo:     data.Get("relatedNo"),
		satisfaction:  data.Get("satisfaction"),
	}, nil
}

// submission is the review POST body.
type submission struct {
	ShareProfile      bool               `json:"shareProfile"`
	ChannelActivityID string             `json:"channelActivityId"`
	ChannelSource     string             `json:"channelSource"`
	ExperienceNo      json.RawMessage    `json:"experienceNo"`
	OrderOptionNo     json.RawMessage    `json:"orderOptionNo"`
	ReviewContent     string             `json:"reviewContent"`
	ReviewType        musinsa.ReviewKind `json:"reviewType"`
	Score             int                `json:"score"`
	Satisfaction      json.RawMessage    `json:"satisfaction"`
	Sex               string             `json:"sex,omitempty"`
	Height            json.RawMessage    `json:"height,omitempty"`
	Weight            json.RawMessage    `json:"weight,omitempty"`
	UpdateMySize      bool               `json:"updateMySize"`
	SkinWorry         []string           `json:"skinWorry"`
	Images            []image            `json:"images"`
	RelatedNo         json.RawMessage    `json:"relatedNo,omitempty"`
}

// buildSubmission merges the template, the descriptor and any uploaded image.
func buildSubmission(item musinsa.WriteItem, kind musinsa.ReviewKind, before *beforeWrite, img *image) submission {
	opt := item.OrderOptionNo.String()
	s := submission{
		ShareProfile:      true,
		ChannelActivityID: opt,
		ChannelSource:     musinsa.ChannelSource,
		ExperienceNo:      json.RawMessage("null"),
		OrderOptionNo:     raw(numeric(item.OrderOptionNo)),
		ReviewContent:     item.Template.Content(kind),
		ReviewType:        kind,
		Score:             5,
		Satisfaction:      raw(defaultSatisfaction),
		SkinWorry:         []string{},
		Images:            []image{},
	}
	if v := before.orderOptionNo; v.ValueType() == json.NumberValue && v.ToFloat64() > 0 {
		s.OrderOptionNo = json.RawMessage(v.ToString())
	}
	if v := before.experienceNo; v.ValueType() == json.NumberValue {
		s.ExperienceNo = json.RawMessage(v.ToString())
	}
	if v := before.satisfaction; v.ValueType() == json.ArrayValue {
		s.Satisfaction = json.RawMessage(v.ToString())
	}
	switch before.relatedNo.ValueType() {
	case json.InvalidValue, json.NilValue:
	default:
		s.RelatedNo = json.RawMessage(before.relatedNo.ToString())
	}

	t := item.Template
	if t.IsClothing() {
		switch strings.TrimSpace(t.Gender) {
		case "남성":
			s.Sex = "M"
		case "여성":
			s.Sex = "F"
		}
		s.Height = measurement(t.Height)
		s.Weight = measurement(t.Weight)
	}
	if img != nil {
		s.Images = []image{*img}
	}
	return s
}

type submitResponse struct {
	Meta      musinsa.Meta       `json:"meta"`
	ErrorCode string             `json:"errorCode"`
	Message   string             `json:"message"`
	Data      musinsa.FlexString `json:"data"`
}

func (w *APIWriter) post(ctx context.Context, logger *zap.Logger, client Client, item musinsa.WriteItem, kind musinsa.ReviewKind, img *image) *KindResult {
	if !hasText(item.Template.Content(kind)) {
		return &KindResult{Reason: ReasonContentMissing}
	}
	before, failed := w.fetchBeforeWrite(ctx, client, item.OrderOptionNo.String(), kind)
	if failed != nil {
		logger.Warn("Before-write failed.", zap.String("kind", string(kind)), zap.String("reason", failed.Reason))
		return failed
	}

	payload, err := json.Marshal(buildSubmission(item, kind, before, img))
	if err != nil {
		return &KindResult{Reason: fmt.Sprintf("encode: %v", err)}
	}
	headers := w.endpoints.JSONHeaders()
	headers["Accept-Language"] = musinsa.AcceptLanguage
	res, err := client.Do(ctx, musinsa.Request{Method: "POST", URL: w.endpoints.ReviewSubmit(), Headers: headers, Body: string(payload)})
	if err != nil {
		logger.Warn("Review submission failed.", zap.String("kind", string(kind)), zap.Error(err))
		return &KindResult{Message: err.Error()}
	}

	var body submitResponse
	_ = res.Decode(&body)
	if !res.OK() || !body.Meta.Succeeded() {
		r := &KindResult{Status: res.Status, ErrorCode: body.Meta.ErrorCode, Message: body.Meta.Message, Body: musinsa.Truncate(res.Body, 500)}
		if r.ErrorCode == "" {
			r.ErrorCode = body.ErrorCode
		}
		if r.Message == "" {
			r.Message = body.Message
		}
		logger.Warn("Review rejected.", zap.String("kind", string(kind)), zap.Int("status", res.Status), zap.String("error_code", r.ErrorCode))
		return r
	}
	logger.Info("Review submitted.", zap.String("kind", string(kind)), zap.String("review_id", body.Data.String()))
	return &KindResult{OK: true, ReviewID: body.Data}
}

// numeric renders an identifier as a JSON number when it is one, otherwise as a string.
func numeric(f musinsa.FlexString) interface{} {
	s := strings.TrimSpace(f.String())
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return json.RawMessage(s)
	}
	return s
}

// measurement is a body measurement as a JSON number, or nothing when blank or malformed.
func measurement(f musinsa.FlexString) json.RawMessage {
	s := strings.TrimSpace(f.String())
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return json.RawMessage(strconv.FormatFloat(v, 'f', -1, 64))
}

func raw(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
