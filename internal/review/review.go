// Package review submits product reviews, either straight to the review API or by driving
// the site's own review form in the review window.
package review

import (
	"strconv"
	"strings"

	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
)

const (
	ReasonEmptyPayload      = "empty_payload"
	ReasonContentMissing    = "content_missing"
	ReasonNotFound          = "not_found_in_review_window"
	ReasonImageNotFound     = "image_not_found"
	ReasonImageTooLarge     = "image_too_large"
	ReasonPresignFailed     = "presign_failed"
	ReasonPresignInvalid    = "presign_invalid"
	ReasonUploadFailed      = "upload_failed"
	ReasonBeforeWriteFailed = "before_write_failed"
)

// KindResult is the outcome of one review kind for one item. The API variant fills the
// HTTP fields; the DOM variant reports a reason or the step it deliberately skipped.
type KindResult struct {
	OK        bool               `json:"ok"`
	Status    int                `json:"status,omitempty"`
	ErrorCode string             `json:"errorCode,omitempty"`
	Message   string             `json:"message,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Body      string             `json:"body,omitempty"`
	ReviewID  musinsa.FlexString `json:"reviewId,omitempty"`
	Skipped   string             `json:"skipped,omitempty"`
}

// failure renders the most specific description of a failed kind.
func (r *KindResult) failure(fallback string) string {
	switch {
	case r == nil:
		return fallback
	case r.ErrorCode != "":
		return r.ErrorCode
	case r.Message != "":
		return r.Message
	case r.Reason != "":
		return r.Reason
	case r.Status != 0:
		return strconv.Itoa(r.Status)
	}
	return fallback
}

// ItemResult is the outcome for one submitted item. A kind that was not attempted is nil.
type ItemResult struct {
	OK            bool        `json:"ok"`
	Reason        string      `json:"reason,omitempty"`
	OrderNo       string      `json:"orderNo"`
	OrderOptionNo string      `json:"orderOptionNo"`
	General       *KindResult `json:"general,omitempty"`
	Style         *KindResult `json:"style,omitempty"`
}

// Result is the batch outcome. OK only reports that the batch ran.
type Result struct {
	OK      bool         `json:"ok"`
	Reason  string       `json:"reason,omitempty"`
	Results []ItemResult `json:"results,omitempty"`
}

func (i *ItemResult) set(kind musinsa.ReviewKind, r *KindResult) {
	if kind == musinsa.ReviewStyle {
		i.Style = r
		return
	}
	i.General = r
}

func hasText(s string) bool { return strings.TrimSpace(s) != "" }
