// Package musinsa is the client side of the shopping site's private web API: endpoint
// construction, the request abstraction shared by in-page and direct HTTP transports, and
// the typed payloads the automation reads and writes.
package musinsa

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/musinsa-manager/internal/config"
)

// ReviewKind is one of the two review slots an order item has.
type ReviewKind string

const (
	ReviewGeneral ReviewKind = "general"
	ReviewStyle   ReviewKind = "style"
)

// ReviewKinds lists the kinds in submission order.
var ReviewKinds = []ReviewKind{ReviewGeneral, ReviewStyle}

// ChannelSource is sent with every review request.
const ChannelSource = "musinsa"

// Endpoints builds every remote URL from the site configuration.
type Endpoints struct {
	site config.SiteConfig
}

// NewEndpoints wraps a validated site configuration.
func NewEndpoints(site config.SiteConfig) Endpoints {
	return Endpoints{site: site}
}

func (e Endpoints) Origin() string       { return e.site.Origin }
func (e Endpoints) Referer() string      { return strings.TrimRight(e.site.Origin, "/") + "/" }
func (e Endpoints) CookieDomain() string { return e.site.CookieDomain }
func (e Endpoints) Landing() string      { return e.site.LandingURL }
func (e Endpoints) ReviewList() string   { return e.site.ReviewListURL }
func (e Endpoints) Logout() string       { return e.site.LogoutURL }
func (e Endpoints) Presign() string      { return e.site.PresignURL }
func (e Endpoints) ReviewSubmit() string { return e.site.ReviewSubmitURL }

// ReviewOrders is one page of the review/confirmation listing.
func (e Endpoints) ReviewOrders(page, size int, from, to string, ts time.Time) string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	q.Set("searchFromYmd", from)
	q.Set("searchToYmd", to)
	q.Set("timestamp", strconv.FormatInt(ts.UnixMilli(), 10))
	return withQuery(e.site.ReviewOrdersURL, q)
}

// SessionPing is the cheapest authenticated request: the first listing entry.
func (e Endpoints) SessionPing(ts time.Time) string {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("size", "1")
	q.Set("timestamp", strconv.FormatInt(ts.UnixMilli(), 10))
	return withQuery(e.site.ReviewOrdersURL, q)
}

// OrderList is one page of the order history listing. offset is the opaque cursor the
// previous page returned, empty for the first page.
func (e Endpoints) OrderList(page, size int, startDate, endDate, offset string) string {
	q := url.Values{}
	q.Set("size", strconv.Itoa(size))
	q.Set("searchText", "")
	q.Set("startDate", startDate)
	q.Set("endDate", endDate)
	q.Set("page", strconv.Itoa(page))
	if offset != "" {
		q.Set("onlineOffset", offset)
	}
	return withQuery(e.site.OrderListURL, q)
}

// OrderDetail is the full detail view of one order.
func (e Endpoints) OrderDetail(orderNo string) string {
	return joinPath(e.site.OrderDetailURL, url.PathEscape(orderNo))
}

// Confirm is the purchase-confirmation target for one order item.
func (e Endpoints) Confirm(orderNo, orderOptionNo string) string {
	return joinPath(e.site.ConfirmURL, url.PathEscape(orderNo), "items", url.PathEscape(orderOptionNo), "confirm")
}

// BeforeWrite is the descriptor fetched ahead of an API review submission.
func (e Endpoints) BeforeWrite(orderOptionNo string, kind ReviewKind) string {
	q := url.Values{}
	q.Set("channelActivityId", orderOptionNo)
	q.Set("channelSource", ChannelSource)
	q.Set("reviewType", string(kind))
	return withQuery(e.site.BeforeWriteURL, q)
}

// WriteForm is the page hosting the review form for one item and kind.
func (e Endpoints) WriteForm(kind ReviewKind, orderOptionNo string) string {
	q := url.Values{}
	q.Set("doneToBack", "true")
	q.Set("channelSource", ChannelSource)
	return withQuery(joinPath(e.site.ReviewWriteURL, string(kind), url.PathEscape(orderOptionNo)), q)
}

func joinPath(base string, parts ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}

func withQuery(base string, q url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

// ValidateKind rejects anything but the two known review kinds.
func ValidateKind(kind ReviewKind) error {
	switch kind {
	case ReviewGeneral, ReviewStyle:
		return nil
	}
	return fmt.Errorf("musinsa: unknown review kind %q", kind)
}
