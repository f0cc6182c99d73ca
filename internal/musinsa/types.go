package musinsa

import (
	"bytes"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
)

// FlexString accepts either a JSON string or a JSON number. The site is inconsistent about
// which one it uses for identifiers and body measurements.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
	default:
		*f = FlexString(b)
	}
	return nil
}

func (f FlexString) String() string { return string(f) }

// Int64 parses the value, ignoring thousands separators. Unparseable values yield 0.
func (f FlexString) Int64() int64 {
	n, err := strconv.ParseInt(strings.ReplaceAll(string(f), ",", ""), 10, 64)
	if err != nil {
		if fl, ferr := strconv.ParseFloat(strings.ReplaceAll(string(f), ",", ""), 64); ferr == nil {
			return int64(fl)
		}
		return 0
	}
	return n
}

// Normalize strips all whitespace and lowercases, the comparison form for names and options.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// WriteSlot is one review slot on a listing record.
type WriteSlot struct {
	ReviewType ReviewKind `json:"reviewType"`
	Wrote      *bool      `json:"wrote"`
}

// ListingRecord is one row of the review/confirmation listing. The full server object is
// kept in Raw and is what gets serialized back out, so callers see every field the site
// sent.
type ListingRecord struct {
	OrderNo         FlexString  `json:"orderNo"`
	OrderOptionNo   FlexString  `json:"orderOptionNo"`
	GoodsNo         FlexString  `json:"goodsNo"`
	GoodsName       string      `json:"goodsName"`
	BrandName       string      `json:"brandName"`
	Brand           string      `json:"brand"`
	GoodsOptionName string      `json:"goodsOptionName"`
	Confirmed       *bool       `json:"confirmed"`
	WriteItemList   []WriteSlot `json:"writeItemList"`

	Raw json.RawMessage `json:"-"`
}

type listingAlias ListingRecord

func (r *ListingRecord) UnmarshalJSON(b []byte) error {
	var a listingAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*r = ListingRecord(a)
	r.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (r ListingRecord) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	return json.Marshal(listingAlias(r))
}

// BrandLabel returns brandName, falling back to brand.
func (r ListingRecord) BrandLabel() string {
	if r.BrandName != "" {
		return r.BrandName
	}
	return r.Brand
}

// Slot finds the review slot of the given kind.
func (r ListingRecord) Slot(kind ReviewKind) (WriteSlot, bool) {
	for _, s := range r.WriteItemList {
		if s.ReviewType == kind {
			return s, true
		}
	}
	return WriteSlot{}, false
}

// Pending reports a slot that exists and is explicitly unwritten.
func (r ListingRecord) Pending(kind ReviewKind) bool {
	s, ok := r.Slot(kind)
	return ok && s.Wrote != nil && !*s.Wrote
}

// NeedsConfirmation is true when the site reports the purchase as not yet confirmed.
func (r ListingRecord) NeedsConfirmation() bool {
	return r.Confirmed != nil && !*r.Confirmed
}

// NeedsReview is true for a confirmed purchase whose general and style slots are both open.
func (r ListingRecord) NeedsReview() bool {
	return r.Confirmed != nil && *r.Confirmed && r.Pending(ReviewGeneral) && r.Pending(ReviewStyle)
}

// Category names used by the site for product types.
const (
	CategoryClothing    = "의류"
	CategoryShoes       = "신발"
	CategoryAccessories = "잡화"
)

// Template is the user-authored review content for one product.
type Template struct {
	ProductType      string     `json:"product_type" yaml:"product_type"`
	Gender           string     `json:"gender,omitempty" yaml:"gender,omitempty"`
	Height           FlexString `json:"height,omitempty" yaml:"height,omitempty"`
	Weight           FlexString `json:"weight,omitempty" yaml:"weight,omitempty"`
	GeneralContent   string     `json:"general_content" yaml:"general_content"`
	GeneralImagePath string     `json:"general_image_path,omitempty" yaml:"general_image_path,omitempty"`
	StyleContent     string     `json:"style_content" yaml:"style_content"`
	StyleImagePath   string     `json:"style_image_path,omitempty" yaml:"style_image_path,omitempty"`
	OptionText       string     `json:"option_text,omitempty" yaml:"option_text,omitempty"`
}

// IsClothing reports the clothing category, the only one sent with body measurements
// through the API.
func (t Template) IsClothing() bool { return strings.TrimSpace(t.ProductType) == CategoryClothing }

// NeedsBodyFields reports whether the review form shows gender/height/weight. The form
// hides them only for shoes and accessories.
func (t Template) NeedsBodyFields() bool {
	pt := strings.TrimSpace(t.ProductType)
	return pt != CategoryShoes && pt != CategoryAccessories
}

// Content returns the text for a review kind.
func (t Template) Content(kind ReviewKind) string {
	if kind == ReviewStyle {
		return t.StyleContent
	}
	return t.GeneralContent
}

// ImagePath returns the local image for a review kind.
func (t Template) ImagePath(kind ReviewKind) string {
	if kind == ReviewStyle {
		return t.StyleImagePath
	}
	return t.GeneralImagePath
}

// WriteItem is one review submission request.
type WriteItem struct {
	OrderNo           FlexString `json:"orderNo"`
	OrderOptionNo     FlexString `json:"orderOptionNo"`
	GoodsNo           FlexString `json:"goodsNo"`
	ProductKey        string     `json:"productKey,omitempty"`
	GoodsName         string     `json:"goodsName,omitempty"`
	BrandName         string     `json:"brandName,omitempty"`
	Brand             string     `json:"brand,omitempty"`
	GoodsOptionName   string     `json:"goodsOptionName,omitempty"`
	SkipSubmit        bool       `json:"skipSubmit,omitempty"`
	SkipCompleteClick *bool      `json:"skipCompleteClick,omitempty"`
	Template          Template   `json:"template"`
}

// BrandLabel returns brandName, falling back to brand.
func (w WriteItem) BrandLabel() string {
	if w.BrandName != "" {
		return w.BrandName
	}
	return w.Brand
}

// OptionName returns the option text used for matching, falling back to the template's.
func (w WriteItem) OptionName() string {
	if w.GoodsOptionName != "" {
		return w.GoodsOptionName
	}
	return w.Template.OptionText
}

// OrderItem is one line of a synced order.
type OrderItem struct {
	Image          string `json:"image"`
	BrandName      string `json:"brandName"`
	GoodsName      string `json:"goodsName"`
	OptionName     string `json:"optionName"`
	Quantity       int64  `json:"quantity"`
	ReceiveAmount  int64  `json:"receiveAmount"`
	ActualUnitCost int64  `json:"actualUnitCost"`
	StateText      string `json:"stateText"`
}

// OrderTotals are the order-level amounts from the detail view.
type OrderTotals struct {
	NormalPrice       int64  `json:"normalPrice"`
	TotalSaleTotalAmt int64  `json:"totalSaleTotalAmt"`
	PointUsed         int64  `json:"pointUsed"`
	UsePoint          int64  `json:"usePoint"`
	PrePoint          int64  `json:"prePoint"`
	RecvAmt           int64  `json:"recvAmt"`
	FinalAmt          int64  `json:"finalAmt"`
	Gap               int64  `json:"gap"`
	PayInfo           string `json:"payInfo"`
}

// Order is one fully synced order.
type Order struct {
	OrderNo   string      `json:"orderNo"`
	OrderDate string      `json:"orderDate"`
	BrandName string      `json:"brandName"`
	Items     []OrderItem `json:"items"`
	Totals    OrderTotals `json:"totals"`
}
