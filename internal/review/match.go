package review

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
)

// MatchTarget finds the reviewable record for a requested item. Candidates are tried in
// order: the exact order/option pair, the option number alone, goods number with the
// option text, then goods name, brand and option text. The first record in list order
// wins at each stage.
func MatchTarget(targets []musinsa.ListingRecord, item musinsa.WriteItem) (musinsa.ListingRecord, bool) {
	opt := item.OrderOptionNo.String()
	stages := []func(r musinsa.ListingRecord) bool{
		func(r musinsa.ListingRecord) bool {
			return opt != "" && r.OrderOptionNo.String() == opt && r.OrderNo.String() == item.OrderNo.String()
		},
		func(r musinsa.ListingRecord) bool {
			return opt != "" && r.OrderOptionNo.String() == opt
		},
		func(r musinsa.ListingRecord) bool {
			return item.GoodsNo != "" && r.GoodsNo.String() == item.GoodsNo.String() &&
				musinsa.Normalize(r.GoodsOptionName) == musinsa.Normalize(item.OptionName())
		},
		func(r musinsa.ListingRecord) bool {
			return musinsa.Normalize(r.GoodsName) == musinsa.Normalize(item.GoodsName) &&
				musinsa.Normalize(r.BrandLabel()) == musinsa.Normalize(item.BrandLabel()) &&
				musinsa.Normalize(r.GoodsOptionName) == musinsa.Normalize(item.GoodsOptionName)
		},
	}
	for _, match := range stages {
		for _, r := range targets {
			if match(r) {
				return r, true
			}
		}
	}
	return musinsa.ListingRecord{}, false
}

// Merge overlays the request on the matched record. Identifiers and product text come from
// the record when it has them; the template and submission flags come from the request.
func Merge(matched musinsa.ListingRecord, item musinsa.WriteItem) musinsa.WriteItem {
	out := item
	if matched.OrderNo != "" {
		out.OrderNo = matched.OrderNo
	}
	if matched.OrderOptionNo != "" {
		out.OrderOptionNo = matched.OrderOptionNo
	}
	if matched.GoodsNo != "" {
		out.GoodsNo = matched.GoodsNo
	}
	if matched.GoodsName != "" {
		out.GoodsName = matched.GoodsName
	}
	if matched.GoodsOptionName != "" {
		out.GoodsOptionName = matched.GoodsOptionName
	}
	if brand := matched.BrandLabel(); brand != "" {
		out.BrandName = brand
	} else {
		out.BrandName = item.BrandLabel()
	}
	return out
}

// cardInfo is the product text shown on one review list card.
type cardInfo struct {
	Brand, Product, Option string
}

func label(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	if title, ok := s.Attr("title"); ok && title != "" {
		return strings.TrimSpace(title)
	}
	return strings.TrimSpace(s.Text())
}

func extractCardInfo(card *goquery.Selection) cardInfo {
	var info cardInfo
	spans := card.Find(`span[title][data-mds='Typography']`)
	info.Brand = label(spans.Eq(0))
	info.Product = label(spans.Eq(1))
	info.Option = label(card.Find(`div[class*='PurchaseOption'] span[title]`).First())

	if info.Brand == "" || info.Product == "" {
		anchor := card.Find(`a[data-item-brand]`).First()
		if anchor.Length() > 0 {
			if info.Brand == "" {
				info.Brand = strings.TrimSpace(anchor.AttrOr("data-item-brand", ""))
			}
			if info.Product == "" {
				info.Product = label(anchor)
			}
		}
	}
	return info
}

// cardMatches reports whether a list card shows the item: its option number as a whole
// number in the card's attributes, visible text or write link, or else identical normalized
// brand, product and option.
func cardMatches(card *goquery.Selection, item musinsa.WriteItem) bool {
	if opt := optionToken(item.OrderOptionNo.String()); opt != "" {
		for _, attr := range []string{"data-order-option-no", "data-option-no", "data-channel-activity-id", "data-item-index", "data-react-beacon-id"} {
			if v, ok := card.Attr(attr); ok && hasNumber(v, opt) {
				return true
			}
		}
		for _, text := range textNodes(card) {
			if hasNumber(text, opt) {
				return true
			}
		}
		href := card.Find(`a[href*="myreview/write"],a[href*="channelActivityId"],a[href*="orderOptionNo"]`).First().AttrOr("href", "")
		if hasNumber(href, opt) {
			return true
		}
	}

	info := extractCardInfo(card)
	return musinsa.Normalize(info.Brand) == musinsa.Normalize(item.BrandLabel()) &&
		musinsa.Normalize(info.Product) == musinsa.Normalize(item.GoodsName) &&
		musinsa.Normalize(info.Option) == musinsa.Normalize(item.GoodsOptionName)
}

// optionToken canonicalizes an option number; "777.0" and "777" are the same option.
func optionToken(opt string) string {
	opt = strings.TrimSpace(opt)
	if f, err := strconv.ParseFloat(opt, 64); err == nil && f == math.Trunc(f) && f >= 0 {
		return strconv.FormatInt(int64(f), 10)
	}
	return opt
}

// hasNumber reports whether s carries opt as a whole number. Digit groups separated by
// commas read as one number, so "31,200" is 31200 and never 200.
func hasNumber(s, opt string) bool {
	fields := strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsDigit(r) && r != ',' })
	for _, f := range fields {
		if strings.ReplaceAll(strings.Trim(f, ","), ",", "") == opt {
			return true
		}
	}
	return false
}

// textNodes returns the card's text nodes one by one, so adjacent nodes never run together.
func textNodes(card *goquery.Selection) []string {
	var out []string
	card.Find("*").AddSelection(card).Contents().Each(func(_ int, n *goquery.Selection) {
		if goquery.NodeName(n) != "#text" {
			return
		}
		if t := strings.TrimSpace(n.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// FindListEntry parses a snapshot of the review list and returns the data-item-index of the
// first entry, in document order, whose card shows the item.
func FindListEntry(html string, item musinsa.WriteItem) (string, bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false, fmt.Errorf("review: failed to parse list snapshot: %w", err)
	}
	var index string
	found := false
	doc.Find(listItemSelector).EachWithBreak(func(_ int, entry *goquery.Selection) bool {
		card := entry.Find(cardSelector).First()
		if card.Length() == 0 {
			card = entry
		}
		if cardMatches(card, item) {
			index = entry.AttrOr("data-item-index", "")
			found = true
			return false
		}
		return true
	})
	return index, found, nil
}
