package scraper

import (
	"math"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
)

// ItemListStrategy is one place an order payload may keep its line items.
type ItemListStrategy struct {
	Name string
	Path []interface{}
}

// Extract returns the non-empty array at the strategy's path.
func (s ItemListStrategy) Extract(doc json.Any) ([]json.Any, bool) {
	return arrayAt(doc, s.Path...)
}

func path(keys ...interface{}) []interface{} { return keys }

// DetailItemLists are tried in order against the order detail payload.
var DetailItemLists = []ItemListStrategy{
	{Name: "orderOptionList", Path: path("orderOptionList")},
	{Name: "order_option_list", Path: path("order_option_list")},
	{Name: "orderOptions", Path: path("orderOptions")},
	{Name: "order_options", Path: path("order_options")},
	{Name: "data.orderOptionList", Path: path("data", "orderOptionList")},
	{Name: "data.order_options", Path: path("data", "order_options")},
	{Name: "order.orderOptionList", Path: path("order", "orderOptionList")},
	{Name: "order.order_options", Path: path("order", "order_options")},
}

// ListEntryItemLists are tried against the order's own listing entry when the detail
// payload has no items.
var ListEntryItemLists = []ItemListStrategy{
	{Name: "list.orderOptionList", Path: path("orderOptionList")},
	{Name: "list.orderOptions", Path: path("orderOptions")},
	{Name: "list.order_options", Path: path("order_options")},
	{Name: "list.items", Path: path("items")},
	{Name: "list.orderItemList", Path: path("orderItemList")},
}

// FirstItemList runs strategies in order and reports which one matched.
func FirstItemList(doc json.Any, strategies []ItemListStrategy) (string, []json.Any) {
	if doc == nil {
		return "", nil
	}
	for _, s := range strategies {
		if items, ok := s.Extract(doc); ok {
			return s.Name, items
		}
	}
	return "", nil
}

func arrayAt(doc json.Any, keys ...interface{}) ([]json.Any, bool) {
	v := doc.Get(keys...)
	if v.ValueType() != json.ArrayValue || v.Size() == 0 {
		return nil, false
	}
	out := make([]json.Any, v.Size())
	for i := range out {
		out[i] = v.Get(i)
	}
	return out, true
}

// number coerces a scalar the way the site's own frontend does: numbers as-is, strings with
// thousands separators stripped, anything else zero.
func number(v json.Any) float64 {
	switch v.ValueType() {
	case json.NumberValue:
		return v.ToFloat64()
	case json.StringValue:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(v.ToString()), ",", ""), 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0
		}
		return f
	}
	return 0
}

// firstNumber returns the first non-zero value among the paths.
func firstNumber(doc json.Any, paths ...[]interface{}) float64 {
	for _, p := range paths {
		if n := number(doc.Get(p...)); n != 0 {
			return n
		}
	}
	return 0
}

func scalar(v json.Any) string {
	switch v.ValueType() {
	case json.StringValue, json.NumberValue:
		return strings.TrimSpace(v.ToString())
	}
	return ""
}

// firstString returns the first non-blank scalar among the paths.
func firstString(doc json.Any, paths ...[]interface{}) string {
	for _, p := range paths {
		if s := scalar(doc.Get(p...)); s != "" {
			return s
		}
	}
	return ""
}

func keys(names ...string) [][]interface{} {
	out := make([][]interface{}, len(names))
	for i, n := range names {
		out[i] = path(n)
	}
	return out
}

var (
	quantityKeys = keys("quantity", "qty", "count")
	amountKeys   = keys(
		"receiveAmount", "recv_amt", "paymentAmount", "pay_amt", "salePrice", "sale_price",
		"goodsPrice", "goods_price", "price", "finalPrice", "orderPrice", "ord_price",
		"discountedPrice", "discounted_price", "totalPaymentAmount", "total_payment_amount",
		"itemPaymentAmount", "item_payment_amount",
	)
	imageKeys = append(keys("goodsImage", "goods_image", "goodsImg", "imageUrl", "image", "imgUrl", "img"),
		path("goods", "imageUrl"), path("goods", "image_url"), path("goods", "img"),
		path("thumb"), path("thumbnail"))
	brandKeys = append(keys("brandName", "brand", "brandNm", "brand_name"),
		path("brand", "name"), path("brand", "brandName"))
	goodsKeys = append(keys("goodsName", "goodsNm", "goods_name", "name"),
		path("goods", "name"), path("goods", "goodsName"))
	optionKeys = [][]interface{}{
		path("goodsOption"), path("goodsOptionName"), path("optionName"), path("option_text"),
		path("goodsOptionText"), path("option", "name"), path("optionValue"), path("option_value"),
		path("optionValueName"), path("option_value_name"), path("optionValueText"),
		path("option_value_text"), path("sizeName"), path("size_text"), path("size"), path("option"),
	}
	stateKeys = keys("orderStateText", "order_state_text", "orderStateName", "order_state_name", "orderState", "statusText")
)

// BuildItem reads one line item out of whichever shape the payload uses.
func BuildItem(opt json.Any) musinsa.OrderItem {
	qty := int64(firstNumber(opt, quantityKeys...))
	if qty <= 0 {
		qty = 1
	}
	image := firstString(opt, imageKeys...)
	if strings.HasPrefix(image, "//") {
		image = "https:" + image
	}
	return musinsa.OrderItem{
		Image:         image,
		BrandName:     firstString(opt, brandKeys...),
		GoodsName:     firstString(opt, goodsKeys...),
		OptionName:    firstString(opt, optionKeys...),
		Quantity:      qty,
		ReceiveAmount: int64(math.Floor(firstNumber(opt, amountKeys...) + 0.5)),
		StateText:     firstString(opt, stateKeys...),
	}
}

// synthesizeItem stands in for an order whose payloads carry no line items at all.
func synthesizeItem(entry json.Any, recvAmt int64) musinsa.OrderItem {
	item := musinsa.OrderItem{Quantity: 1, ReceiveAmount: recvAmt}
	if entry == nil {
		return item
	}
	item.BrandName = firstString(entry, path("brandName"), path("brand"))
	item.GoodsName = firstString(entry, path("goodsName"))
	item.OptionName = firstString(entry, path("goodsOption"), path("goodsOptionName"))
	item.StateText = firstString(entry, path("orderStateText"), path("order_state_text"), path("orderStateName"), path("order_state_name"))
	return item
}

var payInfoValueKeys = keys("pay_info", "payInfo", "payName", "pay_name", "payMethod", "pay_method", "payNameKor", "payNameEng", "title")

// payInfo finds a human-readable payment description.
func payInfo(doc json.Any) string {
	var source json.Any
	for _, p := range [][]interface{}{path("pay_info"), path("payInfo"), path("orderInfo", "pay_info"), path("orderInfo", "payInfo")} {
		v := doc.Get(p...)
		if t := v.ValueType(); t == json.StringValue || t == json.ObjectValue {
			source = v
			break
		}
	}
	if source == nil {
		return ""
	}
	if source.ValueType() == json.StringValue {
		return strings.TrimSpace(source.ToString())
	}
	for _, p := range payInfoValueKeys {
		v := source.Get(p...)
		switch v.ValueType() {
		case json.StringValue:
			if s := strings.TrimSpace(v.ToString()); s != "" {
				return s
			}
		case json.ObjectValue:
			if name := scalar(v.Get("name")); name != "" {
				return name
			}
			return v.ToString()
		}
	}
	if name := scalar(source.Get("name")); name != "" {
		return name
	}
	if source.Size() == 0 {
		return ""
	}
	return source.ToString()
}

// DistributeGap spreads the order's discount gap evenly over every unit, rounded down to the
// nearest 10, and sets each item's per-unit cost after that discount. Costs are floored and
// never negative, so the total never exceeds what was received.
func DistributeGap(items []musinsa.OrderItem, gap int64) []musinsa.OrderItem {
	var totalQty int64
	for _, it := range items {
		totalQty += it.Quantity
	}
	if totalQty <= 0 {
		totalQty = int64(len(items))
	}
	if totalQty <= 0 {
		totalQty = 1
	}
	var perUnitGap float64
	if raw := float64(gap) / float64(totalQty); raw > 0 {
		perUnitGap = math.Floor(raw/10) * 10
	}

	out := make([]musinsa.OrderItem, len(items))
	for i, it := range items {
		if it.Quantity <= 0 {
			it.Quantity = 1
		}
		perUnit := float64(it.ReceiveAmount) / float64(it.Quantity)
		it.ActualUnitCost = int64(math.Max(0, math.Floor(perUnit-perUnitGap)))
		out[i] = it
	}
	return out
}

// BuildOrder assembles one synced order from its detail payload and listing entry. The
// entry may be nil.
func BuildOrder(orderNo string, detail, entry json.Any, today string) musinsa.Order {
	info := detail.Get("orderInfo")
	recvAmt := int64(number(info.Get("recv_amt")))
	finalAmt := int64(number(info.Get("without_recv_amt_promotion_discount_amt")))
	gap := recvAmt - finalAmt

	_, opts := FirstItemList(detail, DetailItemLists)
	items := make([]musinsa.OrderItem, 0, len(opts))
	for _, o := range opts {
		items = append(items, BuildItem(o))
	}
	if len(items) == 0 {
		_, fallback := FirstItemList(entry, ListEntryItemLists)
		for _, o := range fallback {
			items = append(items, BuildItem(o))
		}
	}
	if len(items) == 0 {
		items = append(items, synthesizeItem(entry, recvAmt))
	}
	items = DistributeGap(items, gap)

	orderDate, _, _ := strings.Cut(scalar(info.Get("ord_date")), " ")
	if orderDate == "" {
		orderDate = today
	}

	brand := ""
	if len(opts) > 0 {
		brand = scalar(opts[0].Get("brandName"))
	}
	if brand == "" {
		brand = items[0].BrandName
	}
	if brand == "" && entry != nil {
		brand = firstString(entry, path("brandName"), path("brand"))
	}

	return musinsa.Order{
		OrderNo:   orderNo,
		OrderDate: orderDate,
		BrandName: brand,
		Items:     items,
		Totals: musinsa.OrderTotals{
			NormalPrice:       int64(number(info.Get("normal_price"))),
			TotalSaleTotalAmt: int64(number(info.Get("total_sale_total_amt"))),
			PointUsed:         int64(number(info.Get("point_amt"))),
			UsePoint:          int64(number(info.Get("use_point_amt"))),
			PrePoint:          int64(number(info.Get("pre_point_amt"))),
			RecvAmt:           recvAmt,
			FinalAmt:          finalAmt,
			Gap:               gap,
			PayInfo:           payInfo(detail),
		},
	}
}
