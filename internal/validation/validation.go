// Package validation checks user-authored input before anything touches the network or the
// database.
package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
)

// MinValidChars is the site's minimum review length, counted in valid characters.
const MinValidChars = 20

// Reason codes reported for rejected templates.
const (
	ReasonProductKeyMissing       = "product_key_missing"
	ReasonGeneralTooShort         = "general_content_too_short"
	ReasonStyleTooShort           = "style_content_too_short"
	ReasonBodyMeasurementsMissing = "body_measurements_missing"
	ReasonInvalidHeight           = "invalid_height"
	ReasonInvalidWeight           = "invalid_weight"
	ReasonUnknownCategory         = "unknown_product_type"
)

// Error is a rejected input. Reason is the stable code; Detail is for humans.
type Error struct {
	Reason string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Detail
}

// ReasonOf returns the reason code of a validation error, or "".
func ReasonOf(err error) string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

// IsValidChar reports an ASCII letter or digit, or a precomposed Hangul syllable. Standalone
// jamo, punctuation, whitespace and combining marks do not count.
func IsValidChar(r rune) bool {
	switch {
	case r < unicode.MaxASCII:
		return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
	case r >= 0xAC00 && r <= 0xD7A3:
		return true
	}
	return false
}

// CountValidChars counts the characters the site accepts toward the minimum length.
func CountValidChars(s string) int {
	n := 0
	for _, r := range s {
		if IsValidChar(r) {
			n++
		}
	}
	return n
}

// ProductKey identifies a product for template lookup: goods number, name and brand.
func ProductKey(goodsNo, goodsName, brand string) string {
	return goodsNo + "::" + goodsName + "::" + brand
}

// OptionKey narrows ProductKey to one option.
func OptionKey(goodsNo, goodsName, brand, option string) string {
	return ProductKey(goodsNo, goodsName, brand) + "::" + option
}

// ValidateTemplate checks a template for saving. Both review kinds need MinValidChars valid
// characters and clothing needs numeric height and weight.
func ValidateTemplate(productKey string, t musinsa.Template) error {
	if strings.TrimSpace(productKey) == "" {
		return &Error{Reason: ReasonProductKeyMissing}
	}
	switch strings.TrimSpace(t.ProductType) {
	case musinsa.CategoryClothing, musinsa.CategoryShoes, musinsa.CategoryAccessories:
	default:
		return &Error{Reason: ReasonUnknownCategory, Detail: t.ProductType}
	}
	if n := CountValidChars(t.GeneralContent); n < MinValidChars {
		return &Error{Reason: ReasonGeneralTooShort, Detail: fmt.Sprintf("%d of %d valid characters", n, MinValidChars)}
	}
	if n := CountValidChars(t.StyleContent); n < MinValidChars {
		return &Error{Reason: ReasonStyleTooShort, Detail: fmt.Sprintf("%d of %d valid characters", n, MinValidChars)}
	}
	if !t.IsClothing() {
		return nil
	}
	if strings.TrimSpace(t.Height.String()) == "" || strings.TrimSpace(t.Weight.String()) == "" {
		return &Error{Reason: ReasonBodyMeasurementsMissing}
	}
	if !isPositiveNumber(t.Height.String()) {
		return &Error{Reason: ReasonInvalidHeight, Detail: t.Height.String()}
	}
	if !isPositiveNumber(t.Weight.String()) {
		return &Error{Reason: ReasonInvalidWeight, Detail: t.Weight.String()}
	}
	return nil
}

func isPositiveNumber(s string) bool {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil && f > 0
}

// SanitizeLoginID drops everything but ASCII letters and digits.
func SanitizeLoginID(s string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, s)
}

// ValidLoginID accepts ASCII letters and digits, but not digits alone.
func ValidLoginID(s string) bool {
	if s == "" {
		return false
	}
	letters := false
	for _, r := range s {
		switch {
		case r >= unicode.MaxASCII:
			return false
		case unicode.IsLetter(r):
			letters = true
		case unicode.IsDigit(r):
		default:
			return false
		}
	}
	return letters
}
