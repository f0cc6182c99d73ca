package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
)

func TestCountValidChars(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"whitespace only", " \t\n  ", 0},
		{"punctuation only", "!!!...,,,???~~~", 0},
		{"standalone jamo", "ㅋㅋㅋㅋㅋㅎㅎㅎㅠㅠㅏㅓ", 0},
		{"syllables", "정말 좋아요", 5},
		{"mixed", "Size M 딱 맞아요!! 10/10", 13},
		{"combining marks", "e\u0301", 1},
		{"fullwidth latin", "ＡＢＣ", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CountValidChars(tc.in))
		})
	}
}

func TestValidCharBoundary(t *testing.T) {
	twenty := strings.Repeat("a", 20)
	nineteen := strings.Repeat("a", 19)
	base := musinsa.Template{ProductType: musinsa.CategoryShoes, StyleContent: twenty}

	base.GeneralContent = twenty
	assert.NoError(t, ValidateTemplate("k", base))

	base.GeneralContent = nineteen + "   !!!ㅋㅋ"
	err := ValidateTemplate("k", base)
	require.Error(t, err)
	assert.Equal(t, ReasonGeneralTooShort, ReasonOf(err))
	assert.Contains(t, err.Error(), "19 of 20")
}

func TestValidateTemplate(t *testing.T) {
	long := "이 제품은 정말 만족스럽고 품질이 좋아서 다시 구매할 생각입니다"
	valid := musinsa.Template{
		ProductType:    musinsa.CategoryClothing,
		Gender:         "여성",
		Height:         "165",
		Weight:         "52",
		GeneralContent: long,
		StyleContent:   long,
	}

	cases := []struct {
		name   string
		key    string
		mutate func(*musinsa.Template)
		reason string
	}{
		{"valid clothing", "1::a::b", func(*musinsa.Template) {}, ""},
		{"missing key", "  ", func(*musinsa.Template) {}, ReasonProductKeyMissing},
		{"unknown category", "k", func(t *musinsa.Template) { t.ProductType = "가전" }, ReasonUnknownCategory},
		{"style too short", "k", func(t *musinsa.Template) { t.StyleContent = "짧아요" }, ReasonStyleTooShort},
		{"clothing without height", "k", func(t *musinsa.Template) { t.Height = "" }, ReasonBodyMeasurementsMissing},
		{"clothing bad height", "k", func(t *musinsa.Template) { t.Height = "tall" }, ReasonInvalidHeight},
		{"clothing bad weight", "k", func(t *musinsa.Template) { t.Weight = "-3" }, ReasonInvalidWeight},
		{"shoes ignore body", "k", func(t *musinsa.Template) {
			t.ProductType = musinsa.CategoryShoes
			t.Height, t.Weight = "", ""
		}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tpl := valid
			tc.mutate(&tpl)
			err := ValidateTemplate(tc.key, tpl)
			if tc.reason == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.reason, ReasonOf(err))
		})
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "123::티셔츠::브랜드", ProductKey("123", "티셔츠", "브랜드"))
	assert.Equal(t, "123::티셔츠::브랜드::L", OptionKey("123", "티셔츠", "브랜드", "L"))
}

func TestHangulToKeystrokes(t *testing.T) {
	cases := map[string]string{
		"안녕":      "dkssud",
		"ㅁㅁ1!":    "aa1!",
		"abc123":  "abc123",
		"ㅘ":       "hk",
		"닭":       "ekfr",
		"pass워드": "passdnjem",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePassword(in), in)
	}
}

func TestLoginID(t *testing.T) {
	assert.Equal(t, "user01", SanitizeLoginID(" user_01!"))
	assert.Equal(t, "abc", SanitizeLoginID("a한b글c"))

	assert.True(t, ValidLoginID("user01"))
	assert.True(t, ValidLoginID("abc"))
	assert.False(t, ValidLoginID("12345"))
	assert.False(t, ValidLoginID(""))
	assert.False(t, ValidLoginID("user_01"))
	assert.False(t, ValidLoginID("유저"))
}
