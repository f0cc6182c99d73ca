package validation

import "strings"

// Two-set (dubeolsik) keyboard layout: the QWERTY keys that produce each jamo.
var (
	initialKeys = []string{"r", "R", "s", "e", "E", "f", "a", "q", "Q", "t", "T", "d", "w", "W", "c", "z", "x", "v", "g"}
	medialKeys  = []string{"k", "o", "i", "O", "j", "p", "u", "P", "h", "hk", "ho", "hl", "y", "n", "nj", "np", "nl", "b", "m", "ml", "l"}
	finalKeys   = []string{"", "r", "R", "rt", "s", "sw", "sg", "e", "f", "fr", "fa", "fq", "ft", "fx", "fv", "fg", "a", "q", "qt", "t", "T", "d", "w", "c", "z", "x", "v", "g"}

	compatJamoKeys = map[rune]string{
		'ㄱ': "r", 'ㄲ': "R", 'ㄴ': "s", 'ㄷ': "e", 'ㄸ': "E", 'ㄹ': "f", 'ㅁ': "a",
		'ㅂ': "q", 'ㅃ': "Q", 'ㅅ': "t", 'ㅆ': "T", 'ㅇ': "d", 'ㅈ': "w", 'ㅉ': "W",
		'ㅊ': "c", 'ㅋ': "z", 'ㅌ': "x", 'ㅍ': "v", 'ㅎ': "g",
		'ㅏ': "k", 'ㅐ': "o", 'ㅑ': "i", 'ㅒ': "O", 'ㅓ': "j", 'ㅔ': "p", 'ㅕ': "u",
		'ㅖ': "P", 'ㅗ': "h", 'ㅘ': "hk", 'ㅙ': "ho", 'ㅚ': "hl", 'ㅛ': "y", 'ㅜ': "n",
		'ㅝ': "nj", 'ㅞ': "np", 'ㅟ': "nl", 'ㅠ': "b", 'ㅡ': "m", 'ㅢ': "ml", 'ㅣ': "l",
	}
)

const (
	syllableBase  = 0xAC00
	syllableLast  = 0xD7A3
	medialCount   = 21
	finalCount    = 28
	perInitialLen = medialCount * finalCount
)

// HangulToKeystrokes rewrites Hangul typed with the Korean input method active back into
// the Latin keys that were pressed. Anything else passes through.
func HangulToKeystrokes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= syllableBase && r <= syllableLast:
			idx := int(r - syllableBase)
			b.WriteString(initialKeys[idx/perInitialLen])
			b.WriteString(medialKeys[(idx%perInitialLen)/finalCount])
			b.WriteString(finalKeys[idx%finalCount])
		default:
			if k, ok := compatJamoKeys[r]; ok {
				b.WriteString(k)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// NormalizePassword undoes a forgotten input-method toggle.
func NormalizePassword(s string) string { return HangulToKeystrokes(s) }
