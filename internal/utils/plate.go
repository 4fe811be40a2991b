// Package utils holds plate-text helpers shared by the ingest pipeline and
// the store's fuzzy queries.
//
// A plate is encoded as 9 characters: two digits, a two-digit alphabet code
// in the range 10-69, three digits, and the two-digit province part. `?` is
// a single-character wildcard accepted in queries only.
package utils

import (
	"strings"
)

const PlateLength = 9

// letterCodes maps the two-digit alphabet code to its display letter.
var letterCodes = map[string]string{
	"10": "الف", "11": "ب", "12": "پ", "13": "ت", "14": "ث",
	"15": "ج", "16": "چ", "17": "ح", "18": "خ", "19": "د",
	"20": "ذ", "21": "ر", "22": "ز", "23": "ژ", "24": "س",
	"25": "ش", "26": "ص", "27": "ض", "28": "ط", "29": "ظ",
	"30": "ع", "31": "غ", "32": "ف", "33": "ق", "34": "ک",
	"35": "گ", "36": "ل", "37": "م", "38": "ن", "39": "و",
	"40": "ه", "41": "ی",
}

var digitFolding = strings.NewReplacer(
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
	"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
	" ", "", "-", "", "_", "",
)

// NormalizePlate folds eastern digits to ASCII and strips separators. It does
// not validate; feed the result to ValidPlate.
func NormalizePlate(s string) string {
	return digitFolding.Replace(strings.TrimSpace(s))
}

// ValidPlate reports whether s is a well-formed 9-character plate. When
// allowWildcard is true each position may also be `?`.
func ValidPlate(s string, allowWildcard bool) bool {
	if len(s) != PlateLength {
		return false
	}
	for i := 0; i < PlateLength; i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '?' && allowWildcard {
			continue
		}
		return false
	}
	// Alphabet code occupies positions 3-4. Skip the range check when either
	// half is a wildcard.
	hi, lo := s[2], s[3]
	if hi == '?' || lo == '?' {
		return true
	}
	code := int(hi-'0')*10 + int(lo-'0')
	return code >= 10 && code <= 69
}

// WildcardToLike turns a plate query with `?` wildcards into a SQL LIKE
// pattern, escaping LIKE metacharacters in the literal parts.
func WildcardToLike(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// DisplayPlate renders the stored encoding for humans, resolving the
// alphabet code. Unknown codes fall back to the raw digits.
func DisplayPlate(s string) string {
	if len(s) != PlateLength {
		return s
	}
	letter, ok := letterCodes[s[2:4]]
	if !ok {
		letter = s[2:4]
	}
	return s[0:2] + " " + letter + " " + s[4:7] + " " + s[7:9]
}
