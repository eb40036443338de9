package tabular

import (
	"strconv"
	"strings"

	"github.com/grebion/tables/internal/model"
)

var translit = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d",
	'е': "e", 'ё': "yo", 'ж': "zh", 'з': "z", 'и': "i",
	'й': "y", 'к': "k", 'л': "l", 'м': "m", 'н': "n",
	'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t",
	'у': "u", 'ф': "f", 'х': "h", 'ц': "ts", 'ч': "ch",
	'ш': "sh", 'щ': "sch", 'ъ': "", 'ы': "y", 'ь': "",
	'э': "e", 'ю': "yu", 'я': "ya",
}

// fallbackCode is used when a title has no usable characters.
const fallbackCode = "column"

// GenerateCode derives a column code from a title: lowercase, Cyrillic
// transliterated to Latin, every other character replaced by an underscore,
// repeated underscores collapsed, trimmed and capped at 50 characters.
func GenerateCode(title string) string {
	var b strings.Builder
	lastUnderscore := true // suppresses leading underscores
	for _, r := range strings.ToLower(title) {
		if lat, ok := translit[r]; ok {
			if lat != "" {
				b.WriteString(lat)
				lastUnderscore = false
			}
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	code := strings.Trim(b.String(), "_")
	if len(code) > model.MaxColumnCodeLen {
		code = strings.TrimRight(code[:model.MaxColumnCodeLen], "_")
	}
	if code == "" {
		return fallbackCode
	}
	return code
}

// UniqueCode returns code, or code with a numeric suffix when it is already
// taken.
func UniqueCode(code string, taken map[string]bool) string {
	if !taken[code] {
		return code
	}
	for i := 2; ; i++ {
		suffix := "_" + strconv.Itoa(i)
		base := code
		if len(base)+len(suffix) > model.MaxColumnCodeLen {
			base = base[:model.MaxColumnCodeLen-len(suffix)]
		}
		if candidate := base + suffix; !taken[candidate] {
			return candidate
		}
	}
}
