package notes

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kuitang/yanote/internal/errs"
)

// translit maps lowercase Russian and Ukrainian letters to Latin, following
// the pytils table. Hard and soft signs map to punctuation that is dropped
// later.
var translit = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "yo",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "j", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "h", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "sch",
	'ъ': "`", 'ы': "y", 'ь': "'", 'э': "e", 'ю': "yu", 'я': "ya",
	'є': "ye", 'і': "i", 'ї': "yi", 'ґ': "g",
	'‘': "'", '’': "'", '«': `"`, '»': `"`, '“': `"`, '”': `"`,
	'–': "-", '—': "-", '‒': "-", '−': "-", '…': "...", '№': "#",
}

var (
	ampersand   = regexp.MustCompile(`&amp;|&`)
	dashesSpace = regexp.MustCompile(`[-\s]+`)
	slugPattern = regexp.MustCompile(`^[-a-zA-Z0-9_]+$`)

	// NFKD then drop combining marks: "é" becomes "e".
	stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Slugify derives a URL-safe slug from title. The result contains only
// lowercase ASCII letters, digits, '_' and '-', and is at most
// MaxSlugLength characters long. It may be empty.
//
// Cyrillic output matches pytils.translit.slugify. It differs from pytils
// in two ways: punctuation is dropped before separators collapse, so "a / b"
// is "a-b" (pytils: "a--b"), and Latin diacritics are folded, so "Café" is
// "cafe" (pytils: "caf").
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = ampersand.ReplaceAllString(s, " and ")

	var b strings.Builder
	for _, r := range s {
		if latin, ok := translit[r]; ok {
			b.WriteString(latin)
			continue
		}
		b.WriteRune(r)
	}
	s, _, err := transform.String(stripMarks, b.String())
	if err != nil {
		s = b.String()
	}

	b.Reset()
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	s = dashesSpace.ReplaceAllString(strings.TrimSpace(b.String()), "-")

	if len(s) > MaxSlugLength {
		s = s[:MaxSlugLength]
	}
	return s
}

// ValidateSlug checks a user supplied slug.
func ValidateSlug(slug string) error {
	if n := utf8.RuneCountInString(slug); n > MaxSlugLength {
		return errs.Field("slug", fmt.Sprintf("Ensure this value has at most %d characters (it has %d).", MaxSlugLength, n))
	}
	if !slugPattern.MatchString(slug) {
		return errs.Field("slug", "Enter a valid “slug” consisting of letters, numbers, underscores or hyphens.")
	}
	return nil
}

// ResolveSlug returns the slug to persist for a note: the candidate when one
// is given, otherwise one derived from title. Uniqueness is checked by the
// store, inside the write transaction.
func ResolveSlug(candidate, title string) (string, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate != "" {
		if err := ValidateSlug(candidate); err != nil {
			return "", err
		}
		return candidate, nil
	}
	slug := Slugify(title)
	if slug == "" {
		return "", errs.Field("slug", "slug could not be derived from title")
	}
	return slug, nil
}
