package publish

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/animus-labs/edm-harvester/internal/contenthash"
	"github.com/animus-labs/edm-harvester/internal/domain"
)

// MaxNameLength bounds derived publication names.
const MaxNameLength = 35

// Name derives a publication name from a dataset title: lower case,
// diacritics removed, each run of other characters turned into a camel-case
// boundary, cut at MaxNameLength. Only ASCII letters and digits survive.
func Name(title string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	lower := strings.ToLower(title)
	folded, _, err := transform.String(fold, lower)
	if err != nil {
		folded = lower
	}

	var b strings.Builder
	boundary := false
	for _, r := range folded {
		if b.Len() == MaxNameLength {
			break
		}
		if !isNameRune(r) {
			boundary = b.Len() > 0
			continue
		}
		if boundary {
			r = unicode.ToUpper(r)
			boundary = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isNameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// NameFor is Name of the dataset title, falling back to a name derived from
// the IRI when the title has no usable characters.
func NameFor(d domain.Descriptor) string {
	if name := Name(d.Title); name != "" {
		return name
	}
	return "dataset" + contenthash.ForDataset(d.IRI).String()[:8]
}
