package classifier

import (
	"strings"
	"unicode"
)

// englishStopWords is the usual English stop-word list used by text
// classifiers trained on ransom notes.
var englishStopWords = toSet(`i me my myself we our ours ourselves you your yours yourself
yourselves he him his himself she her hers herself it its itself they them their theirs
themselves what which who whom this that these those am is are was were be been being have
has had having do does did doing a an the and but if or because as until while of at by for
with about against between into through during before after above below to from up down in
out on off over under again further then once here there when where why how all any both
each few more most other some such no nor not only own same so than too very s t can will
just don should now d ll m o re ve y ain aren couldn didn doesn hadn hasn haven isn ma
mightn mustn needn shan shouldn wasn weren won wouldn`)

func toSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

// Preprocess lowercases text, splits it into words, strips punctuation,
// drops stop words and reduces plural nouns to their singular form.
func Preprocess(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		for _, tok := range strings.FieldsFunc(f, isSeparator) {
			tok = strings.Map(stripPunct, tok)
			if tok == "" {
				continue
			}
			if _, stop := englishStopWords[tok]; stop {
				continue
			}
			tokens = append(tokens, Lemmatize(tok))
		}
	}
	return tokens
}

// isSeparator splits tokens joined by punctuation that separates words, so
// "files/documents" yields two tokens while "don't" stays one.
func isSeparator(r rune) bool {
	switch r {
	case '/', '\\', '|', ',', ';', ':', '(', ')', '[', ']', '{', '}', '<', '>', '"', '=':
		return true
	}
	return false
}

func stripPunct(r rune) rune {
	if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsControl(r) {
		return -1
	}
	return r
}

// Lemmatize reduces an English plural noun to its singular form with
// suffix rules. Words of three letters or fewer are returned unchanged.
func Lemmatize(w string) string {
	if len(w) <= 3 {
		return w
	}
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"),
		strings.HasSuffix(w, "xes"),
		strings.HasSuffix(w, "ches"),
		strings.HasSuffix(w, "shes"),
		strings.HasSuffix(w, "zes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"),
		strings.HasSuffix(w, "us"),
		strings.HasSuffix(w, "is"):
		return w
	case strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	default:
		return w
	}
}
