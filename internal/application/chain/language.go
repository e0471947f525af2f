package chain

import "unicode"

// Language is a reply language the templates are written in.
type Language string

const (
	English  Language = "en"
	Georgian Language = "ka"
)

// Name is the English name used when asking the model to reply.
func (l Language) Name() string {
	if l == Georgian {
		return "Georgian"
	}
	return "English"
}

// DetectLanguage picks Georgian when Georgian letters make up at least a
// third of the letters in text, English otherwise.
func DetectLanguage(text string) Language {
	var letters, georgian int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Georgian, r) {
			georgian++
		}
	}
	if letters > 0 && georgian*3 >= letters {
		return Georgian
	}
	return English
}
