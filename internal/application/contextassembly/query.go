package contextassembly

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/doeshing/shai-agent/internal/domain"
)

const (
	// expansionMaxWords is the longest message still treated as a follow-up.
	expansionMaxWords = 4
	// summaryMaxRunes bounds the assistant summary used for expansion.
	summaryMaxRunes = 200
	// maxKeywords bounds the live search terms taken from one query.
	maxKeywords = 6
	// minKeywordRunes drops short words from the search terms.
	minKeywordRunes = 3
)

var continuationWords = map[string]bool{
	"continue":   true,
	"more":       true,
	"why":        true,
	"გააგრძელე":  true,
	"კიდევ":      true,
	"რატომ":      true,
	"მეტი":       true,
	"продолжай":  true,
	"почему":     true,
	"ещё":        true,
	"еще":        true,
	"продолжить": true,
}

var continuationPhrases = []string{"go on", "and then"}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true, "that": true,
	"what": true, "how": true, "why": true, "can": true, "you": true, "please": true,
	"does": true, "from": true, "into": true, "are": true, "was": true, "have": true,
	"should": true, "would": true, "could": true, "about": true, "there": true, "make": true,
	"create": true, "file": true, "code": true, "explain": true, "show": true, "tell": true,
}

var (
	mentionPattern = regexp.MustCompile(`(?:[\w.-]+/)*[\w-][\w.-]*\.[A-Za-z][A-Za-z0-9]{0,7}`)
	sentenceEnd    = regexp.MustCompile(`[.!?。]\s`)
)

// ExpandQuery rewrites a short follow-up ("why?", "კიდევ") into a
// self-contained retrieval query built from the previous exchange.
func ExpandQuery(message string, history []domain.ConversationTurn) (string, bool) {
	trimmed := strings.TrimSpace(message)
	if len(history) == 0 || len(strings.Fields(trimmed)) > expansionMaxWords || !hasContinuationCue(trimmed) {
		return trimmed, false
	}

	var parts []string
	if question, ok := domain.LastTurn(history, domain.RoleUser); ok {
		parts = append(parts, strings.TrimSpace(question.Content))
	}
	if answer, ok := domain.LastTurn(history, domain.RoleAssistant); ok {
		parts = append(parts, shortSummary(answer.Content))
	}
	if len(parts) == 0 {
		return trimmed, false
	}
	parts = append(parts, trimmed)

	var kept []string
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, " "), true
}

func hasContinuationCue(message string) bool {
	lower := strings.ToLower(message)
	padded := " " + strings.Join(strings.FieldsFunc(lower, isSeparator), " ") + " "
	for _, phrase := range continuationPhrases {
		if strings.Contains(padded, " "+phrase+" ") {
			return true
		}
	}
	for _, word := range strings.FieldsFunc(lower, isSeparator) {
		if continuationWords[word] {
			return true
		}
	}
	return false
}

// shortSummary keeps the first sentence of an answer, capped in length.
func shortSummary(answer string) string {
	answer = strings.TrimSpace(answer)
	if loc := sentenceEnd.FindStringIndex(answer); loc != nil {
		answer = answer[:loc[0]+1]
	}
	if utf8.RuneCountInString(answer) > summaryMaxRunes {
		runes := []rune(answer)
		answer = string(runes[:summaryMaxRunes])
	}
	return answer
}

// Keywords extracts the live search terms of a query.
func Keywords(query string) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, word := range strings.FieldsFunc(strings.ToLower(query), isSeparator) {
		if utf8.RuneCountInString(word) < minKeywordRunes || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// MentionedPaths returns the file paths named in a message. A bare name
// counts only when its extension is one of the searched extensions.
func MentionedPaths(message string, extensions []string) []string {
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}

	seen := make(map[string]bool)
	var paths []string
	for _, match := range mentionPattern.FindAllString(message, -1) {
		candidate := strings.TrimRight(match, ".")
		candidate = strings.TrimPrefix(candidate, "./")
		if candidate == "" || seen[candidate] {
			continue
		}
		dot := strings.LastIndex(candidate, ".")
		if dot < 0 {
			continue
		}
		ext := strings.ToLower(candidate[dot:])
		if !strings.Contains(candidate, "/") && !allowed[ext] {
			continue
		}
		seen[candidate] = true
		paths = append(paths, candidate)
	}
	return paths
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}
