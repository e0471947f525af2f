package pipeline

import (
	"math/rand"

	"github.com/doeshing/shai-agent/internal/application/chain"
)

type messageKey int

const (
	msgNotUnderstood messageKey = iota
	msgMultipleActions
	msgDenied
	msgTimedOut
	msgUnavailable
	msgMisconfigured
	msgInternal
	msgEmptyAnswer
)

var messages = map[chain.Language]map[messageKey]string{
	chain.English: {
		msgNotUnderstood:   "I could not understand the requested action, so nothing was done.",
		msgMultipleActions: "I can only perform one action per turn, so nothing was done.",
		msgDenied:          "The action was not performed: confirmation was denied.",
		msgTimedOut:        "The action was not performed: no confirmation arrived in time.",
		msgUnavailable:     "The model service is temporarily unavailable. Please try again shortly.",
		msgMisconfigured:   "The model service is not configured correctly. Please check the credentials.",
		msgInternal:        "Something went wrong while processing the request. Please try again.",
		msgEmptyAnswer:     "I do not have an answer for that.",
	},
	chain.Georgian: {
		msgNotUnderstood:   "მოთხოვნილი მოქმედება ვერ გავიგე, ამიტომ არაფერი შესრულებულა.",
		msgMultipleActions: "ერთ ჯერზე მხოლოდ ერთი მოქმედების შესრულება შემიძლია, ამიტომ არაფერი შესრულებულა.",
		msgDenied:          "მოქმედება არ შესრულდა: დადასტურება უარყოფილია.",
		msgTimedOut:        "მოქმედება არ შესრულდა: დადასტურება დროულად არ მოვიდა.",
		msgUnavailable:     "მოდელის სერვისი დროებით მიუწვდომელია. სცადეთ მოგვიანებით.",
		msgMisconfigured:   "მოდელის სერვისი არასწორად არის კონფიგურირებული. შეამოწმეთ მონაცემები.",
		msgInternal:        "მოთხოვნის დამუშავებისას შეცდომა მოხდა. სცადეთ თავიდან.",
		msgEmptyAnswer:     "ამაზე პასუხი არ მაქვს.",
	},
}

func message(lang chain.Language, key messageKey) string {
	if text, ok := messages[lang][key]; ok {
		return text
	}
	return messages[chain.English][key]
}

// CannedGreetings are the replies of the no-model fast path.
var CannedGreetings = map[chain.Language][]string{
	chain.English: {
		"Hello! How can I help with your project today?",
		"Hi there! What would you like to work on?",
		"Hey! Ask me about your code or tell me what to change.",
	},
	chain.Georgian: {
		"გამარჯობა! რით შემიძლია დაგეხმაროთ?",
		"გაგიმარჯოს! რაზე ვიმუშაოთ დღეს?",
		"სალამი! მკითხეთ კოდის შესახებ ან მითხარით, რა შევცვალო.",
	},
}

// greeting picks uniformly from the fixed set of the detected language.
func greeting(lang chain.Language) string {
	options := CannedGreetings[lang]
	if len(options) == 0 {
		options = CannedGreetings[chain.English]
	}
	return options[rand.Intn(len(options))]
}
