// Package intent classifies inbound message text into coarse sentiment
// and suggested follow-up actions using ordered keyword rule tables.
//
// Classification is deliberately deterministic — it gates escalation and
// rate-limit policy downstream, so it must be unit-testable and must never
// depend on an external service.
package intent

import "strings"

// Sentiment is the coarse classification of a message.
type Sentiment string

const (
	Positive Sentiment = "positive"
	Negative Sentiment = "negative"
	Neutral  Sentiment = "neutral"
	Question Sentiment = "question"
)

// Action is a suggested follow-up derived from an inbound message.
type Action string

const (
	ActionScheduleAppointment Action = "schedule_appointment"
	ActionSendInfo            Action = "send_info"
	ActionCloseConversation   Action = "close_conversation"
	ActionEscalate            Action = "escalate"
)

// questionMarkers take precedence over sentiment keywords.
var questionMarkers = []string{"?", "when", "where", "how", "what"}

var positiveKeywords = []string{
	"yes", "interested", "sign up", "count me in", "participate", "volunteer",
}

// Longer phrases first: stripNegative replaces these in order, and "no"
// must not eat the middle of "not interested" before the phrase is removed.
var negativeKeywords = []string{
	"not interested", "unsubscribe", "remove", "decline", "cannot", "busy", "no",
}

var scheduleKeywords = []string{"schedule", "book", "sign up", "appointment"}

var escalateKeywords = []string{
	"complaint", "problem", "manager", "supervisor",
	"accommodation", "medical", "disability",
}

var refusalKeywords = []string{"no", "not interested", "decline", "cannot"}

// Classify returns the sentiment of the given text. Rule order, first match
// wins: question markers, then positive keywords, then negative keywords.
// If both positive and negative keywords match, the result is Neutral.
func Classify(text string) Sentiment {
	lower := strings.ToLower(text)

	if containsAny(lower, questionMarkers) {
		return Question
	}

	// Positive keywords are matched against the text with negative phrases
	// stripped, so "not interested" never counts as "interested".
	pos := containsAny(stripNegative(lower), positiveKeywords)
	neg := containsAny(lower, negativeKeywords)
	switch {
	case pos && neg:
		return Neutral
	case pos:
		return Positive
	case neg:
		return Negative
	}
	return Neutral
}

// SuggestActions derives follow-up actions from the inbound message text.
// Rules are evaluated independently; a message can suggest several actions.
// Escalate is always last so callers that only read the first action still
// see the conversational intent.
func SuggestActions(text string) []Action {
	lower := strings.ToLower(text)

	var actions []Action
	if containsAny(lower, scheduleKeywords) {
		actions = append(actions, ActionScheduleAppointment)
	}
	if containsAny(lower, questionMarkers) {
		actions = append(actions, ActionSendInfo)
	}
	if containsAny(lower, refusalKeywords) {
		actions = append(actions, ActionCloseConversation)
	}
	if containsAny(lower, escalateKeywords) {
		actions = append(actions, ActionEscalate)
	}
	return actions
}

// RequiresHumanReview reports whether the text trips an escalation keyword
// (complaints, medical or accessibility topics) that must never be answered
// autonomously.
func RequiresHumanReview(text string) bool {
	return containsAny(strings.ToLower(text), escalateKeywords)
}

func stripNegative(lower string) string {
	for _, kw := range negativeKeywords {
		lower = strings.ReplaceAll(lower, kw, " ")
	}
	return lower
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
