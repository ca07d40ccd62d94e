package intent

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want Sentiment
	}{
		{"When does the drive start?", Question},
		{"where is the venue", Question},
		{"Yes, count me in!", Positive},
		{"I'd love to volunteer", Positive},
		{"No, not interested", Negative},
		{"please unsubscribe me", Negative},
		{"ok", Neutral},
		{"", Neutral},
		// Question markers win over sentiment.
		{"Yes, but when is it?", Question},
		// Positive and negative together fall back to neutral.
		{"yes and no", Neutral},
	}

	for _, tc := range cases {
		if got := Classify(tc.text); got != tc.want {
			t.Errorf("Classify(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestSuggestActions(t *testing.T) {
	cases := []struct {
		text string
		want []Action
	}{
		{"I'd like to schedule an appointment", []Action{ActionScheduleAppointment}},
		{"When does it start?", []Action{ActionSendInfo}},
		{"No, not interested", []Action{ActionCloseConversation}},
		{"I have a complaint about the organizer", []Action{ActionEscalate}},
		{"I need a wheelchair accommodation, put me down to sign up", []Action{ActionScheduleAppointment, ActionEscalate}},
		{"sounds great", nil},
	}

	for _, tc := range cases {
		got := SuggestActions(tc.text)
		if len(got) != len(tc.want) {
			t.Errorf("SuggestActions(%q) = %v, want %v", tc.text, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("SuggestActions(%q)[%d] = %q, want %q", tc.text, i, got[i], tc.want[i])
			}
		}
	}
}

func TestRequiresHumanReview(t *testing.T) {
	if !RequiresHumanReview("I want to speak to your manager") {
		t.Error("manager request should require human review")
	}
	if !RequiresHumanReview("I have a medical condition") {
		t.Error("medical topic should require human review")
	}
	if RequiresHumanReview("see you there!") {
		t.Error("plain reply should not require human review")
	}
}
