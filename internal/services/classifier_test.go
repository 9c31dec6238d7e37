package services

import (
	"testing"

	"github.com/tbourn/go-quote-engine/internal/observability"
)

func TestClassifier_Classify(t *testing.T) {
	m := observability.NewRecorder(nil)
	c := NewClassifier([]string{" Quote Request ", ""}, []string{"re:", "our rate"}, m)

	cases := []struct {
		name, subject, body string
		want                Classification
	}{
		{"user in subject", "QUOTE REQUEST for move", "", NewRequest},
		{"user in body", "hello", "I have a quote request for you", NewRequest},
		{"both match prefers new request", "Re: quote request", "", NewRequest},
		{"provider reply", "RE: Request for quote", "", ProviderReply},
		{"provider in body", "hi", "Our rate is 100", ProviderReply},
		{"nothing", "lunch?", "see you", Ignored},
		{"empty", "", "", Ignored},
	}
	for _, tc := range cases {
		got := c.Classify(tc.subject, tc.body)
		if got != tc.want {
			t.Fatalf("%s: Classify = %s; want %s", tc.name, got, tc.want)
		}
		c.Count(got)
	}
	c.Count("")

	s := m.Snapshot()
	if s.Submissions != 3 || s.Responses != 2 || s.Ignored != 2 {
		t.Fatalf("metrics = %+v; every counted classification must show", s)
	}
}

func TestClassifier_ClassifyDoesNotCount(t *testing.T) {
	m := observability.NewRecorder(nil)
	c := NewClassifier([]string{"quote request"}, nil, m)
	for i := 0; i < 3; i++ {
		c.Classify("quote request", "")
	}
	if n := m.Snapshot().Submissions; n != 0 {
		t.Fatalf("submissions = %d; Classify must not count", n)
	}
}

func TestClassifier_QuotedRequestInProviderReply(t *testing.T) {
	c := NewClassifier([]string{"quote request", "freight quote"}, []string{"re:", "our rate"}, nil)

	reply := "Our rate is 1200 USD.\n\n> Hello, I need a freight quote from Miami to Tampa."
	if got := c.Classify("Re: Request for quote [QID:q1]", reply); got != ProviderReply {
		t.Fatalf("reply quoting a request = %s; want provider_reply", got)
	}
	forwarded := "See below.\n-----Original Message-----\nfreight quote please"
	if got := c.Classify("Fwd: shipment", forwarded); got != Ignored {
		t.Fatalf("forwarded history = %s; want ignored", got)
	}
	if got := c.Classify("Hello", "Could you send a freight quote?"); got != NewRequest {
		t.Fatalf("fresh request = %s; want new_request", got)
	}
}
