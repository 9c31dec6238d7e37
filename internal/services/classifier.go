package services

import (
	"strings"

	"github.com/tbourn/go-quote-engine/internal/observability"
)

// Classification is the pipeline an inbound message is routed to.
type Classification string

const (
	NewRequest    Classification = observability.ClassNewRequest
	ProviderReply Classification = observability.ClassProviderReply
	Ignored       Classification = observability.ClassIgnored
)

// Classifier routes messages by case-insensitive substring match against two
// phrase sets. User-submission phrases are checked first, and only against the
// subject and the sender's own text, so a reply that quotes the original
// request is not taken for a new one.
type Classifier struct {
	UserSubmission   []string
	ProviderResponse []string
	Metrics          *observability.Recorder
}

// NewClassifier lower-cases and trims the phrase sets, dropping empties.
func NewClassifier(userSubmission, providerResponse []string, m *observability.Recorder) *Classifier {
	return &Classifier{
		UserSubmission:   normalizePatterns(userSubmission),
		ProviderResponse: normalizePatterns(providerResponse),
		Metrics:          m,
	}
}

// Classify returns the pipeline for subject+body. It has no side effects, so
// a message that is retried can be classified again safely.
func (c *Classifier) Classify(subject, body string) Classification {
	subject = strings.ToLower(subject)
	fresh := strings.ToLower(freshText(body))
	body = strings.ToLower(body)

	switch {
	case matchesAny(c.UserSubmission, subject, fresh):
		return NewRequest
	case matchesAny(c.ProviderResponse, subject, body):
		return ProviderReply
	}
	return Ignored
}

// Count records one message of class. The empty class is not counted.
func (c *Classifier) Count(class Classification) {
	if class == "" {
		return
	}
	c.Metrics.Classified(string(class))
}

func matchesAny(patterns []string, subject, body string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(subject, p) || strings.Contains(body, p) {
			return true
		}
	}
	return false
}

func normalizePatterns(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// freshText returns the part of an email body written by the sender: lines
// quoted with ">" are skipped and everything from a reply header such as
// "On ... wrote:" or "-----Original Message-----" onwards is cut.
func freshText(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.ToLower(strings.TrimSpace(line))
		if isReplyHeader(trimmed) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isReplyHeader(line string) bool {
	switch {
	case strings.HasPrefix(line, "-----original message-----"):
		return true
	case strings.HasPrefix(line, "on ") && strings.HasSuffix(line, "wrote:"):
		return true
	}
	return false
}

// containsAny reports whether lower-cased text contains one of patterns.
func containsAny(patterns []string, text string) bool {
	return matchesAny(patterns, strings.ToLower(text), "")
}
