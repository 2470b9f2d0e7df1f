package generation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// maxInputLength caps user text embedded into a generation prompt.
	maxInputLength = 2000
	// maxOutputLength bounds a single generated text unit.
	maxOutputLength = 8000
)

// Phrases and markers that attempt to re-steer the model. Matched
// case-insensitively and removed from embedded user text.
var injectionMarkers = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard the above",
	"system prompt",
	"you are now",
	"<|im_start|>",
	"<|im_end|>",
	"[system]",
	"[assistant]",
	"[user]",
	"###instruction",
	"### instruction",
}

// markerPattern matches any injection marker case-insensitively. Matching
// the original string directly avoids mapping indexes through a lowercased
// copy, whose byte offsets drift on runes that change width under ToLower.
var markerPattern = compileMarkerPattern(injectionMarkers)

func compileMarkerPattern(markers []string) *regexp.Regexp {
	quoted := make([]string, len(markers))
	for i, m := range markers {
		quoted[i] = regexp.QuoteMeta(m)
	}
	return regexp.MustCompile("(?i)(?:" + strings.Join(quoted, "|") + ")")
}

// SanitizeInput prepares untrusted user text for embedding into a generation
// prompt: control characters are dropped, role-switching and
// instruction-override markers are stripped, and the result is length-capped.
func SanitizeInput(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}

	// Repeat until stable so fragments joined by a removal cannot
	// reassemble into a marker.
	cleaned := b.String()
	for markerPattern.MatchString(cleaned) {
		cleaned = markerPattern.ReplaceAllLiteralString(cleaned, "")
	}

	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) > maxInputLength {
		cut := maxInputLength
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = cleaned[:cut]
	}
	return cleaned
}

// leakedTokens are model control sequences that must never appear in output
// surfaced to users.
var leakedTokens = []string{"<|im_start|>", "<|im_end|>", "<|endoftext|>"}

// ValidateOutputs checks that generated text units are plausible: non-empty,
// within length bounds, and free of leaked control tokens.
func ValidateOutputs(outputs []string) error {
	if len(outputs) == 0 {
		return fmt.Errorf("%w: empty output", ErrGeneration)
	}
	for i, out := range outputs {
		trimmed := strings.TrimSpace(out)
		if trimmed == "" {
			return fmt.Errorf("%w: blank output at index %d", ErrGeneration, i)
		}
		if len(out) > maxOutputLength {
			return fmt.Errorf("%w: output %d exceeds %d bytes", ErrGeneration, i, maxOutputLength)
		}
		lower := strings.ToLower(out)
		for _, token := range leakedTokens {
			if strings.Contains(lower, token) {
				return fmt.Errorf("%w: output %d contains control token", ErrGeneration, i)
			}
		}
	}
	return nil
}

// ValidatePlan checks the structural shape of a generated multi-day program:
// exactly one prompt per day.
func ValidatePlan(outputs []string, days int) error {
	if err := ValidateOutputs(outputs); err != nil {
		return err
	}
	if len(outputs) != days {
		return fmt.Errorf("%w: expected %d day prompts, got %d", ErrGeneration, days, len(outputs))
	}
	return nil
}

// BuildPlanPrompt renders the generation request for a new multi-day
// program around the sanitized seed text.
func BuildPlanPrompt(seed string, days int) string {
	return fmt.Sprintf(
		"Create a %d-day shared conversation program for two partners. "+
			"Return exactly %d prompts, one per day, each a single self-contained conversation starter. "+
			"Theme: %s",
		days, days, SanitizeInput(seed))
}

// BuildCrossoverPrompt renders the generation request fired when both
// partners have contributed to a step for the first time.
func BuildCrossoverPrompt(stepPrompt string, contributions []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Today's prompt: %s\n\n", SanitizeInput(stepPrompt))
	b.WriteString("Both partners have now responded. Their first responses:\n")
	for i, c := range contributions {
		fmt.Fprintf(&b, "Partner %d: %s\n", i+1, SanitizeInput(c))
	}
	b.WriteString("\nWrite a short, warm reflection for the couple, followed by one follow-up question.")
	return b.String()
}
