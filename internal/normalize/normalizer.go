package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// DefaultAgentName is the speaker label emitted by the plant diagnosis agent.
	DefaultAgentName = "plant_disease_diagnostician"

	// NoResponseMessage is returned for empty or null agent replies.
	NoResponseMessage = "No response received from the agent."

	eventMarker   = "Event("
	userLabel     = "User >"
	createdMarker = "### Created"
	resumeMarker  = "### Continue"
	fenceOpen     = `text="""`
)

// Rule names reported in Result.Method.
const (
	MethodEmpty          = "empty"
	MethodFencedText     = "fenced_text"
	MethodContentParts   = "content_parts"
	MethodLabeledLines   = "labeled_lines"
	MethodSubstitution   = "substitution"
	MethodStructuredFail = "structured_error"
	MethodLabeled        = "labeled"
	MethodPlain          = "plain"
)

var (
	fencedTextRe     = regexp.MustCompile(`(?s)text\s*=\s*"""(.*?)"""`)
	contentPartsRe   = regexp.MustCompile(`(?s)parts\s*=\s*\[(.*?Part\(.*?)\]`)
	fencedSpanRe     = regexp.MustCompile(`(?s)"""(.*?)"""`)
	fenceCloseRoleRe = regexp.MustCompile(`"""[\s,)\]]*role\s*=\s*['"]model['"]\)?`)
	modelWordRe      = regexp.MustCompile(`\bmodel\b`)
	whitespaceRunRe  = regexp.MustCompile(`\s+`)
	blankLinesRe     = regexp.MustCompile(`\n{2,}`)

	leadingMarkers = []string{createdMarker, resumeMarker, userLabel}
)

// Result is a normalized reply together with the rule that produced it.
type Result struct {
	Text   string
	Method string
}

type rule struct {
	name       string
	match      func(raw string) bool
	extract    func(raw string) (string, error)
	structured bool
}

// Normalizer turns raw agent output into display text. It is safe for
// concurrent use; all state is fixed at construction.
type Normalizer struct {
	label string
	rules []rule
}

// New returns a Normalizer recognizing speaker labels for agentName.
func New(agentName string) *Normalizer {
	agentName = strings.TrimSpace(agentName)
	if agentName == "" {
		agentName = DefaultAgentName
	}
	n := &Normalizer{label: agentName + " >"}
	isEvent := func(raw string) bool { return strings.Contains(raw, eventMarker) }
	n.rules = []rule{
		{name: MethodEmpty, match: isEmpty, extract: func(string) (string, error) { return NoResponseMessage, nil }},
		{name: MethodFencedText, match: isEvent, extract: extractFencedText, structured: true},
		{name: MethodContentParts, match: isEvent, extract: extractContentParts, structured: true},
		{name: MethodLabeledLines, match: isEvent, extract: n.extractLabeledLines, structured: true},
		{name: MethodSubstitution, match: isEvent, extract: substituteMarkup, structured: true},
		{name: MethodLabeled, match: n.hasLabel, extract: n.extractLabeled},
		{name: MethodPlain, match: func(string) bool { return true }, extract: cleanPlain},
	}
	return n
}

// Label returns the speaker label this normalizer strips.
func (n *Normalizer) Label() string {
	return n.label
}

// Clean returns the display text for raw. It never fails.
func (n *Normalizer) Clean(raw string) string {
	return n.Normalize(raw).Text
}

// Normalize evaluates the rule chain in order and returns the first
// non-empty extraction.
func (n *Normalizer) Normalize(raw string) Result {
	for _, r := range n.rules {
		if !r.match(raw) {
			continue
		}
		out, err := runRule(r, raw)
		if err != nil {
			return Result{Text: "Error processing response: " + err.Error(), Method: MethodStructuredFail}
		}
		if out != "" {
			return Result{Text: out, Method: r.name}
		}
	}
	return Result{Text: NoResponseMessage, Method: MethodEmpty}
}

func runRule(r rule, raw string) (out string, err error) {
	if r.structured {
		defer func() {
			if p := recover(); p != nil {
				out = ""
				err = fmt.Errorf("%v", p)
			}
		}()
	}
	return r.extract(raw)
}

func isEmpty(raw string) bool {
	s := strings.TrimSpace(raw)
	return s == "" || s == "None"
}

func extractFencedText(raw string) (string, error) {
	m := fencedTextRe.FindStringSubmatch(raw)
	if len(m) < 2 {
		return "", nil
	}
	return strings.TrimSpace(unescapeFence(m[1])), nil
}

// unescapeFence restores triple quotes that were escaped inside a fenced span.
func unescapeFence(s string) string {
	return strings.ReplaceAll(s, `\"\"\"`, `"""`)
}

func extractContentParts(raw string) (string, error) {
	for _, parts := range contentPartsRe.FindAllStringSubmatch(raw, -1) {
		if len(parts) < 2 {
			continue
		}
		span := fencedSpanRe.FindStringSubmatch(parts[1])
		if len(span) < 2 {
			continue
		}
		if text := strings.TrimSpace(unescapeFence(span[1])); text != "" {
			return text, nil
		}
	}
	return "", nil
}

func (n *Normalizer) extractLabeledLines(raw string) (string, error) {
	var (
		collected  []string
		inResponse bool
	)
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if idx := strings.Index(trimmed, n.label); idx >= 0 && !isTraceLine(trimmed) {
			inResponse = true
			trimmed = strings.TrimSpace(trimmed[idx+len(n.label):])
			if trimmed != "" {
				collected = append(collected, trimmed)
			}
			continue
		}
		if !inResponse || trimmed == "" || isTraceLine(trimmed) {
			continue
		}
		collected = append(collected, trimmed)
	}
	return strings.Join(collected, "\n"), nil
}

func isTraceLine(line string) bool {
	for _, prefix := range []string{eventMarker, userLabel, createdMarker, resumeMarker} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func substituteMarkup(raw string) (string, error) {
	out := strings.ReplaceAll(raw, eventMarker, "")
	out = strings.ReplaceAll(out, fenceOpen, "")
	out = fenceCloseRoleRe.ReplaceAllString(out, "")
	out = modelWordRe.ReplaceAllString(out, "")
	out = whitespaceRunRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out), nil
}

func (n *Normalizer) hasLabel(raw string) bool {
	return strings.Contains(raw, n.label)
}

func (n *Normalizer) extractLabeled(raw string) (string, error) {
	lines := strings.Split(raw, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if idx := strings.LastIndex(line, n.label); idx >= 0 {
			line = line[idx+len(n.label):]
		}
		line = strings.TrimSpace(line)
		if line == "" || isTraceLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), nil
}

func cleanPlain(raw string) (string, error) {
	out := strings.TrimSpace(raw)
	for {
		stripped := out
		for _, marker := range leadingMarkers {
			if strings.HasPrefix(stripped, marker) {
				stripped = strings.TrimSpace(stripped[len(marker):])
				break
			}
		}
		if stripped == out {
			break
		}
		out = stripped
	}
	out = blankLinesRe.ReplaceAllString(out, "\n\n")
	out = strings.TrimSpace(out)
	if isEmpty(out) {
		return NoResponseMessage, nil
	}
	return out, nil
}
