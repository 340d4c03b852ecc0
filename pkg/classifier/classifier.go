// Package classifier tags incoming queries with a deterministic,
// pattern-based type before any LLM is involved.
package classifier

import (
	"regexp"
	"strings"
)

// Query types, ordered by match precedence.
const (
	TypeGreeting   = "greeting"
	TypeHowTo      = "howto"
	TypeDefinition = "definition"
	TypeWorkflow   = "workflow"
	TypeError      = "error"
	TypeGeneral    = "general"
)

// Result is the classification outcome.
type Result struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type pattern struct {
	queryType  string
	confidence float64
	re         *regexp.Regexp
}

// Classifier matches queries against an ordered pattern list. First
// match wins; no match yields general with low confidence.
type Classifier struct {
	patterns []pattern
}

// New builds the default classifier.
func New() *Classifier {
	return &Classifier{patterns: []pattern{
		{TypeGreeting, 0.95, regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good (morning|afternoon|evening)|greetings|howdy)\s*[!.?]*\s*$`)},
		{TypeGreeting, 0.90, regexp.MustCompile(`(?i)^\s*(thanks|thank you|bye|goodbye|see you)\s*[!.?]*\s*$`)},
		{TypeHowTo, 0.85, regexp.MustCompile(`(?i)\bhow (do|can|would|should) (i|we|you)\b`)},
		{TypeHowTo, 0.80, regexp.MustCompile(`(?i)\bhow to\b`)},
		{TypeHowTo, 0.75, regexp.MustCompile(`(?i)^\s*(steps?|instructions?|guide) (to|for)\b`)},
		{TypeDefinition, 0.85, regexp.MustCompile(`(?i)\bwhat (is|are|does)\b`)},
		{TypeDefinition, 0.80, regexp.MustCompile(`(?i)\b(meaning|definition) of\b`)},
		{TypeDefinition, 0.75, regexp.MustCompile(`(?i)\bwhat('s| does) .* mean\b`)},
		{TypeWorkflow, 0.80, regexp.MustCompile(`(?i)\b(workflow|process|procedure|pipeline) (for|of|to)\b`)},
		{TypeWorkflow, 0.75, regexp.MustCompile(`(?i)\bwhat happens (when|after|if)\b`)},
		{TypeError, 0.85, regexp.MustCompile(`(?i)\b(error|exception|failed|failure|crash(es|ed)?|broken)\b`)},
		{TypeError, 0.80, regexp.MustCompile(`(?i)\b(not working|doesn'?t work|won'?t (load|open|start|work))\b`)},
		{TypeError, 0.75, regexp.MustCompile(`(?i)\b(stuck|frozen|hangs?|timeout|timed out)\b`)},
	}}
}

// Classify tags the query. Synchronous and allocation-light; no
// external calls.
func (c *Classifier) Classify(query string) Result {
	trimmed := strings.TrimSpace(query)
	for _, p := range c.patterns {
		if p.re.MatchString(trimmed) {
			return Result{Type: p.queryType, Confidence: p.confidence}
		}
	}
	return Result{Type: TypeGeneral, Confidence: 0.3}
}

// NormalizeEntryType maps a classified type onto the KB entryType
// vocabulary (howto is stored as how_to).
func NormalizeEntryType(classifiedType string) string {
	if classifiedType == TypeHowTo {
		return "how_to"
	}
	return classifiedType
}
