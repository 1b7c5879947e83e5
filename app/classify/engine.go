package classify

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lysyi3m/chan-comb/app/content"
)

// Rule strategies form a closed set; custom rules dispatch through the
// named predicate registry.
const (
	StrategyFileExtension   = "file_extension"
	StrategySizeBased       = "size_based"
	StrategyContentAnalysis = "content_analysis"
	StrategyCustom          = "custom"
)

// Confidence assigned per strategy. Extension and registry matches are
// deterministic; the rest are heuristics.
const (
	ConfidenceExtension       = 1.0
	ConfidenceSizeBased       = 0.9
	ConfidenceCustom          = 0.8
	ConfidenceContentAnalysis = 0.7
	ConfidenceUncategorized   = 0.0
)

// CategoryUncategorized is the last-resort category when neither a rule
// nor the registry recognizes a message.
const CategoryUncategorized = "uncategorized"

// Rule is a validated classification rule ready for evaluation.
type Rule struct {
	ID          int64
	Name        string
	Strategy    string
	Pattern     string
	Category    string
	Subcategory string
	Priority    int
	Conditions  []Condition
}

// Validate rejects unknown strategies and unresolvable custom predicates.
func (r Rule) Validate() error {
	switch r.Strategy {
	case StrategyFileExtension, StrategySizeBased, StrategyContentAnalysis:
	case StrategyCustom:
		if _, ok := LookupPredicate(r.Pattern); !ok {
			return &content.ValidationError{Field: "rule", Reason: fmt.Sprintf("rule '%s': unknown custom predicate '%s'", r.Name, r.Pattern)}
		}
	default:
		return &content.ValidationError{Field: "rule", Reason: fmt.Sprintf("rule '%s': unknown strategy '%s'", r.Name, r.Strategy)}
	}
	for _, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// PredicateFunc is a named custom rule predicate.
type PredicateFunc func(msg content.Message) bool

var (
	predicatesMu sync.RWMutex
	predicates   = make(map[string]PredicateFunc)
)

// RegisterPredicate adds a named predicate for custom rules to dispatch to.
func RegisterPredicate(name string, fn PredicateFunc) {
	predicatesMu.Lock()
	defer predicatesMu.Unlock()
	predicates[name] = fn
}

func LookupPredicate(name string) (PredicateFunc, bool) {
	predicatesMu.RLock()
	defer predicatesMu.RUnlock()
	fn, ok := predicates[name]
	return fn, ok
}

// Result is the classification outcome for one message.
type Result struct {
	Category    string
	Subcategory string
	ContentType string
	Confidence  float64
	MatchedRule string
}

// Engine evaluates rules in (priority desc, rule id asc) order; the first
// matching rule wins. Rules are loaded once at construction.
type Engine struct {
	rules    []Rule
	registry *Registry
}

func NewEngine(rules []Rule, registry *Registry) *Engine {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	return &Engine{rules: sorted, registry: registry}
}

// Classify is deterministic: the same message metadata always produces the
// same result for a given rule set.
func (e *Engine) Classify(msg content.Message) Result {
	ext := msg.File.Extension()
	contentType := ""
	if info, ok := e.registry.Lookup(ext); ok {
		contentType = info.ContentType
	}

	for _, rule := range e.rules {
		confidence, matched := e.matchRule(rule, msg, contentType)
		if !matched {
			continue
		}
		return Result{
			Category:    rule.Category,
			Subcategory: rule.Subcategory,
			ContentType: contentType,
			Confidence:  confidence,
			MatchedRule: rule.Name,
		}
	}

	// No rule matched: fall back to the content type registry.
	if info, ok := e.registry.Lookup(ext); ok {
		return Result{
			Category:    info.Category,
			ContentType: info.ContentType,
			Confidence:  ConfidenceExtension,
		}
	}

	return Result{
		Category:   CategoryUncategorized,
		Confidence: ConfidenceUncategorized,
	}
}

func (e *Engine) matchRule(rule Rule, msg content.Message, contentType string) (float64, bool) {
	for _, c := range rule.Conditions {
		if !c.Match(msg, e.registry) {
			return 0, false
		}
	}

	switch rule.Strategy {
	case StrategyFileExtension:
		if msg.File == nil {
			return 0, false
		}
		ext := msg.File.Extension()
		pattern := strings.ToLower(strings.TrimPrefix(rule.Pattern, "."))
		if pattern == ext || strings.EqualFold(rule.Pattern, contentType) {
			return ConfidenceExtension, true
		}
		return 0, false

	case StrategySizeBased:
		// Size rules are driven entirely by their conditions.
		if msg.File == nil || len(rule.Conditions) == 0 {
			return 0, false
		}
		return ConfidenceSizeBased, true

	case StrategyContentAnalysis:
		if rule.Pattern == "" {
			return 0, false
		}
		pattern := strings.ToLower(rule.Pattern)
		if strings.Contains(strings.ToLower(msg.Text), pattern) {
			return ConfidenceContentAnalysis, true
		}
		if msg.File != nil && strings.Contains(strings.ToLower(msg.File.MimeType), pattern) {
			return ConfidenceContentAnalysis, true
		}
		return 0, false

	case StrategyCustom:
		fn, ok := LookupPredicate(rule.Pattern)
		if !ok {
			return 0, false
		}
		if fn(msg) {
			return ConfidenceCustom, true
		}
		return 0, false
	}

	return 0, false
}
