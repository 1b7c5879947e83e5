package organize

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/lysyi3m/chan-comb/app/classify"
	"github.com/lysyi3m/chan-comb/app/content"
	"github.com/lysyi3m/chan-comb/app/database"
)

// FallbackKey is the derived key of the channel's general topic.
const FallbackKey = "general"

// titleCase builds a fresh caser per call since cases.Caser carries
// internal state and must not be shared across goroutines.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// TitleBuilder derives a topic key and title for custom strategies.
type TitleBuilder func(msg content.Message, cls classify.Result) (key string, title string)

var (
	buildersMu sync.RWMutex
	builders   = make(map[string]TitleBuilder)
)

// RegisterTitleBuilder adds a named builder for the custom topic strategy.
func RegisterTitleBuilder(name string, fn TitleBuilder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[name] = fn
}

func LookupTitleBuilder(name string) (TitleBuilder, bool) {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	fn, ok := builders[name]
	return fn, ok
}

// DeriveTopic maps a classified message to its target topic key and title
// according to the channel's topic strategy.
func DeriveTopic(cfg database.OrganizationConfig, msg content.Message, cls classify.Result) (key string, title string, err error) {
	switch cfg.TopicStrategy {
	case database.StrategyContentType:
		key = cls.Category
		title = titleCase(strings.ReplaceAll(cls.Category, "_", " "))
		return key, title, nil

	case database.StrategyDateBased:
		// Month buckets in UTC.
		key = msg.Date.UTC().Format("2006-01")
		title = msg.Date.UTC().Format("January 2006")
		return key, title, nil

	case database.StrategyCustom:
		fn, ok := LookupTitleBuilder(cfg.CustomStrategy)
		if !ok {
			return "", "", &content.ValidationError{
				Field:  "topic_strategy",
				Reason: fmt.Sprintf("unknown custom topic builder '%s'", cfg.CustomStrategy),
			}
		}
		key, title = fn(msg, cls)
		return key, title, nil
	}

	return "", "", &content.ValidationError{
		Field:  "topic_strategy",
		Reason: fmt.Sprintf("unknown topic strategy '%s'", cfg.TopicStrategy),
	}
}
