package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lysyi3m/chan-comb/app/content"
)

// Condition is a closed tagged-variant predicate evaluated against message
// metadata. Unknown kinds are rejected at load time instead of being
// silently ignored.
type Condition struct {
	Kind     string      `yaml:"kind" json:"kind"`
	Size     int64       `yaml:"size,omitempty" json:"size,omitempty"`
	Values   []string    `yaml:"values,omitempty" json:"values,omitempty"`
	Prefix   string      `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Children []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

const (
	CondMinSize       = "min_size"
	CondMaxSize       = "max_size"
	CondExtensionIn   = "extension_in"
	CondContentTypeIn = "content_type_in"
	CondMimePrefix    = "mime_prefix"
	CondAnd           = "and"
	CondOr            = "or"
)

func (c Condition) Validate() error {
	switch c.Kind {
	case CondMinSize, CondMaxSize:
		if c.Size <= 0 {
			return &content.ValidationError{Field: "condition", Reason: fmt.Sprintf("%s requires a positive size", c.Kind)}
		}
	case CondExtensionIn, CondContentTypeIn:
		if len(c.Values) == 0 {
			return &content.ValidationError{Field: "condition", Reason: fmt.Sprintf("%s requires a non-empty values list", c.Kind)}
		}
	case CondMimePrefix:
		if c.Prefix == "" {
			return &content.ValidationError{Field: "condition", Reason: "mime_prefix requires a prefix"}
		}
	case CondAnd, CondOr:
		if len(c.Children) == 0 {
			return &content.ValidationError{Field: "condition", Reason: fmt.Sprintf("%s requires child conditions", c.Kind)}
		}
		for _, child := range c.Children {
			if err := child.Validate(); err != nil {
				return err
			}
		}
	default:
		return &content.ValidationError{Field: "condition", Reason: fmt.Sprintf("unknown condition kind '%s'", c.Kind)}
	}
	return nil
}

func (c Condition) Match(msg content.Message, registry *Registry) bool {
	switch c.Kind {
	case CondMinSize:
		return msg.File != nil && msg.File.Size >= c.Size
	case CondMaxSize:
		return msg.File != nil && msg.File.Size <= c.Size
	case CondExtensionIn:
		ext := msg.File.Extension()
		if ext == "" {
			return false
		}
		for _, v := range c.Values {
			if strings.EqualFold(strings.TrimPrefix(v, "."), ext) {
				return true
			}
		}
		return false
	case CondContentTypeIn:
		info, ok := registry.Lookup(msg.File.Extension())
		if !ok {
			return false
		}
		for _, v := range c.Values {
			if strings.EqualFold(v, info.ContentType) {
				return true
			}
		}
		return false
	case CondMimePrefix:
		return msg.File != nil && strings.HasPrefix(strings.ToLower(msg.File.MimeType), strings.ToLower(c.Prefix))
	case CondAnd:
		for _, child := range c.Children {
			if !child.Match(msg, registry) {
				return false
			}
		}
		return true
	case CondOr:
		for _, child := range c.Children {
			if child.Match(msg, registry) {
				return true
			}
		}
		return false
	}
	return false
}

// ParseConditions decodes and validates a JSON-encoded condition list as
// stored in the classification_rules table.
func ParseConditions(raw string) ([]Condition, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}

	var conditions []Condition
	if err := json.Unmarshal([]byte(raw), &conditions); err != nil {
		return nil, &content.ValidationError{Field: "conditions", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}

	for _, c := range conditions {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	return conditions, nil
}

// EncodeConditions serializes a condition list for storage.
func EncodeConditions(conditions []Condition) (string, error) {
	if len(conditions) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(conditions)
	if err != nil {
		return "", fmt.Errorf("failed to encode conditions: %w", err)
	}
	return string(data), nil
}
