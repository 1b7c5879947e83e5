package classify

import (
	"testing"

	"github.com/lysyi3m/chan-comb/app/content"
)

func TestConditionValidateUnknownKind(t *testing.T) {
	c := Condition{Kind: "bogus"}
	err := c.Validate()
	if err == nil {
		t.Fatal("Expected error for unknown condition kind")
	}
	if !content.IsValidation(err) {
		t.Errorf("Expected a validation error, got %T", err)
	}
}

func TestConditionValidateRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		cond Condition
	}{
		{"min_size without size", Condition{Kind: CondMinSize}},
		{"extension_in without values", Condition{Kind: CondExtensionIn}},
		{"mime_prefix without prefix", Condition{Kind: CondMimePrefix}},
		{"and without children", Condition{Kind: CondAnd}},
	}

	for _, tc := range cases {
		if err := tc.cond.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestConditionMatchSizes(t *testing.T) {
	registry := NewRegistry()
	msg := fileMessage("file.bin", 1000, "")

	if !(Condition{Kind: CondMinSize, Size: 500}).Match(msg, registry) {
		t.Error("min_size 500 should match a 1000 byte file")
	}
	if (Condition{Kind: CondMinSize, Size: 2000}).Match(msg, registry) {
		t.Error("min_size 2000 should not match a 1000 byte file")
	}
	if !(Condition{Kind: CondMaxSize, Size: 1000}).Match(msg, registry) {
		t.Error("max_size 1000 should match a 1000 byte file")
	}

	noFile := content.Message{Text: "hi"}
	if (Condition{Kind: CondMinSize, Size: 1}).Match(noFile, registry) {
		t.Error("Size conditions should never match messages without a file")
	}
}

func TestConditionMatchExtensionAndContentType(t *testing.T) {
	registry := NewRegistry()
	msg := fileMessage("photo.JPG", 100, "image/jpeg")

	if !(Condition{Kind: CondExtensionIn, Values: []string{".jpg", "png"}}).Match(msg, registry) {
		t.Error("extension_in should match case-insensitively and ignore dots")
	}
	if !(Condition{Kind: CondContentTypeIn, Values: []string{"image"}}).Match(msg, registry) {
		t.Error("content_type_in should resolve jpg to image via the registry")
	}
	if (Condition{Kind: CondContentTypeIn, Values: []string{"video"}}).Match(msg, registry) {
		t.Error("content_type_in should not match a different content type")
	}
}

func TestConditionMatchNested(t *testing.T) {
	registry := NewRegistry()
	msg := fileMessage("track.mp3", 5000, "audio/mpeg")

	and := Condition{Kind: CondAnd, Children: []Condition{
		{Kind: CondMimePrefix, Prefix: "audio/"},
		{Kind: CondMinSize, Size: 1000},
	}}
	if !and.Match(msg, registry) {
		t.Error("and condition should match when all children match")
	}

	or := Condition{Kind: CondOr, Children: []Condition{
		{Kind: CondExtensionIn, Values: []string{"flac"}},
		{Kind: CondExtensionIn, Values: []string{"mp3"}},
	}}
	if !or.Match(msg, registry) {
		t.Error("or condition should match when any child matches")
	}
}

func TestParseConditionsRoundTrip(t *testing.T) {
	conditions := []Condition{
		{Kind: CondMinSize, Size: 1024},
		{Kind: CondExtensionIn, Values: []string{"pdf", "epub"}},
	}

	encoded, err := EncodeConditions(conditions)
	if err != nil {
		t.Fatalf("EncodeConditions failed: %v", err)
	}

	decoded, err := ParseConditions(encoded)
	if err != nil {
		t.Fatalf("ParseConditions failed: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("Expected 2 conditions, got %d", len(decoded))
	}
	if decoded[0].Kind != CondMinSize || decoded[0].Size != 1024 {
		t.Errorf("First condition mangled: %+v", decoded[0])
	}
}

func TestParseConditionsRejectsInvalid(t *testing.T) {
	if _, err := ParseConditions(`[{"kind":"bogus"}]`); err == nil {
		t.Error("Expected error for unknown kind in stored conditions")
	}
	if _, err := ParseConditions(`not json`); err == nil {
		t.Error("Expected error for malformed JSON")
	}

	empty, err := ParseConditions("")
	if err != nil || empty != nil {
		t.Errorf("Empty string should parse to nil, got %v / %v", empty, err)
	}
}
