package types

import (
	"encoding/json"

	"github.com/spf13/cast"
)

type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentJSON  ContentKind = "json"
	ContentEmpty ContentKind = "empty"
)

/**
 * Content is a response value resolved once into one of three kinds so
 * that renderers switch on Kind instead of inspecting the raw value.
 */
type Content struct {
	Kind  ContentKind
	Value any
}

/**
 * NewContent classifies raw:
 *   - nil, an empty string or an empty object is empty
 *   - a string, or an object carrying a string "text" field, is text
 *   - any other value is json
 */
func NewContent(raw any) Content {
	switch v := raw.(type) {
	case nil:
		return Content{Kind: ContentEmpty}
	case string:
		if v == "" {
			return Content{Kind: ContentEmpty}
		}
		return Content{Kind: ContentText, Value: v}
	}

	if m, ok := ToData(raw); ok {
		if len(m) == 0 {
			return Content{Kind: ContentEmpty}
		}
		if text, exists := m["text"]; exists {
			if s, isString := text.(string); isString {
				return Content{Kind: ContentText, Value: s}
			}
		}
	}
	return Content{Kind: ContentJSON, Value: raw}
}

func (c Content) String() string {
	switch c.Kind {
	case ContentText:
		return cast.ToString(c.Value)
	case ContentJSON:
		b, err := json.MarshalIndent(c.Value, "", "  ")
		if err != nil {
			return cast.ToString(c.Value)
		}
		return string(b)
	}
	return ""
}

func (c Content) IsEmpty() bool {
	return c.Kind == ContentEmpty
}
