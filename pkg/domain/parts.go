package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ChunkType tags one unit of model output.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkThinking ChunkType = "thinking"
	ChunkMeta     ChunkType = "meta"
	// ChunkError marks a terminal failure record on the wire. It is never stored.
	ChunkError ChunkType = "error"
)

// PartTypes lists the chunk types a message can store, in wire order.
var PartTypes = []ChunkType{ChunkText, ChunkThinking, ChunkMeta}

// Storable reports whether chunks of this type are accumulated into Parts.
func (t ChunkType) Storable() bool {
	switch t {
	case ChunkText, ChunkThinking, ChunkMeta:
		return true
	}
	return false
}

// Parts holds the accumulated content of a message per chunk type.
// On the wire and in storage it is a JSON object keyed by chunk type with
// empty entries omitted.
type Parts struct {
	Text     string
	Thinking string
	Meta     string
}

// TextParts builds Parts carrying only text.
func TextParts(text string) Parts {
	return Parts{Text: text}
}

// Get returns the content stored for t.
func (p Parts) Get(t ChunkType) string {
	switch t {
	case ChunkText:
		return p.Text
	case ChunkThinking:
		return p.Thinking
	case ChunkMeta:
		return p.Meta
	}
	return ""
}

// Append adds s to the entry for t. It returns false for types that are not stored.
func (p *Parts) Append(t ChunkType, s string) bool {
	switch t {
	case ChunkText:
		p.Text += s
	case ChunkThinking:
		p.Thinking += s
	case ChunkMeta:
		p.Meta += s
	default:
		return false
	}
	return true
}

// IsEmpty reports whether every entry is empty.
func (p Parts) IsEmpty() bool {
	return p.Text == "" && p.Thinking == "" && p.Meta == ""
}

// Map returns the non-empty entries keyed by chunk type.
func (p Parts) Map() map[ChunkType]string {
	out := make(map[ChunkType]string, len(PartTypes))
	for _, t := range PartTypes {
		if v := p.Get(t); v != "" {
			out[t] = v
		}
	}
	return out
}

func (p Parts) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Map())
}

// UnmarshalJSON accepts the object form and the legacy plain string form,
// which is read as text. Unknown keys are ignored.
func (p *Parts) UnmarshalJSON(data []byte) error {
	*p = Parts{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("decode parts: %w", err)
		}
		p.Text = text
		return nil
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode parts: %w", err)
	}
	for key, value := range raw {
		p.Append(ChunkType(key), value)
	}
	return nil
}

// Attachments is an ordered list of opaque storage references.
type Attachments []string

func (a Attachments) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(a))
}

// UnmarshalJSON accepts a native array or a string holding an encoded array ("[]").
func (a *Attachments) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var flat string
		if err := json.Unmarshal(data, &flat); err != nil {
			return fmt.Errorf("decode attachments: %w", err)
		}
		parsed, err := ParseAttachments(flat)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode attachments: %w", err)
	}
	*a = Attachments(items)
	return nil
}

// String encodes the list in its flat stored form.
func (a Attachments) String() string {
	data, _ := a.MarshalJSON()
	return string(data)
}

// ParseAttachments decodes the flat stored form. Blank input means no attachments.
func ParseAttachments(raw string) (Attachments, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return Attachments{}, nil
	}
	var out Attachments
	if err := out.UnmarshalJSON([]byte(raw)); err != nil {
		return nil, err
	}
	if out == nil {
		out = Attachments{}
	}
	return out, nil
}
