// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package status

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Response is the server state carried by a status response, as described at
// https://wiki.vg/Server_List_Ping#Status_Response.
type Response struct {
	Version Version `json:"version"`
	Players Players `json:"players"`

	// Description is the message of the day shown in the server list.
	Description ChatObject `json:"description"`

	// Favicon is a data URI holding a 64x64 PNG, if the server has one.
	Favicon string `json:"favicon,omitempty"`

	// PreviewsChat and EnforcesSecureChat are only sent by some server versions.
	PreviewsChat       *bool `json:"previewsChat,omitempty"`
	EnforcesSecureChat *bool `json:"enforcesSecureChat,omitempty"`
}

// Version describes the game version the server runs.
type Version struct {
	// Name is the human readable version, e.g. "1.20.1". Proxies often put arbitrary text here.
	Name string `json:"name"`

	// Protocol is the protocol version number, see https://wiki.vg/Protocol_version_numbers.
	Protocol int `json:"protocol"`
}

// Players holds player counts along with a sample of the players online.
type Players struct {
	Max    int      `json:"max"`
	Online int      `json:"online"`
	Sample []Sample `json:"sample,omitempty"`
}

// Sample is one entry of [Players.Sample].
type Sample struct {
	Name string    `json:"name"`
	ID   uuid.UUID `json:"id"`
}

// ChatObject is a chat component, the structured text format used for the message of the day. See
// https://wiki.vg/Text_formatting.
//
// On the wire a component may also be a bare string, which decodes into Text, or an array, which
// decodes into Extra with every element as a sibling.
type ChatObject struct {
	Text      string `json:"text,omitempty"`
	Translate string `json:"translate,omitempty"`
	Keybind   string `json:"keybind,omitempty"`

	Bold          *bool `json:"bold,omitempty"`
	Italic        *bool `json:"italic,omitempty"`
	Underlined    *bool `json:"underlined,omitempty"`
	Strikethrough *bool `json:"strikethrough,omitempty"`
	Obfuscated    *bool `json:"obfuscated,omitempty"`

	Font      string `json:"font,omitempty"`
	Color     string `json:"color,omitempty"`
	Insertion string `json:"insertion,omitempty"`

	ClickEvent *ClickEvent `json:"clickEvent,omitempty"`
	HoverEvent *HoverEvent `json:"hoverEvent,omitempty"`

	Extra []ChatObject `json:"extra,omitempty"`
}

// ClickEvent is the action taken when a component is clicked.
type ClickEvent struct {
	Action string `json:"action"`
	Value  string `json:"value"`
}

// HoverEvent is the tooltip shown when a component is hovered over. Servers before 1.16 send
// Value; later servers send Contents, whose shape depends on Action.
type HoverEvent struct {
	Action   string          `json:"action"`
	Contents json.RawMessage `json:"contents,omitempty"`
	Value    *ChatObject     `json:"value,omitempty"`
}

// UnmarshalJSON decodes a component given as a string, an object or an array.
func (c *ChatObject) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}

	switch b[0] {
	case '"':
		*c = ChatObject{}
		return json.Unmarshal(b, &c.Text)
	case '[':
		var extra []ChatObject
		if err := json.Unmarshal(b, &extra); err != nil {
			return err
		}
		*c = ChatObject{Extra: extra}
		return nil
	case '{':
		type component ChatObject
		var v component
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*c = ChatObject(v)
		return nil
	case 'n':
		// null leaves the component untouched, as it does for any other type.
		return nil
	default:
		// Numbers and booleans render as their literal text.
		*c = ChatObject{Text: string(b)}
		return nil
	}
}

// String returns the plain text of the component and its siblings. Legacy formatting codes (the
// section sign followed by a code character) are left in place.
func (c ChatObject) String() string {
	var sb strings.Builder
	c.writeText(&sb)
	return sb.String()
}

func (c ChatObject) writeText(sb *strings.Builder) {
	switch {
	case c.Text != "":
		sb.WriteString(c.Text)
	case c.Translate != "":
		sb.WriteString(c.Translate)
	case c.Keybind != "":
		sb.WriteString(c.Keybind)
	}
	for _, e := range c.Extra {
		e.writeText(sb)
	}
}
