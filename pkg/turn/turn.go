// Package turn is the turn log data model: the label, request and response
// recorded for every turn of a conversation.
package turn

import (
	"errors"
	"fmt"
	"slices"

	"github.com/papercomputeco/ctxstore/pkg/value"
)

// Label addresses a node of the dialog graph by flow and node name.
type Label struct {
	Flow string `json:"flow_name"`
	Node string `json:"node_name"`
}

// NewLabel builds a Label.
func NewLabel(flow, node string) Label {
	return Label{Flow: flow, Node: node}
}

// Validate reports whether the label addresses a node.
func (l Label) Validate() error {
	if l.Flow == "" || l.Node == "" {
		return errors.New("label requires both flow and node names")
	}
	return nil
}

func (l Label) String() string {
	return fmt.Sprintf("%s:%s", l.Flow, l.Node)
}

// Attachment is a typed payload carried by a message (image, document,
// location, poll, ...). Data holds the type specific fields.
type Attachment struct {
	Type   string    `json:"type"`
	Source string    `json:"source"`
	Title  string    `json:"title"`
	Data   value.Bag `json:"data"`
}

// Equal reports structural equality.
func (a Attachment) Equal(o Attachment) bool {
	return a.Type == o.Type &&
		a.Source == o.Source &&
		a.Title == o.Title &&
		a.Data.Equal(o.Data)
}

// Clone returns a copy that shares no maps with a.
func (a Attachment) Clone() Attachment {
	a.Data = a.Data.Clone()
	return a
}

// Message is a request received from, or a response sent to, the user.
type Message struct {
	Text        string       `json:"text"`
	Commands    []string     `json:"commands"`
	Attachments []Attachment `json:"attachments"`
	Annotations value.Bag    `json:"annotations"`
	Misc        value.Bag    `json:"misc"`
}

// NewMessage builds a text message.
func NewMessage(text string) Message {
	return Message{Text: text}
}

// Equal reports structural equality. Nil and empty collections compare equal.
func (m Message) Equal(o Message) bool {
	return m.Text == o.Text &&
		slices.Equal(m.Commands, o.Commands) &&
		slices.EqualFunc(m.Attachments, o.Attachments, Attachment.Equal) &&
		m.Annotations.Equal(o.Annotations) &&
		m.Misc.Equal(o.Misc)
}

// Clone returns a deep copy of m, safe to hand to another goroutine while
// the original keeps being mutated.
func (m Message) Clone() Message {
	m.Commands = slices.Clone(m.Commands)
	if m.Attachments != nil {
		atts := make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			atts[i] = a.Clone()
		}
		m.Attachments = atts
	}
	m.Annotations = m.Annotations.Clone()
	m.Misc = m.Misc.Clone()
	return m
}

// Turn is one request/response exchange together with the label the dialog
// was at when the request was received. Response is nil while the turn is in
// progress.
type Turn struct {
	ID       int
	Label    *Label
	Request  *Message
	Response *Message
}
