package types

import (
	"fmt"
	"time"
)

// Payload is anything a RoutingProvider can deliver or return. The set of
// implementations is closed: message payloads, Ack, Notification and Error.
type Payload interface {
	isPayload()
}

// MessagePayload is a payload that carries a message identity.
type MessagePayload interface {
	Payload
	Meta() MessageMeta
}

type MessageMeta struct {
	Id        string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (m MessageMeta) Meta() MessageMeta { return m }

type Mode string

const (
	ModeNew    Mode = "NEW"
	ModeEdited Mode = "EDITED"
)

type SendText struct {
	MessageMeta
	Text string `json:"text"`
	Mode Mode   `json:"mode"`
}

func NewText(id, text string, ts time.Time) SendText {
	return SendText{MessageMeta: MessageMeta{Id: id, Timestamp: ts}, Text: text, Mode: ModeNew}
}

func (p SendText) WithText(text string) SendText {
	p.Text = text
	return p
}

type SendBinary struct {
	SendText
	URI      string `json:"uri"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

func (p SendBinary) WithText(text string) SendBinary {
	p.Text = text
	return p
}

type DeleteMessage struct {
	MessageMeta
}

func NewDeleteMessage(id string, ts time.Time) DeleteMessage {
	return DeleteMessage{MessageMeta: MessageMeta{Id: id, Timestamp: ts}}
}

// Ack is returned by a provider for a delivered message. MessageId is the
// id of the message that was sent, OverrideMessageId the id the destination
// provider assigned to its copy.
type Ack struct {
	OverrideMessageId string    `json:"override_message_id"`
	MessageId         string    `json:"message_id"`
	Timestamp         time.Time `json:"timestamp"`
}

type Severity string

const (
	SeverityErr  Severity = "ERR"
	SeverityWarn Severity = "WARN"
	SeverityOK   Severity = "OK"
	SeverityNone Severity = "NONE"
)

func (s Severity) Label() string {
	switch s {
	case SeverityErr:
		return "⛔ "
	case SeverityWarn:
		return "⚠️ "
	case SeverityOK:
		return "✅ "
	default:
		return ""
	}
}

type Notification struct {
	Text     string   `json:"text"`
	Severity Severity `json:"severity"`
}

func Info(format string, args ...any) Notification {
	return Notification{Text: fmt.Sprintf(format, args...), Severity: SeverityOK}
}

func Warn(format string, args ...any) Notification {
	return Notification{Text: fmt.Sprintf(format, args...), Severity: SeverityWarn}
}

func Plain(text string) Notification {
	return Notification{Text: text, Severity: SeverityNone}
}

func (n Notification) String() string {
	return n.Severity.Label() + n.Text
}

type Error struct {
	Reason string `json:"reason"`
	Code   int    `json:"code"`
}

func (e Error) String() string {
	return fmt.Sprintf("%s(%d) %s", SeverityErr.Label(), e.Code, e.Reason)
}

// ErrorPayload renders any error as a user-visible Error payload.
func ErrorPayload(err error) Error {
	if ke, ok := AsKiteError(err); ok {
		return Error{Reason: ke.Message, Code: ke.Kind.Code()}
	}
	return Error{Reason: err.Error(), Code: KindKite.Code()}
}

func (SendText) isPayload()      {}
func (SendBinary) isPayload()    {}
func (DeleteMessage) isPayload() {}
func (Ack) isPayload()           {}
func (Notification) isPayload()  {}
func (Error) isPayload()         {}

// IsNew reports whether p is a text or binary payload in NEW mode.
func IsNew(p Payload) bool {
	switch v := p.(type) {
	case SendText:
		return v.Mode != ModeEdited
	case SendBinary:
		return v.Mode != ModeEdited
	}
	return false
}

// IsEdited reports whether p is a text or binary payload in EDITED mode.
func IsEdited(p Payload) bool {
	switch v := p.(type) {
	case SendText:
		return v.Mode == ModeEdited
	case SendBinary:
		return v.Mode == ModeEdited
	}
	return false
}

// WithMessageId returns a copy of p identified by id.
func WithMessageId(p MessagePayload, id string) MessagePayload {
	switch v := p.(type) {
	case SendText:
		v.Id = id
		return v
	case SendBinary:
		v.Id = id
		return v
	case DeleteMessage:
		v.Id = id
		return v
	}
	return p
}
