package widget

import (
	"net/http"
	"time"

	"github.com/npezzotti/kite-relay/internal/types"
)

type BaseFrame struct {
	Id        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientFrame is a frame sent by the widget. Exactly one field besides
// the base is set.
type ClientFrame struct {
	BaseFrame
	Join    *Join     `json:"join,omitempty"`
	Text    *Text     `json:"text,omitempty"`
	Binary  *Binary   `json:"binary,omitempty"`
	Delete  *Delete   `json:"delete,omitempty"`
	Command *Command  `json:"command,omitempty"`
	Ping    *struct{} `json:"ping,omitempty"`
}

type Join struct {
	Channel  string `json:"channel"`
	UserName string `json:"user_name"`
	// Token is a member token issued on a previous join; it lets the
	// visitor rejoin under the same member id.
	Token string `json:"token,omitempty"`
}

type Text struct {
	MessageId string `json:"message_id,omitempty"`
	Text      string `json:"text"`
	Edited    bool   `json:"edited,omitempty"`
}

type Binary struct {
	Text
	URI      string `json:"uri"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

type Delete struct {
	MessageId string `json:"message_id"`
}

type Command struct {
	Line string `json:"line"`
}

type ServerFrame struct {
	BaseFrame
	Response     *Response     `json:"response,omitempty"`
	Message      *Message      `json:"message,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	Ack          *Ack          `json:"ack,omitempty"`
	Delete       *Delete       `json:"delete,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type Message struct {
	MessageId string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Edited    bool      `json:"edited,omitempty"`
	URI       string    `json:"uri,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	FileType  string    `json:"file_type,omitempty"`
	FileSize  int64     `json:"file_size,omitempty"`
}

type Notification struct {
	Text     string         `json:"text"`
	Severity types.Severity `json:"severity"`
}

type Ack struct {
	MessageId         string    `json:"message_id"`
	OverrideMessageId string    `json:"override_message_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

func NoErrOK(id string, data map[string]any) *ServerFrame {
	return &ServerFrame{
		BaseFrame: BaseFrame{
			Id:        id,
			Timestamp: types.Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrResponse(id string, err error) *ServerFrame {
	p := types.ErrorPayload(err)
	return &ServerFrame{
		BaseFrame: BaseFrame{
			Id:        id,
			Timestamp: types.Now(),
		},
		Response: &Response{
			ResponseCode: p.Code,
			Error:        p.Reason,
		},
	}
}

func ErrInvalidFrame(id string) *ServerFrame {
	return &ServerFrame{
		BaseFrame: BaseFrame{
			Id:        id,
			Timestamp: types.Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid frame format",
		},
	}
}

func ErrNotJoined(id string) *ServerFrame {
	return &ServerFrame{
		BaseFrame: BaseFrame{
			Id:        id,
			Timestamp: types.Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusConflict,
			Error:        "You need to /join <channel>",
		},
	}
}

// toFrame renders a payload delivered to the widget. It reports false for
// payloads the widget cannot display.
func toFrame(payload types.Payload) (*ServerFrame, bool) {
	f := &ServerFrame{BaseFrame: BaseFrame{Timestamp: types.Now()}}
	switch p := payload.(type) {
	case types.SendText:
		f.Message = &Message{
			MessageId: p.Id,
			Timestamp: p.Timestamp,
			Text:      p.Text,
			Edited:    p.Mode == types.ModeEdited,
		}
	case types.SendBinary:
		f.Message = &Message{
			MessageId: p.Id,
			Timestamp: p.Timestamp,
			Text:      p.Text,
			Edited:    p.Mode == types.ModeEdited,
			URI:       p.URI,
			FileName:  p.FileName,
			FileType:  p.FileType,
			FileSize:  p.FileSize,
		}
	case types.DeleteMessage:
		f.Delete = &Delete{MessageId: p.Id}
	case types.Notification:
		f.Notification = &Notification{Text: p.Text, Severity: p.Severity}
	case types.Error:
		f.Response = &Response{ResponseCode: p.Code, Error: p.Reason}
	case types.Ack:
		f.Ack = &Ack{MessageId: p.MessageId, OverrideMessageId: p.OverrideMessageId, Timestamp: p.Timestamp}
	default:
		return nil, false
	}
	return f, true
}

func mode(edited bool) types.Mode {
	if edited {
		return types.ModeEdited
	}
	return types.ModeNew
}
