package inbound

import (
	"strconv"
	"strings"
)

type Kind string

const (
	KindTextMessage  Kind = "TEXT_MESSAGE"
	KindMediaMessage Kind = "MEDIA_MESSAGE"
	KindCallback     Kind = "CALLBACK"
	KindIgnored      Kind = "IGNORED"
)

type AttachmentKind string

const (
	AttachmentPhoto    AttachmentKind = "photo"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentDocument AttachmentKind = "document"
	AttachmentAudio    AttachmentKind = "audio"
)

type Sender struct {
	ID           int64
	FirstName    string
	LastName     string
	Username     string
	LanguageCode string
}

// DisplayName joins first and last name the way profile drift is compared.
func (s Sender) DisplayName() string {
	parts := []string{strings.TrimSpace(s.FirstName), strings.TrimSpace(s.LastName)}
	fullName := strings.TrimSpace(strings.Join(parts, " "))
	if fullName != "" {
		return fullName
	}
	if strings.TrimSpace(s.Username) != "" {
		return strings.TrimSpace(s.Username)
	}
	return strconv.FormatInt(s.ID, 10)
}

type Attachment struct {
	Kind         AttachmentKind
	FileID       string
	FileUniqueID string
	FileName     string
	MimeType     string
	FileSize     int64
}

// Entity is a rich-text annotation over the message text, offsets in UTF-16 units.
type Entity struct {
	Type     string `json:"type"`
	Offset   int    `json:"offset"`
	Length   int    `json:"length"`
	URL      string `json:"url,omitempty"`
	Language string `json:"language,omitempty"`
}

type Event struct {
	Kind          Kind
	UpdateID      int64
	ChatID        int64
	MessageID     int64
	Sender        *Sender
	Text          string
	Entities      []Entity
	Attachments   []Attachment
	CallbackToken string
	CallbackID    string
	Reason        string
}

func (e Event) Ignored() bool {
	return e.Kind == KindIgnored
}

// Status is the acknowledgement text returned to the platform.
func (e Event) Status() string {
	if e.Kind != KindIgnored {
		return "success"
	}
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "unsupported update"
	}
	return "ignored - " + reason
}
