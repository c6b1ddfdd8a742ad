package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// ChatTarget addresses a chat either by numeric id ("-1001234") or by public
// username ("@channel"). Messaging APIs accept both forms as chat_id.
type ChatTarget struct {
	ChatID   string
	ThreadID int
}

type MessageRef struct {
	ChatID    string
	MessageID int
}

// Button is an inline URL button.
type Button struct {
	Text string
	URL  string
}

// Keyboard is an inline keyboard; each entry of Rows is one row of buttons.
type Keyboard struct {
	Rows [][]Button
}

func (k *Keyboard) Empty() bool { return k == nil || len(k.Rows) == 0 }

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Keyboard       *Keyboard
}

// Photo is either an embedded payload or a remote reference.
// Data wins when both are set.
type Photo struct {
	Data     []byte
	URL      string
	FileName string
}

func (p Photo) Empty() bool { return len(p.Data) == 0 && p.URL == "" }

// Messenger is the outbound side of a messaging platform.
type Messenger interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, photo Photo, caption string, opt *SendOptions) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) error
}

// Adapter is a Messenger that can also receive updates.
type Adapter interface {
	Messenger
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
