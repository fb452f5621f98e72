// Package transport defines the outbound chat delivery port.
//
// The watch engine and notifier only see Sender; the Telegram adapter in
// transport/telegram is the single implementation.
package transport

import (
	"context"
	"errors"
)

// ErrChatNotFound is returned by LocateChat when the platform does not know the target.
var ErrChatNotFound = errors.New("chat not found")

type ChatTarget struct {
	ChatID   int64
	ThreadID int // forum topic (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Parse modes understood by the Telegram adapter.
const (
	ParseModeHTML     = "HTML"
	ParseModeMarkdown = "MarkdownV2"
)

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Chat describes a located delivery target.
type Chat struct {
	ID    int64
	Title string
	Type  string
}

type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	LocateChat(ctx context.Context, to ChatTarget) (Chat, error)
}
