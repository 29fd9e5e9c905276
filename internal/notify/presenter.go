package notify

import (
	"context"
	"encoding/base64"
	"strings"
)

// Sender is the outbound chat transport (irisfast.Egress satisfies it).
type Sender interface {
	SendText(ctx context.Context, room, message string) error
	SendImage(ctx context.Context, room, imageBase64 string) error
}

// Presenter delivers text and PNG images to a room without knowing about jobs.
type Presenter struct {
	out Sender
}

func NewPresenter(out Sender) *Presenter { return &Presenter{out: out} }

func (p *Presenter) Text(ctx context.Context, room, message string) error {
	if p == nil || p.out == nil || strings.TrimSpace(message) == "" {
		return nil
	}
	return p.out.SendText(ctx, room, message)
}

// Image base64-encodes png and sends it.
func (p *Presenter) Image(ctx context.Context, room string, png []byte) error {
	if p == nil || p.out == nil || len(png) == 0 {
		return nil
	}
	return p.out.SendImage(ctx, room, base64.StdEncoding.EncodeToString(png))
}
