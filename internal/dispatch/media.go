package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dwizi/fixfox-bot/internal/agent"
	"github.com/dwizi/fixfox-bot/internal/inbound"
	"github.com/dwizi/fixfox-bot/internal/llm"
	"github.com/dwizi/fixfox-bot/internal/telegram"
)

// handleAttachments runs one file turn per attachment, in message order.
func (r *Router) handleAttachments(ctx context.Context, req Request, caption string) error {
	var errs []error
	for index, attachment := range req.Event.Attachments {
		if err := r.processAttachment(ctx, req, attachment, caption); err != nil {
			errs = append(errs, fmt.Errorf("attachment %d: %w", index, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) processAttachment(ctx context.Context, req Request, attachment inbound.Attachment, caption string) error {
	chatID := req.Conversation.ChatID
	extension := telegram.FileExtension(attachment.FileName)
	if extension == "" {
		extension = defaultExtension(attachment.Kind)
	}
	path := filepath.Join(r.downloadDir, fmt.Sprintf("%d-%s%s", chatID, uuid.NewString(), extension))
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("temporary file cleanup failed", "chat_id", chatID, "path", path, "error", err)
		}
	}()

	size, err := r.messenger.Download(ctx, attachment.FileID, path)
	if err != nil {
		r.logger.Warn("attachment download failed", "chat_id", chatID, "kind", attachment.Kind, "error", err)
		r.replyLocalized(ctx, req, fileApologyText)
		return fmt.Errorf("download %s: %w", attachment.Kind, err)
	}

	name := strings.TrimSpace(attachment.FileName)
	if name == "" {
		name = filepath.Base(path)
	}
	mimeType := strings.TrimSpace(attachment.MimeType)
	if mimeType == "" && attachment.Kind == inbound.AttachmentPhoto {
		mimeType = "image/jpeg"
	}
	return r.runTurn(ctx, req, agent.Turn{
		Text: caption,
		File: &llm.File{Path: path, Name: name, MimeType: mimeType, Size: size},
	}, fileApologyText)
}

func defaultExtension(kind inbound.AttachmentKind) string {
	switch kind {
	case inbound.AttachmentPhoto:
		return ".jpg"
	case inbound.AttachmentVideo:
		return ".mp4"
	case inbound.AttachmentAudio:
		return ".mp3"
	default:
		return ".bin"
	}
}
