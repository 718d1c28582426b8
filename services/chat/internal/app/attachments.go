package app

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"streamchat/internal/util"
	"streamchat/pkg/domain"
)

// MaxAttachmentBytes caps a single upload.
const MaxAttachmentBytes int64 = 10 << 20

const (
	attachmentPrefix    = "uploads/"
	attachmentURLExpiry = 24 * time.Hour
	maxSlugLength       = 50
)

var allowedAttachmentExt = map[string]struct{}{
	"pdf": {}, "doc": {}, "docx": {}, "txt": {},
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {},
	"mp4": {}, "avi": {}, "mov": {},
}

// UploadAttachment stores a file for later reference from a chat message.
func (a *App) UploadAttachment(ctx context.Context, user domain.User, filename string, size int64, contentType string, r io.Reader) (domain.Attachment, error) {
	if a.objects == nil {
		return domain.Attachment{}, ErrStorageDisabled
	}
	if strings.TrimSpace(user.ID) == "" {
		return domain.Attachment{}, fmt.Errorf("user id required")
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if _, ok := allowedAttachmentExt[ext]; !ok {
		return domain.Attachment{}, invalid("file", "type is not allowed")
	}
	if size <= 0 {
		return domain.Attachment{}, invalid("file", "is empty")
	}
	if size > MaxAttachmentBytes {
		return domain.Attachment{}, invalid("file", fmt.Sprintf("must be at most %d bytes", MaxAttachmentBytes))
	}
	if contentType == "" || contentType == "application/octet-stream" {
		if guessed := mime.TypeByExtension("." + ext); guessed != "" {
			contentType = guessed
		}
	}
	stored := util.NewID() + "_" + slugify(strings.TrimSuffix(filename, filepath.Ext(filename))) + "." + ext
	key := attachmentPrefix + stored
	if err := a.objects.Put(ctx, key, io.LimitReader(r, size), size, contentType); err != nil {
		return domain.Attachment{}, fmt.Errorf("store attachment: %w", err)
	}
	url, err := a.objects.PresignGet(ctx, key, attachmentURLExpiry)
	if err != nil {
		// Nothing references the key yet, so drop the object rather than orphan it.
		if delErr := a.objects.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			util.LoggerFromContext(ctx).Warn("remove unreferenced attachment failed", "key", key, "err", delErr)
		}
		return domain.Attachment{}, fmt.Errorf("presign attachment: %w", err)
	}
	return domain.Attachment{
		Filename:       filename,
		StoredFilename: stored,
		Path:           key,
		URL:            url,
		Size:           size,
		Type:           contentType,
	}, nil
}

func slugify(name string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.Trim(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return "file"
	}
	return slug
}
