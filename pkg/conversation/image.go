package conversation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// MaxImageSize is the largest accepted upload (10 MiB).
const MaxImageSize = 10 * 1024 * 1024

// Sentinel errors for image attachment.
var (
	ErrEmptyImage    = errors.New("conversation: image is empty")
	ErrImageTooLarge = errors.New("conversation: image exceeds size limit")
	ErrNotAnImage    = errors.New("conversation: attachment is not an image")
)

// Image is a pending image attachment sent with generation requests.
type Image struct {
	Data     []byte
	MIMEType string
}

// NewImage validates data and returns an attachment.
// An empty mimeType is sniffed from the content. limit <= 0 means MaxImageSize.
func NewImage(data []byte, mimeType string, limit int64) (*Image, error) {
	if limit <= 0 {
		limit = MaxImageSize
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrImageTooLarge, len(data), limit)
	}

	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrNotAnImage, mimeType)
	}

	return &Image{Data: data, MIMEType: mimeType}, nil
}

// Base64 returns the image bytes in standard base64.
func (i *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// Size returns the payload size in bytes.
func (i *Image) Size() int {
	return len(i.Data)
}
