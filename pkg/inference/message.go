package inference

import "encoding/base64"

// Role defines message roles in a conversation.
type Role string

const (
	// RoleSystem is for system instructions.
	RoleSystem Role = "system"

	// RoleUser is for user messages.
	RoleUser Role = "user"

	// RoleAssistant is for assistant responses.
	RoleAssistant Role = "assistant"
)

// DefaultImageMIME is assumed for image parts that do not declare a type.
const DefaultImageMIME = "image/jpeg"

// Message represents a chat message in a conversation.
type Message struct {
	// Role identifies the message sender.
	Role Role

	// Content is the text content of the message.
	Content string

	// Images are sent alongside the text to vision-capable models.
	Images []ImagePart
}

// ImagePart is an encoded image (JPEG, PNG, ...) attached to a message.
type ImagePart struct {
	Data     []byte
	MIMEType string
}

// MIME returns the declared type or DefaultImageMIME.
func (p ImagePart) MIME() string {
	if p.MIMEType == "" {
		return DefaultImageMIME
	}
	return p.MIMEType
}

// Base64 encodes the image bytes with standard padding.
func (p ImagePart) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// DataURL returns the image as a data: URL.
func (p ImagePart) DataURL() string {
	return "data:" + p.MIME() + ";base64," + p.Base64()
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewVisionMessage creates a user message with images.
func NewVisionMessage(prompt string, images ...ImagePart) Message {
	return Message{Role: RoleUser, Content: prompt, Images: images}
}
