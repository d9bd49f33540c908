package aiclients

import (
	"encoding/base64"
	"strings"
)

// PartKind tags the variant held by a Part.
type PartKind string

const (
	PartText      PartKind = "text"
	PartImage     PartKind = "image_url"
	PartVideoClip PartKind = "video_url"
)

// Part is a tagged union mirroring the OpenAI-compatible multimodal content
// array: a message's "content" is a list of these, one variant active per
// element depending on Kind.
type Part struct {
	Kind PartKind

	Text string

	ImageB64    string
	ImageMIME   string
	ImageDetail string // "low" | "auto" | "high"

	VideoB64  string
	VideoMIME string
}

func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

func ImagePart(jpegBytes []byte, mime, detail string) Part {
	return Part{Kind: PartImage, ImageB64: base64.StdEncoding.EncodeToString(jpegBytes), ImageMIME: mime, ImageDetail: detail}
}

func ImagePartB64(b64, mime, detail string) Part {
	return Part{Kind: PartImage, ImageB64: b64, ImageMIME: mime, ImageDetail: detail}
}

// ReferenceImagePart builds the image Part for a policy's reference image,
// detecting PNG from the base64-encoded prefix "iVBO" (base64 of PNG's
// \x89PNG signature) and falling back to JPEG otherwise, same as the
// reference implementation's mime sniff for reference images.
func ReferenceImagePart(imageBytes []byte, detail string) Part {
	b64 := base64.StdEncoding.EncodeToString(imageBytes)
	mime := "image/jpeg"
	if strings.HasPrefix(b64, "iVBO") {
		mime = "image/png"
	}
	return ImagePartB64(b64, mime, detail)
}

func VideoClipPart(mp4Bytes []byte, mime string) Part {
	return Part{Kind: PartVideoClip, VideoB64: base64.StdEncoding.EncodeToString(mp4Bytes), VideoMIME: mime}
}

// chatContent renders a Part slice into the OpenAI chat-completions content
// array shape.
func chatContent(parts []Part) []map[string]any {
	out := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case PartText:
			out = append(out, map[string]any{"type": "text", "text": p.Text})
		case PartImage:
			detail := p.ImageDetail
			if detail == "" {
				detail = "auto"
			}
			out = append(out, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url":    "data:" + p.ImageMIME + ";base64," + p.ImageB64,
					"detail": detail,
				},
			})
		case PartVideoClip:
			out = append(out, map[string]any{
				"type": "video_url",
				"video_url": map[string]any{
					"url": "data:" + p.VideoMIME + ";base64," + p.VideoB64,
				},
			})
		}
	}
	return out
}

// ChatMessage is one entry of a chat-completions "messages" array.
type ChatMessage struct {
	Role    string
	Content []Part
}

func (m ChatMessage) render() map[string]any {
	if len(m.Content) == 1 && m.Content[0].Kind == PartText {
		return map[string]any{"role": m.Role, "content": m.Content[0].Text}
	}
	return map[string]any{"role": m.Role, "content": chatContent(m.Content)}
}

// renderMessages converts a slice of ChatMessage into the JSON-ready body
// shape expected by every client in this package.
func renderMessages(msgs []ChatMessage) []map[string]any {
	out := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		out[i] = m.render()
	}
	return out
}
