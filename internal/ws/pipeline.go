package ws

import "strings"

type payloadKind int

const (
	payloadText payloadKind = iota
	payloadImage
	payloadAudio
)

// payload is the tagged variant a message frame resolves to. The decision is
// made once at the boundary; everything downstream switches on kind.
type payload struct {
	kind payloadKind

	text string

	data        []byte
	contentType string
	caption     string
}

// classifyPayload validates a message frame and picks its variant.
// message-create carries text or an inline image; message-audio carries a
// voice recording. A frame with nothing usable is rejected before any store
// or blob work happens.
func classifyPayload(frame *IncomingFrame) (*payload, bool) {
	switch frame.Type {
	case EventMessageCreate:
		if frame.Image != nil {
			if len(frame.Image.Data) == 0 || frame.Image.ContentType == "" {
				return nil, false
			}
			return &payload{
				kind:        payloadImage,
				data:        frame.Image.Data,
				contentType: frame.Image.ContentType,
				caption:     strings.TrimSpace(frame.Image.Caption),
			}, true
		}
		text := strings.TrimSpace(frame.Text)
		if text == "" {
			return nil, false
		}
		return &payload{kind: payloadText, text: text}, true
	case EventMessageAudio:
		if frame.Audio == nil || len(frame.Audio.Data) == 0 || frame.Audio.ContentType == "" {
			return nil, false
		}
		return &payload{
			kind:        payloadAudio,
			data:        frame.Audio.Data,
			contentType: frame.Audio.ContentType,
		}, true
	}
	return nil, false
}
