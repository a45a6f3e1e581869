package channels

import (
	"context"

	"github.com/outpostlabs/conduit/pkg/models"
)

// Button is a single inline button: the label shown to the user and the
// opaque callback data returned when it is pressed.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// ButtonsRequest asks an adapter to send a message with one or more rows of
// inline buttons attached.
type ButtonsRequest struct {
	ChannelID string     `json:"channel_id"`
	Content   string     `json:"content"`
	Buttons   [][]Button `json:"buttons"`

	// ReplyToID threads the message under an existing one, when the channel
	// supports it. Empty sends a standalone message.
	ReplyToID string `json:"reply_to_id,omitempty"`
}

// ButtonsAdapter is a convenience interface for adapters that support
// attaching inline buttons to a message, mirroring ReplyableAdapter.
type ButtonsAdapter interface {
	// SendButtons sends req and returns the platform message id, so a later
	// callback-query inbound message can be correlated back to it.
	SendButtons(ctx context.Context, req *ButtonsRequest) (messageID string, err error)
}

// DownloadableAdapter is a convenience interface for adapters that can
// fetch an attachment's bytes by its platform-local file id, mirroring
// ButtonsAdapter.
type DownloadableAdapter interface {
	// DownloadFile fetches fileID's raw bytes from the channel's platform.
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// CallbackQueryMetadataKey is the models.Message.Metadata key an inbound
// adapter sets to the pressed button's CallbackData when it translates a
// platform button-press event into a Message.
const CallbackQueryMetadataKey = "callback_data"

// CallbackData returns msg's callback-query payload and whether it carries
// one at all. A message with no callback data is an ordinary text message.
func CallbackData(msg *models.Message) (string, bool) {
	if msg == nil || msg.Metadata == nil {
		return "", false
	}
	data, ok := msg.Metadata[CallbackQueryMetadataKey].(string)
	return data, ok && data != ""
}
