package testutils

import (
	"context"

	"github.com/papercomputeco/ctxstore/pkg/chatctx"
	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/turn"
	"github.com/papercomputeco/ctxstore/pkg/value"
)

// NewTestLabel creates a label in the "test" flow.
func NewTestLabel(node string) turn.Label {
	return turn.NewLabel("test", node)
}

// NewTestMessage creates a simple message for testing with the given text
// and one annotation, so round trips exercise the value bag.
func NewTestMessage(text string) turn.Message {
	m := turn.NewMessage(text)
	m.Annotations = value.Bag{"source": value.String("test")}
	return m
}

// SeedConversation stores context id in driver with one completed turn per
// text and misc channel=test.
func SeedConversation(ctx context.Context, driver storage.Driver, id string, texts ...string) error {
	manager, err := chatctx.NewManager(chatctx.ManagerConfig{Driver: driver})
	if err != nil {
		return err
	}

	return manager.Do(ctx, id, func(_ context.Context, c *chatctx.Context) error {
		c.Misc()["channel"] = value.String("test")
		for _, text := range texts {
			if err := c.AddTurn(NewTestLabel(text), NewTestMessage(text)); err != nil {
				return err
			}
			if err := c.AddResponse(NewTestMessage("re: " + text)); err != nil {
				return err
			}
		}
		return nil
	})
}
