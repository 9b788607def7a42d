package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"jeeproute/internal/store"
)

// streamRoots are the store parents a client may watch.
var streamRoots = map[string]string{
	"jeeps":     store.JeepsRoot,
	"jeep-info": store.InfoRoot,
}

// registerStream serves every change under a root as one JSON text frame,
// starting with the current children.
func registerStream(r fiber.Router, sink store.Sink, log *zap.Logger) {
	upgrade := func(c *fiber.Ctx) error {
		if _, ok := streamRoots[c.Params("root")]; !ok {
			return fiber.ErrNotFound
		}
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}

	r.Get("/:root", upgrade, websocket.New(func(c *websocket.Conn) {
		root := streamRoots[c.Params("root")]
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sub, err := sink.Subscribe(ctx, root)
		if err != nil {
			log.Warn("stream subscribe failed", zap.String("root", root), zap.Error(err))
			_ = c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
			return
		}
		defer sub.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for change := range sub.C {
				if err := c.WriteJSON(change); err != nil {
					cancel()
					return
				}
			}
		}()

		// the client sends nothing; reading only detects the close
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		cancel()
		<-done
	}))
}
