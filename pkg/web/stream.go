package web

import (
	"bufio"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
)

const keepAliveInterval = 15 * time.Second

// EventStream serves the long-lived SSE push stream for a user. The first
// frame is a connection acknowledgement; periodic comment frames keep
// idle proxies from dropping the connection. Closing the connection
// deregisters the channel from the hub.
func (h *APIHandlers) EventStream(c fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id query parameter is required")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	hub := h.notify.Hub()

	return c.SendStreamWriter(func(w *bufio.Writer) {
		channel := hub.Register(userID)
		defer hub.Unregister(channel)

		fmt.Fprintf(w, "event: connected\ndata: {\"user_id\":%q}\n\n", userID)

		if err := w.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case payload, ok := <-channel.Events():
				if !ok {
					return
				}

				fmt.Fprintf(w, "event: notification\ndata: %s\n\n", payload)

				if err := w.Flush(); err != nil {
					return
				}
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")

				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
}
