package wsbridge

import (
	"context"
	"log/slog"

	"github.com/adityalohuni/uidsnap/internal/protocol"
)

// debugCommand logs outgoing commands without their payloads, which can
// carry whole page scripts.
func debugCommand(logger *slog.Logger, session string, cmd protocol.Command) {
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	logger.Debug("wsbridge: send", "session", session, "id", cmd.ID, "type", cmd.Type, "payload_bytes", len(cmd.Payload))
}
