//go:generate mockgen -destination=mock_contract_test.go -package=${GOPACKAGE} -source=contract.go
package chat

import (
	"context"
	"iter"

	"github.com/ashureev/companion/internal/convlog"
	"github.com/ashureev/companion/internal/domain"
	"github.com/ashureev/companion/internal/stream"
	"github.com/ashureev/companion/internal/transport"
)

type Transport interface {
	Send(ctx context.Context, req transport.Request) iter.Seq2[stream.Event, error]
}

type HistoryLoader interface {
	Load(ctx context.Context, sessionID string) ([]domain.Message, error)
}

type Recorder interface {
	Save(ctx context.Context, msg domain.Message) error
}

type MediaPipeline interface {
	Send(ctx context.Context, sessionID, localURI string) (domain.Message, error)
	Retry(ctx context.Context, sessionID, messageID string) (domain.Message, error)
}

type ConversationLogger interface {
	Log(event convlog.Event)
}
