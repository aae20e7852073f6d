package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"readstate_backend/internal/logger"
	"readstate_backend/internal/models/chat"
	"readstate_backend/internal/services/delivery"
)

// MessageReader - часть *kafka.Reader, которую использует воркер
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type MessageEventHandler interface {
	HandleMessageSent(ctx context.Context, ev chat.MessageEvent) (*delivery.Report, error)
}

// MessageEventWorker читает события "сообщение отправлено" из kafka
// и прогоняет их через пайплайн доставки. Offset коммитится после
// обработки, в том числе для битых и неудачных сообщений: повтор того же
// message_id все равно отсекается guard'ом.
type MessageEventWorker struct {
	reader  MessageReader
	handler MessageEventHandler
	backoff time.Duration
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka")
		}),
	})
}

func NewMessageEventWorker(reader MessageReader, handler MessageEventHandler) *MessageEventWorker {
	return &MessageEventWorker{
		reader:  reader,
		handler: handler,
		backoff: time.Second,
	}
}

// Start запускает чтение в отдельной горутине
func (w *MessageEventWorker) Start(ctx context.Context) {
	go w.Run(ctx)
}

// Run блокируется до отмены ctx
func (w *MessageEventWorker) Run(ctx context.Context) {
	logger.Info("message event worker started")
	defer func() {
		if err := w.reader.Close(); err != nil {
			logger.WorkerLog("message_events", "close", err)
		}
		logger.Info("message event worker stopped")
	}()

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logger.WorkerLog("message_events", "fetch", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
			continue
		}

		w.handle(ctx, msg)

		if err := w.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.WorkerLog("message_events", "commit", err)
		}
	}
}

func (w *MessageEventWorker) handle(ctx context.Context, msg kafka.Message) {
	var ev chat.MessageEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		logger.Warn("malformed message event skipped",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return
	}

	ctx = logger.WithChatID(ctx, ev.ChatID)
	report, err := w.handler.HandleMessageSent(ctx, ev)
	if err != nil {
		logger.CtxWithError(ctx, "message event failed", err, "message_id", ev.MessageID, "offset", msg.Offset)
		return
	}
	logger.CtxDebug(ctx, "message event handled",
		"message_id", ev.MessageID,
		"duplicate", report.Duplicate,
		"recipients", len(report.Recipients),
		"delivered", report.SuccessCount,
	)
}
