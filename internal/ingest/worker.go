package ingest

import (
	"context"

	"github.com/bytedance/sonic"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/chongs12/contextual-kb/pkg/logger"
	"github.com/chongs12/contextual-kb/pkg/rabbitmq"
)

// Worker 消费摄取队列，串行处理每篇文档。
// prefetch 固定为 1：扩写阶段逐块调用 LLM，并行消费只会互相抢限流额度。
type Worker struct {
	mq       *rabbitmq.Client
	pipeline *Pipeline
}

func NewWorker(mq *rabbitmq.Client, pipeline *Pipeline) *Worker {
	return &Worker{mq: mq, pipeline: pipeline}
}

// Run 阻塞消费直到 ctx 取消。处理失败的消息 nack 且不重回队列，
// 由死信队列接住等待人工排查。
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.mq.Consume(1)
	if err != nil {
		return err
	}
	logger.Info(ctx, "Ingest worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Ingest worker stopping")
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				logger.Warn(ctx, "Delivery channel closed")
				return nil
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var job IngestJob
	if err := sonic.Unmarshal(d.Body, &job); err != nil {
		logger.Error(ctx, "Malformed ingest job", "error", err.Error())
		_ = d.Nack(false, false) // 去死信队列
		return
	}

	logger.Info(ctx, "Processing ingest job", "document_id", job.DocumentID, "path", job.Path)
	if err := w.pipeline.ProcessDocument(ctx, job.DocumentID); err != nil {
		logger.Error(ctx, "Ingest job failed", "document_id", job.DocumentID, "error", err.Error())
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}
