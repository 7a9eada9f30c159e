package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/qs3c/melody_go_server/internal/pkg/queue"
)

// Dispatcher 派发一个 pending 任务
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// TaskSource 阻塞读取队列消息，超时返回 nil
type TaskSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.TaskMessage, error)
}

// Processor 消费派发队列
type Processor struct {
	dispatcher Dispatcher
	logger     zerolog.Logger
	popTimeout time.Duration
	errorPause time.Duration
}

// NewProcessor 创建任务处理器
func NewProcessor(dispatcher Dispatcher, logger zerolog.Logger) *Processor {
	return &Processor{
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "processor").Logger(),
		popTimeout: 5 * time.Second,
		errorPause: time.Second,
	}
}

// Process 处理一条队列消息
func (p *Processor) Process(ctx context.Context, msg *queue.TaskMessage) error {
	switch msg.Kind {
	case queue.KindDispatch, "":
		if msg.JobID == "" {
			return fmt.Errorf("dispatch message without job id")
		}
		return p.dispatcher.Dispatch(ctx, msg.JobID)
	default:
		return fmt.Errorf("unknown task kind %q", msg.Kind)
	}
}

// Run 启动 workers 个消费协程，ctx 取消后全部退出
func (p *Processor) Run(ctx context.Context, source TaskSource, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		workerID := i
		g.Go(func() error {
			p.loop(ctx, source, workerID)
			return nil
		})
	}
	p.logger.Info().Int("workers", workers).Msg("dispatch workers started")
	return g.Wait()
}

func (p *Processor) loop(ctx context.Context, source TaskSource, workerID int) {
	log := p.logger.With().Int("worker", workerID).Logger()
	for {
		if ctx.Err() != nil {
			log.Debug().Msg("worker shutting down")
			return
		}

		msg, err := source.Pop(ctx, p.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("pop task failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.errorPause):
			}
			continue
		}
		if msg == nil {
			continue // 超时，继续等待
		}

		log.Info().Str("job_id", msg.JobID).Str("kind", msg.Kind).Msg("processing task")
		if err := p.Process(ctx, msg); err != nil {
			log.Error().Err(err).Str("job_id", msg.JobID).Msg("task failed")
		}
	}
}
