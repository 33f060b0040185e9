package service

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/consolidation"
	"github.com/chirino/spacechat/internal/conversation"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/google/uuid"
)

// TaskProcessor polls for ready tasks and executes them. merge_chat tasks
// fold a chat that lost its link into the chat that kept it.
type TaskProcessor struct {
	store      registrystore.SpaceStore
	runner     *consolidation.Runner
	interval   time.Duration
	retryDelay time.Duration
	batchSize  int
}

// NewTaskProcessor creates a new background task processor.
func NewTaskProcessor(store registrystore.SpaceStore, runner *consolidation.Runner, interval time.Duration) *TaskProcessor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TaskProcessor{
		store:      store,
		runner:     runner,
		interval:   interval,
		retryDelay: 10 * time.Minute,
		batchSize:  100,
	}
}

// Start begins the periodic task processing loop. Returns when ctx is cancelled.
func (p *TaskProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch claims and executes one batch of ready tasks.
func (p *TaskProcessor) ProcessBatch(ctx context.Context) {
	tasks, err := p.store.ClaimReadyTasks(ctx, p.batchSize)
	if err != nil {
		log.Error("TaskProcessor: claim tasks failed", "err", err)
		return
	}
	for _, task := range tasks {
		if err := p.executeTask(ctx, task.TaskType, task.TaskBody); err != nil {
			log.Error("TaskProcessor: task failed", "taskId", task.ID, "type", task.TaskType, "err", err)
			if fErr := p.store.FailTask(ctx, task.ID, err.Error(), p.retryDelay); fErr != nil {
				log.Error("TaskProcessor: fail task record failed", "taskId", task.ID, "err", fErr)
			}
		} else {
			if dErr := p.store.DeleteTask(ctx, task.ID); dErr != nil {
				log.Error("TaskProcessor: delete task failed", "taskId", task.ID, "err", dErr)
			}
		}
	}
}

func (p *TaskProcessor) executeTask(ctx context.Context, taskType string, body map[string]any) error {
	switch taskType {
	case conversation.TaskMergeChat:
		return p.executeMergeChat(ctx, body)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (p *TaskProcessor) executeMergeChat(ctx context.Context, body map[string]any) error {
	from, err := chatIDField(body, "fromChatId")
	if err != nil {
		return err
	}
	into, err := chatIDField(body, "intoChatId")
	if err != nil {
		return err
	}
	merged, err := p.runner.MergeOrphanChat(ctx, from, into)
	if err != nil {
		return err
	}
	if !merged {
		log.Debug("TaskProcessor: merge skipped", "fromChatId", from, "intoChatId", into)
	}
	return nil
}

func chatIDField(body map[string]any, key string) (uuid.UUID, error) {
	raw, ok := body[key].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("missing or invalid %s in task body", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return id, nil
}
