package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// HandlePublishPostTask runs a delayed publish task. Publish failures
// are recorded on the post itself, so the task is not retried here:
// returning the error would make asynq redeliver work the dispatcher
// already owns.
func (j *Queue) HandlePublishPostTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	if err := j.ps.PublishPost(ctx, payload.PostID); err != nil {
		slog.Info(fmt.Sprintf("publish of post %d: %v", payload.PostID, err))
	}

	return nil
}
