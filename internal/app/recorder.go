package app

import (
	"context"
	"encoding/json"
	"fmt"

	"postbot/internal/pipeline"
	"postbot/internal/storage"
)

// storeRecorder keeps every finished run and its delivered messages so the
// run can be listed and retracted later.
type storeRecorder struct {
	store storage.Store
}

func (r storeRecorder) RecordRun(ctx context.Context, req pipeline.Request, res pipeline.Result) error {
	doc, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	run := storage.Run{
		ID:         res.RunID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Success:    res.Success,
		Error:      res.Error,
		SourceLink: req.Link,
		FinalURL:   res.FinalURL,
		Caption:    res.Caption,
		Result:     string(doc),
	}
	delivered := res.Posts()
	posts := make([]storage.Post, 0, len(delivered))
	for _, p := range delivered {
		posts = append(posts, storage.Post{
			RunID:     res.RunID,
			Channel:   p.Channel,
			MessageID: p.MessageID,
			PostedAt:  res.FinishedAt,
		})
	}
	return r.store.SaveRun(ctx, run, posts)
}
