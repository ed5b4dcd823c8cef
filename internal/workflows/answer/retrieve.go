package answer

import (
	"context"
)

// RetrieveStep loads the top-K chunks for the query, restricted to the
// conversation's sources. Collaborator failure degrades to an empty chunk
// list so the run still reaches a terminal answer.
func RetrieveStep(deps Deps) func(ctx context.Context, s State) (Patch, error) {
	return func(ctx context.Context, s State) (Patch, error) {
		if deps.Search == nil || len(s.SourceIDs) == 0 {
			return chunksPatch{}, nil
		}
		chunks, err := deps.Search.Search(ctx, s.CurrentQuery, s.SourceIDs, TopKChunks)
		if err != nil {
			deps.Log.Warn("retrieval failed; continuing with no chunks", "error", err)
			return chunksPatch{}, nil
		}
		return chunksPatch{chunks: chunks}, nil
	}
}
