package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/foundry/contentsync/internal/core/models"
	"github.com/foundry/contentsync/internal/core/services"
)

// Verify handles POST /api/v1/verify
//
// Every blob on disk is re-hashed and compared with its name. Blobs whose
// content no longer matches are reported as corrupt.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	blobs, err := h.blobs.ListBlobs()
	if err != nil {
		h.logger.Error().Err(err).Msg("listing blobs")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	result, err := h.verifyBlobs(r.Context(), blobs)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.Error().Err(err).Msg("verifying blobs")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info().
		Int("checked", result.Checked).
		Int("corrupt", len(result.Corrupt)).
		Msg("blob verification completed")

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) verifyBlobs(ctx context.Context, blobs []string) (models.VerifyResult, error) {
	var (
		mu      sync.Mutex
		checked int
		corrupt = []string{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.verifyWorkers)
	for _, hash := range blobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := h.blobs.Verify(gctx, hash)
			switch {
			case errors.Is(err, services.ErrNotFound):
				// Removed by gc while we were running.
				return nil
			case errors.Is(err, services.ErrHashMismatch):
				h.logger.Warn().Str("content_hash", hash).Msg("corrupt blob")
				mu.Lock()
				checked++
				corrupt = append(corrupt, hash)
				mu.Unlock()
				return nil
			case err != nil:
				return err
			}
			mu.Lock()
			checked++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.VerifyResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.VerifyResult{}, err
	}

	sort.Strings(corrupt)
	return models.VerifyResult{Checked: checked, Corrupt: corrupt}, nil
}
