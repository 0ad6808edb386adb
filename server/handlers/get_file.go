package handlers

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/config"
	"github.com/ebogdum/hnsfs/core"
	"github.com/ebogdum/hnsfs/core/log"
	"github.com/ebogdum/hnsfs/metadata"
)

// V1GetFile handles GET /v1/files/{path} and streams the file content
func V1GetFile(engine *core.Engine, authorizer auth.Authorizer, cfg *config.ServerConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := withTimeout(r.Context(), cfg.FileOpTimeout)
		defer cancel()

		path, err := PathFromRequest(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		// Authorize before touching the file so existence does not leak
		if !authorize(ctx, w, r, authorizer, logger, check{path, auth.ReadPerm}) {
			return
		}

		reader, err := engine.Open(ctx, path)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		defer reader.Close()

		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)

		written, err := io.Copy(w, reader)
		if err != nil {
			// Headers are gone; the client sees a truncated body
			logger.Error("Failed to stream file content",
				log.PathField("path", path),
				zap.Int64("written", written),
				zap.Error(err))
			return
		}

		logger.Debug("File downloaded",
			log.PathField("path", path),
			log.UserField(metadata.PrincipalFromContext(ctx)),
			zap.Int64("size", log.SanitizeSize(written)))
	}
}
