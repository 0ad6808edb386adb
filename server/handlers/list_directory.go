package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/config"
	"github.com/ebogdum/hnsfs/core"
	"github.com/ebogdum/hnsfs/core/log"
	"github.com/ebogdum/hnsfs/metadata"
)

// V1ListDirectory handles GET /v1/directories/{path}. The response is the
// JSON array of child entries sorted by name.
func V1ListDirectory(engine *core.Engine, authorizer auth.Authorizer, cfg *config.ServerConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := withTimeout(r.Context(), cfg.MetadataOpTimeout)
		defer cancel()

		path, err := PathFromRequest(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		if !authorize(ctx, w, r, authorizer, logger, check{path, auth.ReadPerm}) {
			return
		}

		children, err := engine.ListDirectory(ctx, path)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		if children == nil {
			children = []*metadata.Entry{}
		}

		SendJSONResponse(w, http.StatusOK, children)

		logger.Debug("Directory listed",
			log.PathField("path", path),
			log.UserField(metadata.PrincipalFromContext(ctx)),
			zap.Int("items_count", len(children)))
	}
}

// V1CreateDirectory handles PUT /v1/directories/{path}
func V1CreateDirectory(engine *core.Engine, authorizer auth.Authorizer, cfg *config.ServerConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := withTimeout(r.Context(), cfg.MetadataOpTimeout)
		defer cancel()

		path, err := PathFromRequest(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		if !authorize(ctx, w, r, authorizer, logger, check{path, auth.WritePerm}) {
			return
		}

		if err := engine.CreateDirectory(ctx, path); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

		logger.Info("Directory created",
			log.PathField("path", path),
			log.UserField(metadata.PrincipalFromContext(ctx)))
	}
}
