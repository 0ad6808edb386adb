package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/config"
	"github.com/ebogdum/hnsfs/core"
	"github.com/ebogdum/hnsfs/core/log"
	"github.com/ebogdum/hnsfs/metadata"
)

// V1PutFile handles PUT /v1/files/{path}?overwrite=bool. The body becomes the
// file content; without overwrite an existing node is a conflict.
func V1PutFile(engine *core.Engine, authorizer auth.Authorizer, cfg *config.ServerConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := withTimeout(r.Context(), cfg.FileOpTimeout)
		defer cancel()

		path, err := PathFromRequest(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		overwrite, err := boolQuery(r, "overwrite")
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		if !authorize(ctx, w, r, authorizer, logger, check{path, auth.WritePerm}) {
			return
		}

		if err := engine.Create(ctx, path, r.Body, overwrite); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusCreated)

		logger.Info("File uploaded",
			log.PathField("path", path),
			log.UserField(metadata.PrincipalFromContext(ctx)),
			zap.Bool("overwrite", overwrite))
	}
}

// V1PostFile handles POST /v1/files/{path}, appending the body to the file
func V1PostFile(engine *core.Engine, authorizer auth.Authorizer, cfg *config.ServerConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := withTimeout(r.Context(), cfg.FileOpTimeout)
		defer cancel()

		path, err := PathFromRequest(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		if !authorize(ctx, w, r, authorizer, logger, check{path, auth.WritePerm}) {
			return
		}

		if err := engine.Append(ctx, path, r.Body); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

		logger.Debug("File appended",
			log.PathField("path", path),
			log.UserField(metadata.PrincipalFromContext(ctx)))
	}
}

// boolQuery parses an optional boolean query parameter; absent means false
func boolQuery(r *http.Request, name string) (bool, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, metadata.Errorf(metadata.ErrInvalidArgument, "query parameter %s=%q is not a boolean", name, value)
	}
	return b, nil
}
