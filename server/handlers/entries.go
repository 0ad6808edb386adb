package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/config"
	"github.com/ebogdum/hnsfs/core"
	"github.com/ebogdum/hnsfs/core/log"
	"github.com/ebogdum/hnsfs/metadata"
)

// maxJSONBody bounds the small JSON request documents
const maxJSONBody = 1 << 20

// SetPermissionRequest is the body of PATCH /v1/entries/{path}
type SetPermissionRequest struct {
	Permission string `json:"permission"`
}

// V1GetEntry handles GET /v1/entries/{path}
func V1GetEntry(engine *core.Engine, authorizer auth.Authorizer, cfg *config.ServerConfig, logger *zap.Logger) http.HandlerFunc {
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

		entry, err := engine.Stat(ctx, path)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		SendJSONResponse(w, http.StatusOK, entry)
	}
}

// V1PatchEntry handles PATCH /v1/entries/{path} with a SetPermissionRequest
func V1PatchEntry(engine *core.Engine, authorizer auth.Authorizer, cfg *config.ServerConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := withTimeout(r.Context(), cfg.MetadataOpTimeout)
		defer cancel()

		path, err := PathFromRequest(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		var req SetPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		if err := metadata.ValidatePermission(req.Permission); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		if !authorize(ctx, w, r, authorizer, logger, check{path, auth.WritePerm}) {
			return
		}

		if err := engine.SetPermission(ctx, path, req.Permission); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

		logger.Info("Permission changed",
			log.PathField("path", path),
			log.UserField(metadata.PrincipalFromContext(ctx)),
			zap.String("permission", req.Permission))
	}
}

// V1DeleteEntry handles DELETE /v1/entries/{path}?recursive=bool
func V1DeleteEntry(engine *core.Engine, authorizer auth.Authorizer, cfg *config.ServerConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := withTimeout(r.Context(), cfg.MetadataOpTimeout)
		defer cancel()

		path, err := PathFromRequest(r)
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		recursive, err := boolQuery(r, "recursive")
		if err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		if !authorize(ctx, w, r, authorizer, logger, check{path, auth.DeletePerm}) {
			return
		}

		if err := engine.Delete(ctx, path, recursive); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

		logger.Info("Entry deleted",
			log.PathField("path", path),
			log.UserField(metadata.PrincipalFromContext(ctx)),
			zap.Bool("recursive", recursive))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return metadata.Errorf(metadata.ErrInvalidArgument, "malformed request body: %v", err)
	}
	return nil
}
