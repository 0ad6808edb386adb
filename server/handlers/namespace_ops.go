package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/config"
	"github.com/ebogdum/hnsfs/core"
	"github.com/ebogdum/hnsfs/core/log"
	"github.com/ebogdum/hnsfs/internal/pathutil"
	"github.com/ebogdum/hnsfs/metadata"
)

// ConcatRequest is the body of POST /v1/concat
type ConcatRequest struct {
	Target  string   `json:"target"`
	Sources []string `json:"sources"`
}

// RenameRequest is the body of POST /v1/rename
type RenameRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// V1Concat handles POST /v1/concat
func V1Concat(engine *core.Engine, authorizer auth.Authorizer, cfg *config.ServerConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := withTimeout(r.Context(), cfg.FileOpTimeout)
		defer cancel()

		var req ConcatRequest
		if err := decodeJSON(w, r, &req); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		if len(req.Sources) == 0 {
			SendErrorResponse(w, r, logger, metadata.Errorf(metadata.ErrInvalidArgument, "no sources"))
			return
		}
		if err := validatePaths(append([]string{req.Target}, req.Sources...)...); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}

		checks := []check{{req.Target, auth.WritePerm}}
		for _, src := range req.Sources {
			checks = append(checks, check{src, auth.ReadPerm})
			if src != req.Target {
				checks = append(checks, check{src, auth.DeletePerm})
			}
		}
		if !authorize(ctx, w, r, authorizer, logger, checks...) {
			return
		}

		if err := engine.Concat(ctx, req.Target, req.Sources); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

		logger.Info("Files concatenated via API",
			log.PathField("target", req.Target),
			log.UserField(metadata.PrincipalFromContext(ctx)),
			zap.Int("sources", len(req.Sources)))
	}
}

// V1Rename handles POST /v1/rename
func V1Rename(engine *core.Engine, authorizer auth.Authorizer, cfg *config.ServerConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := withTimeout(r.Context(), cfg.MetadataOpTimeout)
		defer cancel()

		var req RenameRequest
		if err := decodeJSON(w, r, &req); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		if err := validatePaths(req.Source, req.Destination); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		if !authorize(ctx, w, r, authorizer, logger,
			check{req.Source, auth.DeletePerm},
			check{req.Destination, auth.WritePerm}) {
			return
		}

		if err := engine.Rename(ctx, req.Source, req.Destination); err != nil {
			SendErrorResponse(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

		logger.Info("Entry renamed via API",
			log.PathField("source", req.Source),
			log.PathField("destination", req.Destination),
			log.UserField(metadata.PrincipalFromContext(ctx)))
	}
}

func validatePaths(paths ...string) error {
	for _, p := range paths {
		if err := pathutil.Validate(p); err != nil {
			return err
		}
	}
	return nil
}
