package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ebogdum/hnsfs/auth"
	"github.com/ebogdum/hnsfs/internal/pathutil"
	"github.com/ebogdum/hnsfs/metadata"
)

// PathFromRequest extracts the namespace path from the route wildcard.
// /v1/files/a/b.txt maps to /a/b.txt; an empty wildcard is the root. One
// trailing separator is tolerated for directories.
//
// chi matches against r.URL.RawPath when it is set and r.URL.Path otherwise,
// so the wildcard needs decoding only in the first case.
func PathFromRequest(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		var err error
		if raw, err = url.PathUnescape(raw); err != nil {
			return "", metadata.Errorf(metadata.ErrInvalidArgument, "malformed path escape")
		}
	}
	if strings.Contains(raw, "\\") {
		return "", metadata.Errorf(metadata.ErrInvalidArgument, "path contains a backslash")
	}

	path := "/" + strings.TrimSuffix(raw, "/")
	if err := pathutil.Validate(path); err != nil {
		return "", err
	}
	return path, nil
}

// check is one permission an operation needs.
type check struct {
	path string
	perm auth.PermissionType
}

// authorize runs every check for the request's principal, answering the
// request itself on the first failure. A nil authorizer allows everything.
func authorize(ctx context.Context, w http.ResponseWriter, r *http.Request, authorizer auth.Authorizer, logger *zap.Logger, checks ...check) bool {
	if authorizer == nil {
		return true
	}

	userID := metadata.PrincipalFromContext(ctx)
	for _, c := range checks {
		if err := authorizer.Authorize(ctx, userID, c.path, c.perm); err != nil {
			logger.Debug("Permission denied",
				zap.String("permission", c.perm.String()),
				zap.String("user_id", userID),
				zap.Error(err))
			SendErrorResponse(w, r, logger, err)
			return false
		}
	}
	return true
}
