package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"foliate/api/internal/auth"
	"foliate/api/internal/catalog"
	"foliate/api/internal/config"
	"foliate/api/internal/embed"
	"foliate/api/internal/proxy"
	"foliate/api/internal/render"
	"foliate/api/internal/session"
	"foliate/api/internal/util"
)

// Identity is the caller context handed back by the authorizer boundary.
// Group scopes alias uniqueness and session visibility.
type Identity struct {
	UserID string
	Name   string
	Group  string
}

// imageFetcher is the embedding pipeline seam; tests supply fakes.
type imageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (embed.Result, error)
}

// documentRenderer is the render pipeline seam.
type documentRenderer interface {
	Render(ctx context.Context, in render.Input) (render.Result, error)
}

type Service struct {
	cfg       config.Config
	catalog   *catalog.Catalog
	sessions  *session.Store
	fetcher   imageFetcher
	renderer  documentRenderer
	artifacts proxy.Store
}

func New(cfg config.Config, cat *catalog.Catalog, sessions *session.Store, fetcher imageFetcher, renderer documentRenderer, artifacts proxy.Store) *Service {
	return &Service{
		cfg:       cfg,
		catalog:   cat,
		sessions:  sessions,
		fetcher:   fetcher,
		renderer:  renderer,
		artifacts: artifacts,
	}
}

// Ping checks the artifact backend, the only external dependency with a
// connection to lose.
func (s *Service) Ping(ctx context.Context) error {
	return s.artifacts.Ping(ctx)
}

// IssueToken mints a bearer token for name within group. Deployments front
// this with the external authorizer; the endpoint exists so the engine is
// usable standalone.
func (s *Service) IssueToken(name, group string) (string, Identity, error) {
	if group == "" {
		group = "default"
	}
	identity := Identity{UserID: util.NewGUID(), Name: name, Group: group}
	token, err := auth.IssueToken([]byte(s.cfg.AuthSecret), auth.Claims{
		Sub:   identity.UserID,
		Name:  name,
		Group: group,
		JTI:   util.NewGUID(),
		Exp:   time.Now().Add(s.cfg.AccessTTL).Unix(),
	})
	if err != nil {
		return "", Identity{}, err
	}
	return token, identity, nil
}

// IdentityFromToken validates a bearer token and extracts the caller
// identity.
func (s *Service) IdentityFromToken(token string) (Identity, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.AuthSecret), token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: claims.Sub, Name: claims.Name, Group: claims.Group}, nil
}

// Templates lists the catalog descriptors.
func (s *Service) Templates() []catalog.Template {
	return s.catalog.Templates()
}

// Template returns one catalog descriptor.
func (s *Service) Template(templateID string) (catalog.Template, error) {
	return s.catalog.Get(templateID)
}

// CreateSession starts a new document build bound to templateID.
func (s *Service) CreateSession(ident Identity, templateID, alias string) (session.Info, error) {
	if _, err := s.catalog.Get(templateID); err != nil {
		return session.Info{}, err
	}
	return s.sessions.Create(templateID, alias, ident.Group)
}

// SessionState describes a live session including its mutable state.
type SessionState struct {
	session.Info
	GlobalParameters map[string]any     `json:"globalParameters"`
	Fragments        []session.Fragment `json:"fragments"`
}

// DescribeSession resolves idOrAlias and returns a consistent snapshot.
func (s *Service) DescribeSession(ident Identity, idOrAlias string) (SessionState, error) {
	snapshot, err := s.sessions.Snapshot(idOrAlias, ident.Group)
	if err != nil {
		return SessionState{}, err
	}
	return SessionState{
		Info:             snapshot.Info,
		GlobalParameters: snapshot.Globals,
		Fragments:        snapshot.Fragments,
	}, nil
}

// SetGlobalParameters merges partial into the session's globals after
// type-checking the provided keys against the template's schema.
func (s *Service) SetGlobalParameters(ident Identity, idOrAlias string, partial map[string]any) error {
	info, err := s.sessions.Resolve(idOrAlias, ident.Group)
	if err != nil {
		return err
	}
	if len(partial) == 0 {
		return nil
	}
	if err := s.catalog.ValidateGlobals(info.TemplateID, partial); err != nil {
		return err
	}
	return s.sessions.SetGlobals(idOrAlias, ident.Group, partial)
}

// AddFragment validates params against the fragment's schema and splices the
// new fragment at the requested position. Image kinds are routed through the
// embedding pipeline.
func (s *Service) AddFragment(ctx context.Context, ident Identity, idOrAlias, fragmentID string, params map[string]any, position string) (session.Fragment, error) {
	if fragmentID == "image" {
		return s.AddImageFragment(ctx, ident, idOrAlias, params, position, false)
	}

	info, err := s.sessions.Resolve(idOrAlias, ident.Group)
	if err != nil {
		return session.Fragment{}, err
	}
	pos, err := session.ParsePosition(position)
	if err != nil {
		return session.Fragment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	if err := s.catalog.ValidateFragment(info.TemplateID, fragmentID, params); err != nil {
		if errors.Is(err, catalog.ErrUnknownFragment) {
			return session.Fragment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown fragment kind "+fragmentID, nil)
		}
		return session.Fragment{}, err
	}

	frag := session.Fragment{FragmentID: fragmentID, Parameters: params}
	guid, err := s.sessions.AddFragment(idOrAlias, ident.Group, frag, pos)
	if err != nil {
		return session.Fragment{}, err
	}
	frag.GUID = guid
	return frag, nil
}

// AddImageFragment runs the embedding pipeline and inserts the image
// fragment. The fetch happens outside the session lock; only the final
// ledger insert serializes with other mutations. When strict is false a
// failed embed degrades to URL-only rendering.
func (s *Service) AddImageFragment(ctx context.Context, ident Identity, idOrAlias string, params map[string]any, position string, strict bool) (session.Fragment, error) {
	info, err := s.sessions.Resolve(idOrAlias, ident.Group)
	if err != nil {
		return session.Fragment{}, err
	}
	pos, err := session.ParsePosition(position)
	if err != nil {
		return session.Fragment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	// Width/height together would distort the image; reject before any
	// network traffic.
	_, hasWidth := params["width"]
	_, hasHeight := params["height"]
	if hasWidth && hasHeight {
		return session.Fragment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "set width or height, not both", nil)
	}

	if err := s.catalog.ValidateFragment(info.TemplateID, "image", params); err != nil {
		if errors.Is(err, catalog.ErrUnknownFragment) {
			return session.Fragment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "template does not accept image fragments", nil)
		}
		return session.Fragment{}, err
	}

	imageURL, _ := params["image_url"].(string)
	result, err := s.fetcher.Fetch(ctx, imageURL)
	if err != nil {
		if errors.Is(err, embed.ErrTooLarge) {
			return session.Fragment{}, domainError(http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", "image exceeds the embedding size limit", nil)
		}
		return session.Fragment{}, err
	}
	if !result.Embedded {
		if strict {
			return session.Fragment{}, domainError(http.StatusUnprocessableEntity, "IMAGE_VALIDATION_FAILURE", "image could not be embedded", map[string]any{"reason": result.Reason})
		}
		log.Printf("image embed degraded for session %s: %s", info.ID, result.Reason)
	}

	frag := session.Fragment{
		FragmentID: "image",
		Parameters: params,
		ImageURL:   imageURL,
		DataURI:    result.DataURI,
		Embedded:   result.Embedded,
	}
	guid, err := s.sessions.AddFragment(idOrAlias, ident.Group, frag, pos)
	if err != nil {
		return session.Fragment{}, err
	}
	frag.GUID = guid
	return frag, nil
}

// RemoveFragment deletes one fragment without disturbing the rest.
func (s *Service) RemoveFragment(ident Identity, idOrAlias, guid string) error {
	return s.sessions.RemoveFragment(idOrAlias, ident.Group, guid)
}

// ListFragments returns the ledger in render order.
func (s *Service) ListFragments(ident Identity, idOrAlias string) ([]session.Fragment, error) {
	return s.sessions.Fragments(idOrAlias, ident.Group)
}

// AbortSession irreversibly discards the session. Proxy artifacts already
// materialized stay retrievable.
func (s *Service) AbortSession(ident Identity, idOrAlias string) error {
	return s.sessions.Abort(idOrAlias, ident.Group)
}

// Render produces the document in the requested format. It reads a snapshot
// and never mutates the session, so concurrent renders interleave freely.
func (s *Service) Render(ctx context.Context, ident Identity, idOrAlias, formatRaw, styleID string) (render.Result, error) {
	format, err := render.ParseFormat(formatRaw)
	if err != nil {
		return render.Result{}, err
	}

	snapshot, err := s.sessions.Snapshot(idOrAlias, ident.Group)
	if err != nil {
		return render.Result{}, err
	}
	descriptor, err := s.catalog.Get(snapshot.Info.TemplateID)
	if err != nil {
		return render.Result{}, err
	}

	missing, err := s.catalog.MissingGlobals(snapshot.Info.TemplateID, snapshot.Globals)
	if err != nil {
		return render.Result{}, err
	}
	if len(missing) > 0 {
		return render.Result{}, domainError(http.StatusUnprocessableEntity, "MISSING_REQUIRED_GLOBAL_PARAMETERS", "required global parameters are not set", map[string]any{"missing": missing})
	}

	var css string
	if format != render.FormatMarkdown {
		css, err = s.catalog.Style(snapshot.Info.TemplateID, styleID)
		if err != nil {
			if errors.Is(err, catalog.ErrUnknownStyle) {
				return render.Result{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown style "+styleID, nil)
			}
			return render.Result{}, err
		}
	}

	return s.renderer.Render(ctx, render.Input{
		Template:  descriptor,
		Globals:   snapshot.Globals,
		Fragments: snapshot.Fragments,
		CSS:       css,
		Format:    format,
	})
}

// RenderToProxy renders and materializes the output in the artifact store
// under a fresh GUID with no link back to the session.
func (s *Service) RenderToProxy(ctx context.Context, ident Identity, idOrAlias, formatRaw, styleID string) (proxy.Artifact, error) {
	result, err := s.Render(ctx, ident, idOrAlias, formatRaw, styleID)
	if err != nil {
		return proxy.Artifact{}, err
	}
	artifact := proxy.Artifact{
		GUID:        util.NewGUID(),
		Data:        result.Data,
		ContentType: result.ContentType,
		Format:      formatRaw,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.artifacts.Put(ctx, artifact); err != nil {
		return proxy.Artifact{}, err
	}
	return artifact, nil
}

// Artifact retrieves a materialized document by its proxy GUID.
func (s *Service) Artifact(ctx context.Context, guid string) (proxy.Artifact, error) {
	return s.artifacts.Get(ctx, guid)
}
