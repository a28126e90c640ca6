package pod

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/podgate/podgate/internal/linkeddata"
	"github.com/podgate/podgate/internal/poderr"
)

// LDP type links sent when creating resources.
const (
	ldpNS              = "http://www.w3.org/ns/ldp#"
	linkResource       = `<` + ldpNS + `Resource>; rel="type"`
	linkBasicContainer = `<` + ldpNS + `BasicContainer>; rel="type"`
	rdfType            = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
)

const dcTitle = "http://purl.org/dc/terms/title"

// containerDescription is the initial description of a new folder. The
// empty subject is the folder itself.
func containerDescription() []linkeddata.Triple {
	return []linkeddata.Triple{{
		Subject:   linkeddata.NewIRI(""),
		Predicate: linkeddata.NewIRI(dcTitle),
		Object:    linkeddata.NewLiteral("Basic container"),
	}}
}

// LoadContainers fetches the storage root listing and rebuilds the
// container index from it. The request is authenticated when tokens exist.
func (g *Gateway) LoadContainers(ctx context.Context) error {
	const op = "pod.LoadContainers"

	root, err := g.Root()
	if err != nil {
		return err
	}

	text, err := g.fetchTurtle(ctx, op, root, true)
	if err != nil {
		return err
	}

	triples, err := g.codec.Parse(text, root.String())
	if err != nil {
		perr := &poderr.Error{Kind: poderr.ErrProtocol, Op: op, Method: http.MethodGet, URI: root.String(), Description: "listing is not valid turtle", Err: err}
		g.logger.Warn("container listing rejected", slog.String("error", perr.Error()))

		return perr
	}

	found := containerSubjects(triples, root)
	skipped := g.index.Replace(found)

	g.logger.Info("containers loaded",
		slog.String("root", root.String()),
		slog.Int("containers", g.index.Len()),
		slog.Int("duplicates", skipped),
	)

	return nil
}

// containerSubjects returns the IRI subjects below root that are
// containers: a path ending in "/" or an ldp container type.
func containerSubjects(triples []linkeddata.Triple, root *url.URL) []*url.URL {
	var out []*url.URL

	for _, s := range linkeddata.SubjectIRIs(triples) {
		u, err := url.Parse(s)
		if err != nil || !sameOrigin(u, root) {
			continue
		}

		if u.Path == root.Path || !strings.HasPrefix(u.Path, root.Path) {
			continue
		}

		if strings.HasSuffix(u.Path, "/") || typedContainer(triples, s) {
			out = append(out, u)
		}
	}

	return out
}

func typedContainer(triples []linkeddata.Triple, subject string) bool {
	for _, t := range linkeddata.ObjectsOf(triples, subject, rdfType) {
		if t.Kind == linkeddata.IRI && (t.Value == ldpNS+"Container" || t.Value == ldpNS+"BasicContainer") {
			return true
		}
	}

	return false
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

// Folder resolves a folder name to its container URI through the index.
// Names are tried as given and relative to the storage root.
func (g *Gateway) Folder(name string) (*url.URL, error) {
	if u, ok := g.index.Get(name); ok {
		return u, nil
	}

	if root, err := g.Root(); err == nil && root.Path != "/" {
		if u, ok := g.index.Get(root.Path + strings.TrimPrefix(name, "/")); ok {
			return u, nil
		}
	}

	return nil, poderr.NotFound("pod.Folder", "folder %q not found", name)
}

// CreateFolder asks the provider to create a container named name in the
// storage root and returns the location it assigned. The index is not
// updated; see GetOrCreateFolder.
func (g *Gateway) CreateFolder(ctx context.Context, name string) (string, error) {
	const op = "pod.CreateFolder"

	slug := strings.Trim(name, "/")
	if slug == "" {
		return "", poderr.Configuration(op, "folder name is empty")
	}

	root, err := g.Root()
	if err != nil {
		return "", err
	}

	body, err := g.codec.Serialize(containerDescription())
	if err != nil {
		return "", poderr.Wrap(poderr.ErrConfiguration, op, err)
	}

	resp, err := g.send(ctx, request{
		op:     op,
		method: http.MethodPost,
		target: root,
		header: http.Header{
			"Content-Type": {linkeddata.MediaType},
			"Link":         {linkBasicContainer},
			"Slug":         {slug},
		},
		body: body,
	})
	if err != nil {
		return "", err
	}

	location := resp.header.Get("Location")
	g.logger.Info("folder created", slog.String("name", slug), slog.String("location", location))

	return location, nil
}

// GetOrCreateFolder returns the container for name, creating it when the
// index does not know it. After a creation the index is reloaded from the
// provider, which may have assigned a different name.
func (g *Gateway) GetOrCreateFolder(ctx context.Context, name string) (*url.URL, error) {
	if u, err := g.Folder(name); err == nil {
		return u, nil
	}

	location, err := g.CreateFolder(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := g.LoadContainers(ctx); err != nil {
		return nil, err
	}

	u, err := g.Folder(name)
	if err == nil {
		return u, nil
	}

	if assigned, perr := url.Parse(location); perr == nil && location != "" && g.index.ContainsURL(assigned) {
		g.logger.Warn("created folder listed under another name",
			slog.String("name", name),
			slog.String("location", location),
		)

		return nil, poderr.NotFound("pod.GetOrCreateFolder", "folder %q not found; the provider created %s", name, location)
	}

	g.logger.Warn("created folder missing from reloaded listing", slog.String("name", name))

	return nil, err
}

// CreateDocument posts content as a new Turtle resource in folder, asking
// for name as its slug. It returns the location the provider assigned.
func (g *Gateway) CreateDocument(ctx context.Context, folder, name, content string) (string, error) {
	const op = "pod.CreateDocument"

	dir, err := g.Folder(folder)
	if err != nil {
		return "", err
	}

	if err := checkMemberName(op, name); err != nil {
		return "", err
	}

	resp, err := g.send(ctx, request{
		op:     op,
		method: http.MethodPost,
		target: withSlash(dir),
		header: http.Header{
			"Content-Type": {linkeddata.MediaType},
			"Link":         {linkResource},
			"Slug":         {name},
		},
		body: content,
	})
	if err != nil {
		return "", err
	}

	return resp.header.Get("Location"), nil
}

// UpdateDocument replaces the document name in folder with content,
// creating it when absent.
func (g *Gateway) UpdateDocument(ctx context.Context, folder, name, content string) error {
	const op = "pod.UpdateDocument"

	dir, err := g.Folder(folder)
	if err != nil {
		return err
	}

	target, err := memberOf(op, dir, name)
	if err != nil {
		return err
	}

	_, err = g.send(ctx, request{
		op:     op,
		method: http.MethodPut,
		target: target,
		header: http.Header{"Content-Type": {linkeddata.MediaType}},
		body:   content,
	})

	return err
}

// DeleteDocument removes the document name from folder.
func (g *Gateway) DeleteDocument(ctx context.Context, folder, name string) error {
	const op = "pod.DeleteDocument"

	dir, err := g.Folder(folder)
	if err != nil {
		return err
	}

	target, err := memberOf(op, dir, name)
	if err != nil {
		return err
	}

	_, err = g.send(ctx, request{
		op:     op,
		method: http.MethodDelete,
		target: target,
	})

	return err
}

// GetDocument returns the Turtle text of the document name in folder.
func (g *Gateway) GetDocument(ctx context.Context, folder, name string) (string, error) {
	const op = "pod.GetDocument"

	dir, err := g.Folder(folder)
	if err != nil {
		return "", err
	}

	target, err := memberOf(op, dir, name)
	if err != nil {
		return "", err
	}

	resp, err := g.send(ctx, request{
		op:     op,
		method: http.MethodGet,
		target: target,
		header: http.Header{"Accept": {linkeddata.MediaType}},
	})
	if err != nil {
		return "", err
	}

	return string(resp.body), nil
}
