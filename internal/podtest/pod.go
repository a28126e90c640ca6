package podtest

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/elnormous/contenttype"
)

var turtleType = contenttype.NewMediaType("text/turtle")

type resource struct {
	body        string
	contentType string
	container   bool
	children    []string // child paths in creation order
}

// ProfileName is the full name published on the test user's profile.
const ProfileName = "Test User"

func (s *Server) seed() {
	s.resources["/"] = &resource{container: true}
	s.addLocked("/", "/profile/", &resource{container: true})
	s.addLocked("/profile/", "/profile/card", &resource{
		contentType: "text/turtle",
		body: `@prefix foaf: <http://xmlns.com/foaf/0.1/>.
@prefix vcard: <http://www.w3.org/2006/vcard/ns#>.

<> a foaf:PersonalProfileDocument; foaf:primaryTopic <#me>.
<#me> a foaf:Person; vcard:fn "` + ProfileName + `".
`,
	})
}

// addLocked links child under parent. Callers hold s.mu, or run before
// the server starts.
func (s *Server) addLocked(parent, child string, r *resource) {
	s.resources[child] = r

	if p, ok := s.resources[parent]; ok && !slices.Contains(p.children, child) {
		p.children = append(p.children, child)
	}
}

// PutResource stores a document or container at path, creating its parent
// link. Containers are paths ending in "/".
func (s *Server) PutResource(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addLocked(parentOf(path), path, &resource{
		body:        body,
		contentType: "text/turtle",
		container:   strings.HasSuffix(path, "/"),
	})
}

// Resource returns the stored body at path and whether it exists.
func (s *Server) Resource(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[path]
	if !ok {
		return "", false
	}

	return r.body, true
}

func parentOf(path string) string {
	trimmed := strings.TrimSuffix(path, "/")

	i := strings.LastIndex(trimmed, "/")
	if i < 0 {
		return "/"
	}

	return trimmed[:i+1]
}

// listing renders a container the way Solid servers do: the container
// with ldp:contains links, then one subject per child.
func (s *Server) listingLocked(path string, r *resource) string {
	var b strings.Builder

	b.WriteString("@prefix dc: <http://purl.org/dc/terms/>.\n")
	b.WriteString("@prefix ldp: <http://www.w3.org/ns/ldp#>.\n\n")
	b.WriteString("<> a ldp:Container, ldp:BasicContainer, ldp:Resource")

	if len(r.children) > 0 {
		rel := make([]string, 0, len(r.children))
		for _, c := range r.children {
			rel = append(rel, "<"+strings.TrimPrefix(c, path)+">")
		}

		b.WriteString(";\n    ldp:contains " + strings.Join(rel, ", "))
	}

	b.WriteString(".\n")

	for _, c := range r.children {
		child := s.resources[c]
		kind := "ldp:Resource"

		if child != nil && child.container {
			kind = "ldp:Container, ldp:BasicContainer, ldp:Resource"
		}

		fmt.Fprintf(&b, "<%s> a %s.\n", strings.TrimPrefix(c, path), kind)
	}

	return b.String()
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	path := r.URL.EscapedPath()

	s.mu.Lock()
	res, ok := s.resources[path]

	var body string
	if ok {
		body = res.body
		if res.container {
			body = s.listingLocked(path, res)
		}
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{turtleType}); err != nil {
		http.Error(w, "only text/turtle is available", http.StatusNotAcceptable)
		return
	}

	w.Header().Set("Content-Type", "text/turtle")
	w.Header().Set("Updates-Via", "ws"+strings.TrimPrefix(s.URL, "http")+"/.notifications")

	if res.container {
		w.Header().Add("Link", `<http://www.w3.org/ns/ldp#BasicContainer>; rel="type"`)
	}

	w.WriteHeader(http.StatusOK)

	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, body)
	}
}

func requireTurtle(w http.ResponseWriter, r *http.Request) bool {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(turtleType) {
		http.Error(w, "content type must be text/turtle", http.StatusUnsupportedMediaType)
		return false
	}

	return true
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	parent := r.URL.EscapedPath()

	if !requireTurtle(w, r) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	isContainer := strings.Contains(r.Header.Get("Link"), "ldp#BasicContainer") ||
		strings.Contains(r.Header.Get("Link"), "ldp#Container>")

	slug := r.Header.Get("Slug")
	if slug == "" {
		slug = randomHex(6)
	}

	s.mu.Lock()

	p, ok := s.resources[parent]
	if !ok || !p.container {
		s.mu.Unlock()
		http.Error(w, "container not found", http.StatusNotFound)

		return
	}

	child := parent + slug
	if _, taken := s.resources[child+suffix(isContainer)]; taken {
		child += "-" + randomHex(3)
	}

	child += suffix(isContainer)
	s.addLocked(parent, child, &resource{body: string(body), contentType: "text/turtle", container: isContainer})
	s.mu.Unlock()

	w.Header().Set("Location", s.URL+child)
	w.WriteHeader(http.StatusCreated)

	s.subs.publish(s.URL + parent)
}

func suffix(container bool) string {
	if container {
		return "/"
	}

	return ""
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	path := r.URL.EscapedPath()

	if strings.HasSuffix(path, "/") {
		http.Error(w, "PUT on containers is not supported", http.StatusMethodNotAllowed)
		return
	}

	if !requireTurtle(w, r) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	parent := parentOf(path)

	s.mu.Lock()

	if p, ok := s.resources[parent]; !ok || !p.container {
		s.mu.Unlock()
		http.Error(w, "parent container not found", http.StatusNotFound)

		return
	}

	existing, existed := s.resources[path]
	if existed {
		existing.body = string(body)
	} else {
		s.addLocked(parent, path, &resource{body: string(body), contentType: "text/turtle"})
	}
	s.mu.Unlock()

	if existed {
		w.WriteHeader(http.StatusResetContent)
	} else {
		w.WriteHeader(http.StatusCreated)
	}

	s.subs.publish(s.URL + path)
	s.subs.publish(s.URL + parent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := r.URL.EscapedPath()
	parent := parentOf(path)

	s.mu.Lock()

	res, ok := s.resources[path]
	if !ok || path == "/" {
		s.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)

		return
	}

	if res.container && len(res.children) > 0 {
		s.mu.Unlock()
		http.Error(w, "container is not empty", http.StatusConflict)

		return
	}

	delete(s.resources, path)

	if p, ok := s.resources[parent]; ok {
		p.children = slices.DeleteFunc(p.children, func(c string) bool { return c == path })
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusResetContent)

	s.subs.publish(s.URL + path)
	s.subs.publish(s.URL + parent)
}

// copyAndRestore copies the request body into w and replaces it with an
// unread copy.
func copyAndRestore(w io.Writer, r *http.Request) (int64, error) {
	data, err := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))

	if err != nil {
		return 0, err
	}

	n, err := w.Write(data)

	return int64(n), err
}
