package server

import (
	"bytes"
	_ "embed"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

//go:embed assets/servermanager.js
var clientScript []byte

// handleStatic serves aliases and files under the web root. Directory paths
// get the default file. Anything unreadable is a 404.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	info := infoFrom(r.Context())

	if r.URL.Path == ClientScriptPath {
		if _, aliased := s.config.Aliases[ClientScriptPath]; !aliased {
			w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
			http.ServeContent(w, r, "servermanager.js", s.started, bytes.NewReader(clientScript))
			return
		}
	}

	name, content, err := s.openStatic(r.URL.Path)
	if err != nil {
		info.err = err.Error()
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer content.Close()

	stat, err := content.Stat()
	if err != nil {
		info.err = err.Error()
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType(name))
	if rs, ok := content.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, stat.ModTime(), rs)
		return
	}
	data, err := io.ReadAll(content)
	if err != nil {
		info.err = err.Error()
		w.WriteHeader(http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, name, stat.ModTime(), bytes.NewReader(data))
}

// openStatic resolves urlPath to a regular file under the root.
func (s *Server) openStatic(urlPath string) (string, fs.File, error) {
	var rel string
	if alias, ok := s.config.Aliases[urlPath]; ok {
		clean, ok := staticRelPath(alias)
		if !ok {
			return "", nil, fs.ErrNotExist
		}
		rel = clean
	} else {
		clean, ok := staticRelPath(urlPath)
		if !ok {
			return "", nil, fs.ErrNotExist
		}
		rel = clean
		if strings.HasSuffix(urlPath, "/") {
			rel = path.Join(rel, s.config.DefaultFile)
		}
	}

	root := os.DirFS(s.config.Root)
	f, err := root.Open(rel)
	if err != nil {
		return "", nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return "", nil, err
	}
	if stat.IsDir() {
		f.Close()
		rel = path.Join(rel, s.config.DefaultFile)
		if f, err = root.Open(rel); err != nil {
			return "", nil, err
		}
		if stat, err = f.Stat(); err != nil || !stat.Mode().IsRegular() {
			f.Close()
			return "", nil, fs.ErrNotExist
		}
	}
	return rel, f, nil
}

// staticRelPath returns a sanitized root-relative path for urlPath, or "."
// for the root itself. It rejects traversal and absolute-path tricks.
func staticRelPath(urlPath string) (string, bool) {
	rel := strings.TrimPrefix(urlPath, "/")
	if rel == "" {
		return ".", true
	}

	// NUL can arrive via %00.
	if strings.IndexByte(rel, 0) != -1 {
		return "", false
	}
	if strings.Contains(rel, "\\") {
		return "", false
	}
	// A second leading slash is an absolute-path attempt ("//etc/passwd").
	if strings.HasPrefix(rel, "/") {
		return "", false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "." || seg == ".." {
			return "", false
		}
	}

	clean := path.Clean(rel)
	if clean == "." {
		return ".", true
	}
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", false
	}

	osPath := filepath.FromSlash(clean)
	if filepath.IsAbs(osPath) || filepath.VolumeName(osPath) != "" {
		return "", false
	}
	if !fs.ValidPath(clean) {
		return "", false
	}
	return clean, true
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
