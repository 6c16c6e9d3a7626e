package server

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed public
var embedded embed.FS

// Assets returns the landing page directory: dir when set, otherwise the
// embedded copy. The directory must contain index.html.
func Assets(dir string) (fs.FS, error) {
	var fsys fs.FS
	if dir != "" {
		fsys = os.DirFS(dir)
	} else {
		sub, err := fs.Sub(embedded, "public")
		if err != nil {
			return nil, err
		}
		fsys = sub
	}
	if _, err := fs.Stat(fsys, "index.html"); err != nil {
		return nil, fmt.Errorf("landing page: %w", err)
	}
	return fsys, nil
}

// LandingHandler serves index.html from assets.
func LandingHandler(assets fs.FS) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setETag(w, assets, "index.html")
		http.ServeFileFS(w, r, assets, "index.html")
	}
}

// AssetHandler serves static files from assets with content based ETags.
func AssetHandler(assets fs.FS) http.HandlerFunc {
	files := http.FileServerFS(assets)
	return func(w http.ResponseWriter, r *http.Request) {
		setETag(w, assets, strings.TrimPrefix(path.Clean(r.URL.Path), "/"))
		files.ServeHTTP(w, r)
	}
}

// Embedded files carry no modification time, so conditional requests rely
// on the ETag alone.
func setETag(w http.ResponseWriter, assets fs.FS, name string) {
	if tag, err := hashFile(assets, name); err == nil {
		w.Header().Set("ETag", tag)
	}
}

func hashFile(fsys fs.FS, name string) (string, error) {
	if name == "" || name == "." {
		return "", fs.ErrNotExist
	}
	f, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return "", err
	}
	if st.IsDir() {
		return "", fmt.Errorf("%s is a directory", name)
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return `"` + hex.EncodeToString(h.Sum(nil)[:16]) + `"`, nil
}
