package handler

import (
	"embed"
	"net/http"
)

//go:embed static/*.html
var pages embed.FS

// IndexHandler serves the live preview page.
func IndexHandler() http.HandlerFunc {
	return pageHandler("static/index.html")
}

// LoginPageHandler serves the token form.
func LoginPageHandler() http.HandlerFunc {
	return pageHandler("static/login.html")
}

func pageHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := pages.ReadFile(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}
