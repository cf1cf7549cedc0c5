package api

import (
	_ "embed"
	"net/http"
)

//go:embed ui/index.html
var uiIndex []byte

//go:embed openapi.yaml
var openAPISpecYAML []byte

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(uiIndex); err != nil {
		s.logger.Printf("write ui index: %v", err)
	}
}
