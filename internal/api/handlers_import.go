package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dgallion1/rtfbridge/internal/convert"
	"github.com/dgallion1/rtfbridge/internal/importer"
	"github.com/dgallion1/rtfbridge/internal/pipeline"
)

// handleImport converts an uploaded file. RTF and Markdown uploads go
// through the regular conversion path; other supported formats are
// imported into a document and rendered to the requested target.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	target := convert.FormatMarkdown
	if v := r.FormValue("target"); v != "" {
		f, err := convert.ParseFormat(v)
		if err != nil {
			jsonError(w, "target must be rtf or markdown", http.StatusBadRequest)
			return
		}
		target = f
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if _, native := pipeline.NativeFormat(ext); !native && !importer.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", ext), http.StatusBadRequest)
		return
	}

	// Read file data.
	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	res, err := s.orchestrator.ConvertFile(r.Context(), filename, data, target, pipeline.FileOptions{
		PDFFallbackPdftotext: s.cfg.PDFFallbackPdftotext,
	})
	if errors.Is(err, pipeline.ErrSameFormat) {
		jsonError(w, "file is already in the target format", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"filename": filename,
		"title":    res.Title,
		"target":   target.String(),
		"text":     res.Output.Text,
		"report":   res.Output.Report,
	})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
