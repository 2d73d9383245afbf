package middleware

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/calipso/calipso/internal/logging"
	"github.com/calipso/calipso/internal/metrics"
	"github.com/calipso/calipso/internal/server"
)

const contextKeyFiles = "_calipso_files"

// UploadedFile describes one file saved by the form stage.
type UploadedFile struct {
	Field       string
	Filename    string
	Path        string
	Size        int64
	ContentType string
}

// FormConfig configures the form stage.
type FormConfig struct {
	UploadDir      string
	KeepExtensions bool
	Logger         *logrus.Logger
	Metrics        *metrics.Collector
}

// Form parses multipart bodies and stores each uploaded file in UploadDir
// under a random name. With KeepExtensions the original file extension is
// preserved. Url-encoded fields stay available through c.FormValue.
func Form(cfg FormConfig) server.Stage {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return server.Stage{
		Tag: server.TagForm,
		Handler: func(c fiber.Ctx) error {
			if !strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
				return c.Next()
			}

			form, err := c.MultipartForm()
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid multipart body")
			}
			if len(form.File) == 0 {
				return c.Next()
			}
			if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
				return fmt.Errorf("create upload dir: %w", err)
			}

			files := make(map[string][]UploadedFile, len(form.File))
			for field, headers := range form.File {
				for _, header := range headers {
					name := uploadName(header.Filename, cfg.KeepExtensions)
					target := filepath.Join(cfg.UploadDir, name)
					if err := c.SaveFile(header, target); err != nil {
						return fmt.Errorf("save upload %s: %w", header.Filename, err)
					}
					files[field] = append(files[field], UploadedFile{
						Field:       field,
						Filename:    header.Filename,
						Path:        target,
						Size:        header.Size,
						ContentType: header.Header.Get(fiber.HeaderContentType),
					})
					cfg.Metrics.RecordUpload()
					logger.WithFields(logrus.Fields{
						"action":     "upload",
						"request_id": server.RequestID(c),
						"field":      field,
						"path":       target,
						"size":       header.Size,
					}).Debug("upload stored")
				}
			}
			c.Locals(contextKeyFiles, files)
			return c.Next()
		},
	}
}

// Files returns the uploads stored for the current request, keyed by field.
func Files(c fiber.Ctx) map[string][]UploadedFile {
	if files, ok := c.Locals(contextKeyFiles).(map[string][]UploadedFile); ok {
		return files
	}
	return nil
}

func uploadName(original string, keepExtension bool) string {
	name := uuid.NewString()
	if !keepExtension {
		return name
	}
	ext := filepath.Ext(filepath.Base(original))
	if ext == "." || strings.ContainsAny(ext, `/\`) {
		return name
	}
	return name + ext
}
