package certificates

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nkiryanov/nuamclient/internal/api"
	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/models"
	"github.com/nkiryanov/nuamclient/internal/service/validate"
)

const (
	TypePDF  = "application/pdf"
	TypeXLS  = "application/vnd.ms-excel"
	TypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	TypeCSV  = "text/csv"

	defaultMaxSizeMB = 10
)

var defaultAllowedTypes = []string{TypePDF, TypeXLS, TypeXLSX, TypeCSV}

type uploadAPI interface {
	UploadCertificate(ctx context.Context, u api.Upload) (models.UploadResult, error)
}

type Config struct {
	// If not set than default is used
	MaxSizeMB    int
	AllowedTypes []string
}

// Certificates upload service
// Content type is detected from file bytes, the name is only a hint for plain text
type Service struct {
	api    uploadAPI
	logger logger.Logger

	maxSizeMB    int
	allowedTypes []string
}

func NewService(cfg Config, upload uploadAPI, l logger.Logger) (*Service, error) {
	if upload == nil {
		return nil, errors.New("upload api must not be nil")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = defaultMaxSizeMB
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = defaultAllowedTypes
	}

	return &Service{
		api:          upload,
		logger:       l.With("component", "service.certificates"),
		maxSizeMB:    cfg.MaxSizeMB,
		allowedTypes: cfg.AllowedTypes,
	}, nil
}

// UploadFile reads file from disk and uploads it
func (s *Service) UploadFile(ctx context.Context, path string, progress func(models.UploadProgress)) (models.UploadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.UploadResult{}, fmt.Errorf("failed to read file: %w", err)
	}
	// Checked before reading the whole file into memory
	if err := validate.FileSize(info.Size(), s.maxSizeMB); err != nil && info.Size() > 0 {
		return models.UploadResult{}, fmt.Errorf("%w: %s", apperrors.ErrFileTooLarge, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.UploadResult{}, fmt.Errorf("failed to read file: %w", err)
	}

	return s.Upload(ctx, filepath.Base(path), data, progress)
}

// Upload validates size and type and sends the certificate
func (s *Service) Upload(ctx context.Context, name string, data []byte, progress func(models.UploadProgress)) (models.UploadResult, error) {
	size := int64(len(data))
	if err := validate.FileSize(size, s.maxSizeMB); err != nil {
		if size == 0 {
			return models.UploadResult{}, validate.Errors{"archivo": err.Error()}
		}
		return models.UploadResult{}, fmt.Errorf("%w: %s", apperrors.ErrFileTooLarge, err)
	}

	contentType := s.DetectType(name, data)
	if err := validate.FileType(contentType, s.allowedTypes); err != nil {
		return models.UploadResult{}, fmt.Errorf("%w: %s (%s)", apperrors.ErrUnsupportedFileType, err, contentType)
	}

	s.logger.Info("Uploading certificate", "file", name, "type", contentType, "size", size)
	res, err := s.api.UploadCertificate(ctx, api.Upload{
		FileName:    name,
		ContentType: contentType,
		Content:     data,
		Progress:    progress,
	})
	if err != nil {
		return models.UploadResult{}, err
	}

	s.logger.Info("Certificate uploaded", "file", name, "id", res.ID)
	return res, nil
}

// DetectType returns the allowed content type matching data, or the detected type without parameters
func (s *Service) DetectType(name string, data []byte) string {
	mtype := mimetype.Detect(data)

	for _, allowed := range s.allowedTypes {
		if mtype.Is(allowed) {
			return allowed
		}
	}

	// Single column CSV is not recognised from the content
	if mtype.Is("text/plain") && strings.EqualFold(filepath.Ext(name), ".csv") && slices.Contains(s.allowedTypes, TypeCSV) {
		return TypeCSV
	}

	ct, _, _ := strings.Cut(mtype.String(), ";")
	return ct
}
