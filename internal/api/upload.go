package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"

	"github.com/nkiryanov/nuamclient/internal/models"
)

const pathCertificateUpload = "/api/certificados-upload/"

// Upload describes a file to send
type Upload struct {
	FileName    string
	ContentType string
	Content     []byte

	// Called as the body is sent, may be nil
	// Replayed requests report from zero again
	Progress func(models.UploadProgress)
}

// UploadCertificate sends the file as multipart form ("archivo" and "tipo_documento")
// Call is limited by ctx only, the client timeout is not applied
func (c *Client) UploadCertificate(ctx context.Context, u Upload) (models.UploadResult, error) {
	body, contentType, err := multipartBody(u)
	if err != nil {
		return models.UploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(pathCertificateUpload, nil), nil)
	if err != nil {
		return models.UploadResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", contentType)

	total := int64(len(body))
	req.ContentLength = total
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(newProgressReader(body, u.Progress)), nil
	}
	req.Body, _ = req.GetBody()

	var res models.UploadResult
	err = c.send(req, call{}, &res)
	return res, err
}

func multipartBody(u Upload) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("tipo_documento", models.DocumentTypeCertificate); err != nil {
		return nil, "", fmt.Errorf("failed to write form: %w", err)
	}

	contentType := u.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="archivo"; filename=%q`, u.FileName))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to write form: %w", err)
	}
	if _, err := part.Write(u.Content); err != nil {
		return nil, "", fmt.Errorf("failed to write form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to write form: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

type progressReader struct {
	r        *bytes.Reader
	total    int64
	progress func(models.UploadProgress)

	mu   sync.Mutex
	sent int64
}

func newProgressReader(body []byte, progress func(models.UploadProgress)) *progressReader {
	return &progressReader{
		r:        bytes.NewReader(body),
		total:    int64(len(body)),
		progress: progress,
	}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.progress != nil {
		p.mu.Lock()
		p.sent += int64(n)
		sent := p.sent
		p.mu.Unlock()

		p.progress(models.UploadProgress{Sent: sent, Total: p.total})
	}
	return n, err
}
