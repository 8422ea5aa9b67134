// Package media uploads files to the portal's media endpoint. The
// resulting chat message arrives later through the event channel, not
// in the HTTP response; callers get only the upload outcome here.
package media

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Upload describes one file to send.
type Upload struct {
	// Filename as presented to the server.
	Filename string
	// Content is the file payload. The uploader does not close it.
	Content io.Reader
	// ReplyToID optionally marks the upload as a reply target.
	ReplyToID string
}

// Uploader posts multipart uploads to the media endpoint.
type Uploader struct {
	url    string
	client *http.Client
}

// NewUploader creates an uploader against the given endpoint URL.
func NewUploader(url string, client *http.Client) *Uploader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Uploader{url: url, client: client}
}

// Send uploads one file with the given credential. A nil error means
// the server accepted the upload; the message itself will be pushed on
// the event channel once processed.
func (u *Uploader) Send(ctx context.Context, credential string, upload Upload) error {
	if upload.Filename == "" {
		return fmt.Errorf("media: filename is required")
	}
	if upload.Content == nil {
		return fmt.Errorf("media: content is required")
	}

	reader, writer := io.Pipe()
	form := multipart.NewWriter(writer)

	go func() {
		err := writeForm(form, upload)
		if closeErr := form.Close(); err == nil {
			err = closeErr
		}
		writer.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("media upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("media upload returned status %d", resp.StatusCode)
	}
	return nil
}

func writeForm(form *multipart.Writer, upload Upload) error {
	part, err := form.CreateFormFile("file", upload.Filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, upload.Content); err != nil {
		return err
	}
	if upload.ReplyToID != "" {
		if err := form.WriteField("replyTo", upload.ReplyToID); err != nil {
			return err
		}
	}
	return nil
}
