package apiclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
)

// FormData is a multipart/form-data body. It can be sent once.
type FormData struct {
	buf    bytes.Buffer
	w      *multipart.Writer
	closed bool
}

func NewFormData() *FormData {
	f := &FormData{}
	f.w = multipart.NewWriter(&f.buf)
	return f
}

func (f *FormData) AddField(name, value string) error {
	if f.closed {
		return errors.New("form data already sent")
	}
	return f.w.WriteField(name, value)
}

// AddFile appends a file part. An empty contentType falls back to
// application/octet-stream.
func (f *FormData) AddFile(field, filename, contentType string, r io.Reader) error {
	if f.closed {
		return errors.New("form data already sent")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)

	part, err := f.w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("failed to write form part: %w", err)
	}
	return nil
}

// ContentType includes the multipart boundary.
func (f *FormData) ContentType() string {
	return f.w.FormDataContentType()
}

func (f *FormData) reader() (io.Reader, error) {
	if !f.closed {
		if err := f.w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close form: %w", err)
		}
		f.closed = true
	}
	return bytes.NewReader(f.buf.Bytes()), nil
}
