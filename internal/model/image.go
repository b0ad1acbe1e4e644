package model

import "io"

// Image is an annotated clinical image as listed by the image editor service.
type Image struct {
	ImageID        ID     `json:"image_id"`
	Filename       string `json:"filename"`
	MimeType       string `json:"mime_type"`
	PatientID      ID     `json:"patient_id"`
	PatientName    string `json:"patient_name"`
	PractitionerID ID     `json:"practitioner_id"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	ThumbData      string `json:"thumb_data,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

type ImageUpload struct {
	Filename       string
	MimeType       string
	PatientID      string
	PatientName    string
	PractitionerID string
	Content        io.Reader
}

type ImageUpdate struct {
	Filename string
	MimeType string
	Width    int
	Height   int
	Content  io.Reader
}

// ImageContent is the raw bitmap streamed back to the browser.
type ImageContent struct {
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
}
