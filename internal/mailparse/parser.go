package mailparse

import (
	"io"
	"mime"
	"os"

	"mailwatch/internal/models"

	"github.com/emersion/go-message/mail"
)

// Fallbacks shown when a header is missing or cannot be decoded; the
// notification still fires.
const (
	UnknownSender  = "Unknown Sender (parse error)"
	UnknownSubject = "Unknown Subject (parse error)"
)

// ParseFile reads a message file and extracts the metadata shown in a
// notification.
func ParseFile(path string) (models.MailMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.MailMetadata{}, err
	}
	defer func() {
		_ = f.Close()
	}()

	meta, err := Parse(f)
	if err != nil {
		return meta, err
	}
	meta.Path = path
	return meta, nil
}

// Parse extracts the From and Subject headers from a raw message. A header
// that is absent or undecodable yields its fallback value rather than an
// error.
func Parse(r io.Reader) (models.MailMetadata, error) {
	mr, err := mail.CreateReader(r)
	if mr == nil {
		return models.MailMetadata{}, err
	}

	header := mr.Header

	meta := models.MailMetadata{
		From:    UnknownSender,
		Subject: UnknownSubject,
	}

	if from, err := DecodeHeader(header.Get("From")); err == nil && from != "" {
		meta.From = from
	}
	if subject, err := DecodeHeader(header.Get("Subject")); err == nil && subject != "" {
		meta.Subject = subject
	}

	return meta, nil
}

// DecodeHeader decodes MIME-encoded headers (e.g., "=?UTF-8?B?...?=") to plain text
func DecodeHeader(encoded string) (string, error) {
	decoder := new(mime.WordDecoder)
	decoded, err := decoder.DecodeHeader(encoded)
	if err != nil {
		return "", err
	}
	return decoded, nil
}
