// Package attachment decodes base64 encoded PDF documents sent with invoices.
package attachment

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"

	"github.com/Pandentia/mailrelay/mailrelay"
	"github.com/google/uuid"
)

// ContentTypePDF is the content type of decoded invoices.
const ContentTypePDF = "application/pdf"

const dataURLPrefix = "data:" + ContentTypePDF + ";base64,"

var whitespace = regexp.MustCompile(`\s+`)

// DecodePDF decodes a base64 PDF, optionally given as a data URL, into an
// attachment. The attachment is named after the subject with whitespace
// removed; a random name is used when nothing remains.
func DecodePDF(encoded, subject string) (mailrelay.Attachment, error) {
	data := strings.TrimPrefix(strings.TrimSpace(encoded), dataURLPrefix)
	data = whitespace.ReplaceAllString(data, "")
	if data == "" {
		return mailrelay.Attachment{}, &mailrelay.AttachmentError{Cause: errors.New("no data")}
	}

	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		// accept unpadded input as well
		var rawErr error
		decoded, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
		if rawErr != nil {
			return mailrelay.Attachment{}, &mailrelay.AttachmentError{Cause: err}
		}
	}

	return mailrelay.Attachment{
		Filename:    Filename(subject),
		ContentType: ContentTypePDF,
		Data:        decoded,
	}, nil
}

// Filename returns the attachment name used for an invoice with the given subject.
func Filename(subject string) string {
	name := whitespace.ReplaceAllString(subject, "")
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', ':', '*', '?', '<', '>', '|':
			return -1
		}
		return r
	}, name)
	if name == "" {
		name = uuid.NewString()
	}
	return name + ".pdf"
}
