package mimeparse

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/foxcpp/tempmailgw/internal/gatewayerr"
	"github.com/foxcpp/tempmailgw/internal/logging"
)

// Limits bounds the adapter enforces that the underlying library does
// not (§4.D).
type Limits struct {
	MaxAttachmentBytes int
	MaxHTMLBytes       int
}

func (l Limits) withDefaults() Limits {
	if l.MaxAttachmentBytes <= 0 {
		l.MaxAttachmentBytes = 25 * 1024 * 1024
	}
	if l.MaxHTMLBytes <= 0 {
		l.MaxHTMLBytes = 5 * 1024 * 1024
	}
	return l
}

// Parse turns raw RFC 5322 bytes into a normalized Record tagged with
// uid. It never fails on a well-formed-enough message; parsing errors
// from individual parts are logged and the part is skipped rather than
// aborting the whole message.
func Parse(raw []byte, uid string, limits Limits, log logging.Logger) (Record, error) {
	limits = limits.withDefaults()

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Record{}, gatewayerr.Wrap(gatewayerr.KindValidation, "failed to parse message", err)
	}
	defer mr.Close()

	rec := Record{
		UID:        uid,
		SizeBytes:  len(raw),
		ReceivedAt: time.Now(),
		Headers:    make(map[string]string, len(allowedHeaders)),
	}

	for _, key := range allowedHeaders {
		if v := mr.Header.Get(key); v != "" {
			rec.Headers[key] = v
		}
	}

	if msgID, err := mr.Header.MessageID(); err == nil && msgID != "" {
		rec.MessageID = msgID
	}
	if subject, err := mr.Header.Subject(); err == nil {
		rec.Subject = subject
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		rec.ReceivedAt = date
	}

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		rec.Sender = Address{Name: from[0].Name, Address: from[0].Address}
	}
	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, a := range to {
			rec.Recipients = append(rec.Recipients, Address{Name: a.Name, Address: a.Address})
		}
	}

	var droppedAttachments int
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Debugf("mimeparse: stopping part iteration for uid %s: %v", uid, err)
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			switch {
			case strings.HasPrefix(contentType, "text/html"):
				body, err := readBounded(part.Body, limits.MaxHTMLBytes)
				if err != nil {
					log.Debugf("mimeparse: html part for uid %s exceeds %d bytes, dropping body", uid, limits.MaxHTMLBytes)
					continue
				}
				rec.HTMLBody = string(body)
			case strings.HasPrefix(contentType, "text/plain"), contentType == "":
				body, err := io.ReadAll(part.Body)
				if err != nil {
					continue
				}
				rec.TextBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			if filename == "" {
				filename = "unnamed"
			}
			contentType, _, _ := h.ContentType()
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			contentID := h.Get("Content-Id")

			body, err := readBounded(part.Body, limits.MaxAttachmentBytes)
			if err != nil {
				droppedAttachments++
				continue
			}

			sum := sha256.Sum256(body)
			rec.Attachments = append(rec.Attachments, Attachment{
				Filename:    filename,
				ContentType: contentType,
				SizeBytes:   len(body),
				ContentID:   strings.Trim(contentID, "<>"),
				Checksum:    hex.EncodeToString(sum[:]),
				Content:     body,
			})
		}
	}

	if droppedAttachments > 0 {
		log.Debugf("mimeparse: dropped %d oversize attachment(s) for uid %s", droppedAttachments, uid)
	}

	return rec, nil
}

// readBounded reads at most limit+1 bytes, returning an error if the
// part turns out to exceed limit — the +1 lets it detect an over-size
// part without buffering the whole thing first.
func readBounded(r io.Reader, limit int) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > limit {
		return nil, gatewayerr.Validation("part exceeds %d byte limit", limit)
	}
	return data, nil
}
