package smtpclient

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"mime"
	"strings"
)

// base64LineLength is the wrap width for attachment payloads.
const base64LineLength = 76

// Message is one outgoing mail with a single attachment.
type Message struct {
	From           string
	To             string
	Subject        string
	Body           string
	AttachmentName string
	AttachmentMIME string
	Attachment     []byte
}

// Build renders the message as a multipart/mixed MIME document with CRLF
// line endings, ready for the DATA phase. A fresh random boundary is used
// per message.
func (m *Message) Build() []byte {
	boundary := newBoundary()

	var buf bytes.Buffer
	writeHeader := func(key, value string) {
		buf.WriteString(key)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}

	writeHeader("From", m.From)
	writeHeader("To", m.To)
	writeHeader("Subject", mime.QEncoding.Encode("UTF-8", m.Subject))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", `multipart/mixed; boundary="`+boundary+`"`)
	buf.WriteString("\r\n")

	// Text part.
	buf.WriteString("--" + boundary + "\r\n")
	writeHeader("Content-Type", "text/plain; charset=UTF-8")
	writeHeader("Content-Transfer-Encoding", "7bit")
	buf.WriteString("\r\n")
	buf.WriteString(m.Body)
	buf.WriteString("\r\n")

	// Attachment part.
	filename := encodeFilename(m.AttachmentName)
	buf.WriteString("--" + boundary + "\r\n")
	writeHeader("Content-Type", fmt.Sprintf(`%s; name="%s"`, m.AttachmentMIME, filename))
	writeHeader("Content-Transfer-Encoding", "base64")
	writeHeader("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	buf.WriteString("\r\n")
	writeWrappedBase64(&buf, m.Attachment)

	buf.WriteString("--" + boundary + "--\r\n")

	return buf.Bytes()
}

// encodeFilename quotes-escapes the attachment filename and MIME-encodes it
// when it contains non-ASCII characters.
func encodeFilename(name string) string {
	encoded := mime.QEncoding.Encode("UTF-8", name)
	encoded = strings.ReplaceAll(encoded, `\`, `\\`)
	return strings.ReplaceAll(encoded, `"`, `\"`)
}

// writeWrappedBase64 emits the payload wrapped at 76 base64 characters per
// line.
func writeWrappedBase64(buf *bytes.Buffer, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := base64LineLength
		if n > len(encoded) {
			n = len(encoded)
		}
		buf.WriteString(encoded[:n])
		buf.WriteString("\r\n")
		encoded = encoded[n:]
	}
}

func newBoundary() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return "folio-" + hex.EncodeToString(b)
}
