package smtpclient

import (
	"bytes"
	"encoding/base64"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var boundaryRE = regexp.MustCompile(`boundary="(folio-[0-9a-f]{32})"`)

func TestMessageBuild(t *testing.T) {
	t.Parallel()

	attachment := bytes.Repeat([]byte{0xAB}, 200)
	msg := &Message{
		From:           "sender@example.com",
		To:             "dest@kindle.com",
		Subject:        "convert",
		Body:           "Sent from Folio.",
		AttachmentName: "book.epub",
		AttachmentMIME: "application/epub+zip",
		Attachment:     attachment,
	}

	raw := string(msg.Build())

	match := boundaryRE.FindStringSubmatch(raw)
	require.NotNil(t, match, "message should declare a folio-prefixed boundary")
	boundary := match[1]

	assert.Contains(t, raw, "From: sender@example.com\r\n")
	assert.Contains(t, raw, "To: dest@kindle.com\r\n")
	assert.Contains(t, raw, "Subject: convert\r\n")
	assert.Contains(t, raw, "MIME-Version: 1.0\r\n")
	assert.Contains(t, raw, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.Contains(t, raw, "Sent from Folio.\r\n")
	assert.Contains(t, raw, `Content-Type: application/epub+zip; name="book.epub"`)
	assert.Contains(t, raw, `Content-Disposition: attachment; filename="book.epub"`)
	assert.True(t, strings.HasSuffix(raw, "--"+boundary+"--\r\n"))

	// Every line is CRLF-terminated; no bare LF sneaks in.
	assert.NotContains(t, strings.ReplaceAll(raw, "\r\n", ""), "\n")
}

func TestMessageBuild_Base64Wrapping(t *testing.T) {
	t.Parallel()

	attachment := bytes.Repeat([]byte{0x42}, 500)
	msg := &Message{
		AttachmentName: "book.mobi",
		AttachmentMIME: "application/x-mobipocket-ebook",
		Attachment:     attachment,
	}

	raw := string(msg.Build())

	_, after, found := strings.Cut(raw, "Content-Transfer-Encoding: base64\r\n")
	require.True(t, found)
	_, payload, found := strings.Cut(after, "\r\n\r\n")
	require.True(t, found)
	payload, _, found = strings.Cut(payload, "--folio-")
	require.True(t, found)

	var encoded strings.Builder
	for _, line := range strings.Split(strings.TrimRight(payload, "\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(line), base64LineLength)
		encoded.WriteString(line)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded.String())
	require.NoError(t, err)
	assert.Equal(t, attachment, decoded)
}

func TestMessageBuild_DistinctBoundaries(t *testing.T) {
	t.Parallel()

	msg := &Message{AttachmentName: "a", AttachmentMIME: "text/plain"}
	first := boundaryRE.FindStringSubmatch(string(msg.Build()))
	second := boundaryRE.FindStringSubmatch(string(msg.Build()))
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotEqual(t, first[1], second[1])
}

func TestEncodeFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain.epub", encodeFilename("plain.epub"))
	assert.Equal(t, `say \"hi\".epub`, encodeFilename(`say "hi".epub`))
	// Non-ASCII names get MIME word encoding.
	assert.Contains(t, encodeFilename("bücher.epub"), "=?UTF-8?q?")
}

func TestMessageBuild_QEncodesSubject(t *testing.T) {
	t.Parallel()

	msg := &Message{Subject: "émission", AttachmentName: "a", AttachmentMIME: "text/plain"}
	raw := string(msg.Build())
	assert.Contains(t, raw, "Subject: =?UTF-8?q?")
}
