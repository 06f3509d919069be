package smtpclient

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFrom(s string) (*Response, error) {
	return readResponse(bufio.NewReader(strings.NewReader(s)))
}

func TestReadResponse_SingleLine(t *testing.T) {
	t.Parallel()

	resp, err := readFrom("250 OK\r\n")
	require.NoError(t, err)
	assert.Equal(t, 250, resp.Code)
	assert.Equal(t, []string{"OK"}, resp.Lines)
}

func TestReadResponse_Multiline(t *testing.T) {
	t.Parallel()

	resp, err := readFrom("250-fixture greets you\r\n250-AUTH LOGIN\r\n250 STARTTLS\r\n")
	require.NoError(t, err)
	assert.Equal(t, 250, resp.Code)
	assert.Equal(t, []string{"fixture greets you", "AUTH LOGIN", "STARTTLS"}, resp.Lines)
	assert.Equal(t, "fixture greets you AUTH LOGIN STARTTLS", resp.Text())
}

func TestReadResponse_BareCode(t *testing.T) {
	t.Parallel()

	resp, err := readFrom("354\r\n")
	require.NoError(t, err)
	assert.Equal(t, 354, resp.Code)
	assert.Equal(t, []string{""}, resp.Lines)
}

func TestReadResponse_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"non-numeric code", "2x0 hello\r\n"},
		{"too short", "25\r\n"},
		{"bad separator", "250xhello\r\n"},
		{"code changes mid-reply", "250-first\r\n354 second\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := readFrom(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestResponseIsError(t *testing.T) {
	t.Parallel()

	assert.False(t, (&Response{Code: 250}).IsError())
	assert.False(t, (&Response{Code: 354}).IsError())
	assert.True(t, (&Response{Code: 421}).IsError())
	assert.True(t, (&Response{Code: 550}).IsError())
}
