package smtpclient

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Response is one complete SMTP reply: one or more CRLF-terminated lines,
// each starting with a three-digit code followed by '-' (continuation) or
// ' ' (final).
type Response struct {
	Code  int
	Lines []string
}

// Text joins the reply lines for error reporting.
func (r *Response) Text() string {
	return strings.Join(r.Lines, " ")
}

// IsError reports whether the reply's first digit is 4 or 5.
func (r *Response) IsError() bool {
	return r.Code >= 400
}

// readResponse consumes lines from the reader until a final-coded line
// arrives. Malformed lines abort the conversation.
func readResponse(reader *bufio.Reader) (*Response, error) {
	resp := &Response{}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		if len(line) < 3 {
			return nil, errors.Errorf("smtp: malformed response line %q", line)
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return nil, errors.Errorf("smtp: malformed response code in %q", line)
		}

		if resp.Code == 0 {
			resp.Code = code
		} else if resp.Code != code {
			return nil, errors.Errorf("smtp: response code changed mid-reply: %d then %d", resp.Code, code)
		}

		text := ""
		final := true
		if len(line) > 3 {
			switch line[3] {
			case '-':
				final = false
			case ' ':
			default:
				return nil, errors.Errorf("smtp: malformed response separator in %q", line)
			}
			text = line[4:]
		}
		resp.Lines = append(resp.Lines, text)

		if final {
			return resp, nil
		}
	}
}
