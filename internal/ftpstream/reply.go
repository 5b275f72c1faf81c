// Package ftpstream implements the FTP Control and Data Stream of §4.5:
// USER/PASS/TYPE/PASV/SIZE/REST/RETR/LIST/MLSD command sequencing over a
// netconn.Connection control channel, with a separately pooled data
// connection for PASV transfers. Grounded on the command/response and
// connection-lifecycle shape of nabbar-golib/ftpclient's Config/model split,
// reimplemented at raw reply-code granularity (rather than behind a
// ServerConn) because PASV address parsing, REST-without-350 handling, and
// the MLSD-falls-back-to-LIST-on-500/502 rule all require byte-level control
// that a high-level FTP client library doesn't expose.
package ftpstream

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

// Reply is a parsed FTP control-channel reply: a three-digit code plus the
// (possibly multi-line) message text.
type Reply struct {
	Code int
	Text string
}

// IsPositive reports whether code is in the 1xx/2xx/3xx ranges.
func (r Reply) IsPositive() bool { return r.Code < 400 }

// IsPermanentNegative reports a 5xx reply.
func (r Reply) IsPermanentNegative() bool { return r.Code >= 500 && r.Code < 600 }

// IsTransientNegative reports a 4xx reply.
func (r Reply) IsTransientNegative() bool { return r.Code >= 400 && r.Code < 500 }

// LineReader is the minimal read side ReadReply needs from a Connection.
type LineReader interface {
	ReadLine() (string, error)
}

// ReadReply reads one FTP reply, including RFC 959 multi-line continuations
// ("250-text...\r\n...\r\n250 text\r\n").
func ReadReply(r LineReader) (Reply, error) {
	line, err := r.ReadLine()
	if err != nil {
		return Reply{}, err
	}
	if len(line) < 4 {
		return Reply{}, &types.ProtocolError{Err: fmt.Errorf("malformed FTP reply: %q", line)}
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return Reply{}, &types.ProtocolError{Err: fmt.Errorf("malformed FTP reply code: %q", line)}
	}

	text := strings.TrimSpace(line[4:])
	if len(line) >= 4 && line[3] == '-' {
		marker := fmt.Sprintf("%d ", code)
		for {
			next, err := r.ReadLine()
			if err != nil {
				return Reply{}, err
			}
			text += "\n" + next
			if strings.HasPrefix(next, marker) {
				break
			}
		}
	}
	return Reply{Code: code, Text: text}, nil
}

// ParsePASV extracts the data-connection address from a PASV reply's
// "(h1,h2,h3,h4,p1,p2)" tuple, computing port = p1<<8 | p2 per §4.5. Each
// component is parsed independently so zero-padded octets (e.g. "000") are
// accepted, matching real-world server quirks.
func ParsePASV(text string) (host string, port int, err error) {
	open := strings.IndexByte(text, '(')
	closeIdx := strings.IndexByte(text, ')')
	if open < 0 || closeIdx < 0 || closeIdx < open {
		return "", 0, &types.ProtocolError{Err: fmt.Errorf("malformed PASV reply: %q", text)}
	}
	parts := strings.Split(text[open+1:closeIdx], ",")
	if len(parts) != 6 {
		return "", 0, &types.ProtocolError{Err: fmt.Errorf("malformed PASV address tuple: %q", text)}
	}
	nums := make([]int, 6)
	for i, p := range parts {
		n, convErr := strconv.Atoi(strings.TrimSpace(p))
		if convErr != nil {
			return "", 0, &types.ProtocolError{Err: fmt.Errorf("malformed PASV octet %q: %w", p, convErr)}
		}
		nums[i] = n
	}
	host = fmt.Sprintf("%d.%d.%d.%d", nums[0], nums[1], nums[2], nums[3])
	port = nums[4]<<8 | nums[5]
	return host, port, nil
}
