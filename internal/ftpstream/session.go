package ftpstream

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mirrorctl/mirrorctl/internal/netconn"
	"github.com/mirrorctl/mirrorctl/internal/types"
)

// Entry is one parsed LIST/MLSD directory listing row.
type Entry struct {
	Name string
	Type string // file, dir, cdir, pdir, unknown
	Size int64
}

// Session drives one FTP control connection for the lifetime of a single
// authenticated login, per §4.5.
type Session struct {
	conn       *netconn.Connection
	authed     bool
	binaryMode bool
}

// NewSession wraps an already-connected control Connection. The caller must
// have already read the initial 220 greeting via Greet.
func NewSession(conn *netconn.Connection) *Session {
	return &Session{conn: conn}
}

// Greet reads the server's initial 220 reply.
func Greet(conn *netconn.Connection) (Reply, error) {
	reply, err := ReadReply(conn)
	if err != nil {
		return Reply{}, err
	}
	if reply.Code != 220 {
		return reply, &types.AuthenticationError{Err: fmt.Errorf("unexpected greeting: %d %s", reply.Code, reply.Text)}
	}
	return reply, nil
}

func (s *Session) command(cmd string) (Reply, error) {
	if _, err := s.conn.Write([]byte(cmd+"\r\n"), true); err != nil {
		return Reply{}, err
	}
	return ReadReply(s.conn)
}

// Login performs USER/PASS and, on success, TYPE I to fix binary transfer
// mode for the rest of the session.
func (s *Session) Login(ctx context.Context, user, password string) error {
	reply, err := s.command("USER " + user)
	if err != nil {
		return err
	}
	if reply.Code == 230 {
		// server allows anonymous login without a password challenge
	} else if reply.Code == 331 {
		reply, err = s.command("PASS " + password)
		if err != nil {
			return err
		}
		if reply.Code != 230 {
			return &types.AuthenticationError{Err: fmt.Errorf("PASS rejected: %d %s", reply.Code, reply.Text)}
		}
	} else {
		return &types.AuthenticationError{Err: fmt.Errorf("USER rejected: %d %s", reply.Code, reply.Text)}
	}

	reply, err = s.command("TYPE I")
	if err != nil {
		return err
	}
	if reply.Code != 200 {
		return &types.ProtocolError{Err: fmt.Errorf("TYPE I rejected: %d %s", reply.Code, reply.Text)}
	}
	s.binaryMode = true
	s.authed = true
	return nil
}

// PASV issues PASV and returns the data connection's (host, port).
func (s *Session) PASV() (host string, port int, err error) {
	reply, err := s.command("PASV")
	if err != nil {
		return "", 0, err
	}
	if reply.Code != 227 {
		return "", 0, &types.ProtocolError{Err: fmt.Errorf("PASV rejected: %d %s", reply.Code, reply.Text)}
	}
	return ParsePASV(reply.Text)
}

// Size issues SIZE and returns the remote file size, or (0, false) if the
// server doesn't support it or the path doesn't exist.
func (s *Session) Size(path string) (int64, bool) {
	reply, err := s.command("SIZE " + path)
	if err != nil || reply.Code != 213 {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(reply.Text), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// restOffset sends REST if offset > 0. Per the §9 Open Question resolution,
// a REST reply other than 350 abandons the restart attempt entirely: the
// caller should issue a fresh RETR from offset 0 rather than trusting the
// server's subsequent RETR reply to still honor the seek.
func (s *Session) restOffset(offset int64) (restarted bool, err error) {
	if offset <= 0 {
		return false, nil
	}
	reply, err := s.command("REST " + strconv.FormatInt(offset, 10))
	if err != nil {
		return false, err
	}
	return reply.Code == 350, nil
}

// RetrResult carries the outcome of opening a RETR data transfer.
type RetrResult struct {
	Body         io.ReadCloser
	ResumedAtOff int64 // 0 if the transfer started from the beginning
}

// Retr opens a data connection (via dialData) and issues REST (if offset>0)
// followed by RETR, returning a reader over the file content starting at
// the position the server actually honored.
func (s *Session) Retr(ctx context.Context, path string, offset int64, dialData func(ctx context.Context, host string, port int) (io.ReadWriteCloser, error)) (*RetrResult, error) {
	host, port, err := s.PASV()
	if err != nil {
		return nil, err
	}

	resumedAt := int64(0)
	if offset > 0 {
		restarted, restErr := s.restOffset(offset)
		if restErr != nil {
			return nil, restErr
		}
		if restarted {
			resumedAt = offset
		}
		// restarted == false: abandon the restart and fall through to a
		// plain RETR from the beginning, per the resolved Open Question.
	}

	data, err := dialData(ctx, host, port)
	if err != nil {
		return nil, err
	}

	reply, err := s.command("RETR " + path)
	if err != nil {
		_ = data.Close()
		return nil, err
	}
	if reply.Code != 150 && reply.Code != 125 {
		_ = data.Close()
		if reply.Code >= 500 && reply.Code < 600 {
			return nil, &types.ServerError{StatusCode: reply.Code}
		}
		return nil, &types.ProtocolError{Err: fmt.Errorf("RETR rejected: %d %s", reply.Code, reply.Text)}
	}

	return &RetrResult{Body: &dataTransfer{rwc: data, session: s}, ResumedAtOff: resumedAt}, nil
}

// dataTransfer wraps the data connection so Close() also drains the
// control channel's final 226 reply, completing the FTP transfer protocol.
type dataTransfer struct {
	rwc     io.ReadWriteCloser
	session *Session
}

func (d *dataTransfer) Read(p []byte) (int, error) { return d.rwc.Read(p) }

func (d *dataTransfer) Close() error {
	err := d.rwc.Close()
	reply, replyErr := ReadReply(d.session.conn)
	if replyErr != nil {
		return replyErr
	}
	if reply.Code != 226 && reply.Code != 250 {
		return &types.ProtocolError{Err: fmt.Errorf("transfer not confirmed: %d %s", reply.Code, reply.Text)}
	}
	return err
}

// List issues MLSD, falling back to LIST on a 500/502 "command not
// understood" reply per §4.5, and parses the resulting listing.
func (s *Session) List(ctx context.Context, path string, dialData func(ctx context.Context, host string, port int) (io.ReadWriteCloser, error)) ([]Entry, error) {
	host, port, err := s.PASV()
	if err != nil {
		return nil, err
	}
	data, err := dialData(ctx, host, port)
	if err != nil {
		return nil, err
	}

	cmd := "MLSD " + path
	usedMLSD := true
	reply, err := s.command(cmd)
	if err != nil {
		_ = data.Close()
		return nil, err
	}
	if reply.Code == 500 || reply.Code == 502 {
		_ = data.Close()
		usedMLSD = false

		host, port, err = s.PASV()
		if err != nil {
			return nil, err
		}
		data, err = dialData(ctx, host, port)
		if err != nil {
			return nil, err
		}
		reply, err = s.command("LIST " + path)
		if err != nil {
			_ = data.Close()
			return nil, err
		}
	}
	if reply.Code != 150 && reply.Code != 125 {
		_ = data.Close()
		return nil, &types.ProtocolError{Err: fmt.Errorf("listing rejected: %d %s", reply.Code, reply.Text)}
	}

	raw, err := io.ReadAll(data)
	closeErr := data.Close()
	if err != nil {
		return nil, err
	}
	finalReply, err := ReadReply(s.conn)
	if err != nil {
		return nil, err
	}
	if finalReply.Code != 226 && finalReply.Code != 250 {
		return nil, &types.ProtocolError{Err: fmt.Errorf("listing not confirmed: %d %s", finalReply.Code, finalReply.Text)}
	}
	if closeErr != nil {
		return nil, closeErr
	}

	lines := strings.Split(strings.TrimRight(string(raw), "\r\n"), "\n")
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		var e Entry
		if usedMLSD {
			e, err = parseMLSDLine(line)
		} else {
			e, err = parseUnixListLine(line)
		}
		if err != nil {
			continue // skip unparsable listing rows rather than aborting
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseMLSDLine(line string) (Entry, error) {
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return Entry{}, &types.ProtocolError{Err: fmt.Errorf("malformed MLSD line: %q", line)}
	}
	facts, name := line[:idx], line[idx+1:]
	e := Entry{Name: name, Type: "file"}
	for _, fact := range strings.Split(facts, ";") {
		kv := strings.SplitN(fact, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "type":
			e.Type = strings.ToLower(kv[1])
		case "size":
			if n, err := strconv.ParseInt(kv[1], 10, 64); err == nil {
				e.Size = n
			}
		}
	}
	return e, nil
}

// parseUnixListLine parses the common "-rwxr-xr-x 1 owner group 1234 Jan 1
// 00:00 name" LIST format emitted by most FTP servers.
func parseUnixListLine(line string) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return Entry{}, &types.ProtocolError{Err: fmt.Errorf("malformed LIST line: %q", line)}
	}
	e := Entry{Name: strings.Join(fields[8:], " ")}
	if strings.HasPrefix(fields[0], "d") {
		e.Type = "dir"
	} else {
		e.Type = "file"
	}
	if size, err := strconv.ParseInt(fields[4], 10, 64); err == nil {
		e.Size = size
	}
	return e, nil
}
