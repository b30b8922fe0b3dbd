package batchwire

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/elnormous/contenttype"
)

var (
	// ErrNoBoundary is returned when none of the candidate boundaries (nor a
	// sniffed one) delimits the body.
	ErrNoBoundary = errors.New("batchwire: no boundary delimits the body")

	// ErrMissingStatusLine marks a part that ended before its embedded HTTP
	// status line.
	ErrMissingStatusLine = errors.New("batchwire: part has no status line")
)

// Response is one embedded HTTP response of a batch reply. Err is set when the
// part could not be parsed; siblings are unaffected.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Err    error
}

// Decode parses a multipart/mixed batch reply. Candidates are tried in order and
// the first boundary whose delimiter occurs in body wins; when none matches, the
// boundary is sniffed from the first delimiter line. Nested multipart sections
// (changesets) are flattened in order.
func Decode(body []byte, candidates ...string) ([]Response, error) {
	boundary := pickBoundary(body, candidates)
	if boundary == "" {
		return nil, ErrNoBoundary
	}

	p := &parser{boundary: boundary}
	for _, line := range splitLines(body) {
		if p.state == stateDone {
			break
		}
		p.feed(line)
	}
	p.finish()
	return p.out, nil
}

// Sniff returns the boundary named by the first delimiter line of body, or "".
func Sniff(body []byte) string {
	for _, line := range splitLines(body) {
		line = strings.TrimRight(line, " \t")
		if len(line) > 2 && strings.HasPrefix(line, "--") {
			return strings.TrimSuffix(line[2:], "--")
		}
	}
	return ""
}

func pickBoundary(body []byte, candidates []string) string {
	for _, c := range candidates {
		if c != "" && bytes.Contains(body, []byte("--"+c)) {
			return c
		}
	}
	return Sniff(body)
}

func splitLines(body []byte) []string {
	lines := strings.Split(string(body), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

type state int

const (
	// stateBoundary skips the preamble until the first delimiter.
	stateBoundary state = iota
	// statePartHeaders reads the MIME headers of a part.
	statePartHeaders
	// stateStatusLine waits for the embedded "HTTP/1.1 <code> <reason>" line.
	stateStatusLine
	// stateHTTPHeaders reads the embedded response headers.
	stateHTTPHeaders
	// stateBody collects the embedded response body.
	stateBody
	// stateNested collects a nested multipart section verbatim.
	stateNested
	stateDone
)

type parser struct {
	boundary string
	state    state
	out      []Response

	cur            Response
	body           []string
	nested         bool
	nestedBoundary string
	nestedLines    []string
}

func (p *parser) delimiter(line string) (isDelimiter, isClose bool) {
	switch strings.TrimRight(line, " \t") {
	case "--" + p.boundary:
		return true, false
	case "--" + p.boundary + "--":
		return true, true
	}
	return false, false
}

func (p *parser) feed(line string) {
	delim, closing := p.delimiter(line)

	if p.state == stateBoundary {
		if closing {
			p.state = stateDone
		} else if delim {
			p.startPart()
		}
		return
	}

	if delim {
		p.endPart()
		if closing {
			p.state = stateDone
		} else {
			p.startPart()
		}
		return
	}

	switch p.state {
	case statePartHeaders:
		if line == "" {
			if p.nested {
				p.state = stateNested
			} else {
				p.state = stateStatusLine
			}
			return
		}
		p.partHeader(line)
	case stateStatusLine:
		if strings.TrimSpace(line) == "" {
			return
		}
		status, err := parseStatusLine(line)
		if err != nil {
			p.cur.Err = err
			p.body = append(p.body, line)
			p.state = stateBody
			return
		}
		p.cur.Status = status
		p.state = stateHTTPHeaders
	case stateHTTPHeaders:
		if line == "" {
			p.state = stateBody
			return
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			p.cur.Header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	case stateBody:
		p.body = append(p.body, line)
	case stateNested:
		p.nestedLines = append(p.nestedLines, line)
	}
}

func (p *parser) partHeader(line string) {
	k, v, ok := strings.Cut(line, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(k), "Content-Type") {
		return
	}
	mt := contenttype.NewMediaType(strings.TrimSpace(v))
	if strings.EqualFold(mt.Type, "multipart") {
		p.nested = true
		p.nestedBoundary = mt.Parameters["boundary"]
	}
}

func (p *parser) startPart() {
	p.cur = Response{Header: http.Header{}}
	p.body = nil
	p.nested = false
	p.nestedBoundary = ""
	p.nestedLines = nil
	p.state = statePartHeaders
}

func (p *parser) endPart() {
	switch p.state {
	case stateNested:
		inner, err := Decode([]byte(strings.Join(p.nestedLines, crlf)), p.nestedBoundary)
		if err != nil {
			p.out = append(p.out, Response{Header: http.Header{}, Err: err})
			return
		}
		p.out = append(p.out, inner...)
	case statePartHeaders, stateStatusLine:
		if p.nested {
			p.out = append(p.out, Response{Header: http.Header{}, Err: ErrNoBoundary})
			return
		}
		p.cur.Err = ErrMissingStatusLine
		p.out = append(p.out, p.cur)
	default:
		p.cur.Body = []byte(strings.TrimRight(strings.Join(p.body, crlf), "\r\n"))
		p.out = append(p.out, p.cur)
	}
}

// finish flushes a final part that was not closed by a delimiter.
func (p *parser) finish() {
	switch p.state {
	case stateBoundary, stateDone:
		return
	}
	p.endPart()
	p.state = stateDone
}

func parseStatusLine(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0, fmt.Errorf("batchwire: malformed status line %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 100 || code > 599 {
		return 0, fmt.Errorf("batchwire: malformed status code in %q", line)
	}
	return code, nil
}
