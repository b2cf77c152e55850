// Package sheet implements the manual spreadsheet import path.
//
// An import starts from a spreadsheet URL, from which the sheet id is
// extracted, then fetches the sheet's gviz JSON export and parses its rows
// into a partial handover dataset. The gviz payload is JSON wrapped in a
// JavaScript guard; the parser here is strict about that wrapper and fails
// on unexpected prefixes instead of slicing at fixed offsets.
//
// Row layout: column 0 = tower id, column 1 = flat id, column 2 = handover
// date, column 3 = actor. Each row marks the flat's key-handover stage
// completed.
package sheet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"handsync/internal/handover"
	"handsync/internal/remote"
)

// ParseError reports a malformed import payload or an unrecognizable
// spreadsheet URL.
type ParseError struct {
	// Reason describes what was malformed.
	Reason string
	// Err is the underlying error, if any.
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("import parse error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("import parse error: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Sheet id extraction patterns, tried in order. Covers the /d/<id> path
// form and the id=/key= query forms of legacy share links.
var sheetIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`[?&]key=([a-zA-Z0-9_-]+)`),
}

// ExtractSheetID pulls the sheet identifier out of a spreadsheet URL.
// The first matching pattern wins. An unrecognized URL is a *ParseError.
func ExtractSheetID(rawURL string) (string, error) {
	for _, re := range sheetIDPatterns {
		if m := re.FindStringSubmatch(rawURL); m != nil {
			return m[1], nil
		}
	}
	return "", &ParseError{Reason: fmt.Sprintf("no sheet id in URL %q", rawURL)}
}

// The gviz wrapper: a comment guard line followed by a setResponse call.
const (
	gvizGuard   = "/*O_o*/"
	gvizPrefix  = "google.visualization.Query.setResponse("
	gvizSuffix  = ");"
	gvizVersion = "0.6"
)

// gvizResponse is the subset of the gviz envelope the importer reads.
type gvizResponse struct {
	Version string `json:"version"`
	Status  string `json:"status"`
	Table   struct {
		Rows []struct {
			C []*gvizCell `json:"c"`
		} `json:"rows"`
	} `json:"table"`
}

type gvizCell struct {
	V any    `json:"v"`
	F string `json:"f"`
}

// gviz serializes dates as Date(year,month,day[,h,m,s]) with a 0-based month.
var gvizDateRe = regexp.MustCompile(`^Date\((\d+),(\d+),(\d+)(?:,(\d+),(\d+),(\d+))?\)$`)

// Row is one imported spreadsheet row.
type Row struct {
	Tower string
	Flat  string
	Date  string
	Actor string
}

// ParseGviz parses a gviz JSON-with-prefix payload into rows.
//
// The parser is strict about the declared wrapper format: the payload must
// carry the /*O_o*/ guard and the setResponse(...) envelope, the envelope
// version must match, and the response status must be ok. Anything else is
// a *ParseError - truncated responses and format changes fail loudly
// instead of being sliced apart at fixed offsets.
func ParseGviz(payload []byte) ([]Row, error) {
	text := strings.TrimSpace(string(payload))

	if !strings.HasPrefix(text, gvizGuard) {
		return nil, &ParseError{Reason: "missing gviz guard prefix"}
	}
	text = strings.TrimSpace(strings.TrimPrefix(text, gvizGuard))

	if !strings.HasPrefix(text, gvizPrefix) {
		return nil, &ParseError{Reason: "missing setResponse wrapper"}
	}
	if !strings.HasSuffix(text, gvizSuffix) {
		return nil, &ParseError{Reason: "truncated setResponse wrapper"}
	}
	inner := text[len(gvizPrefix) : len(text)-len(gvizSuffix)]

	var resp gvizResponse
	if err := json.Unmarshal([]byte(inner), &resp); err != nil {
		return nil, &ParseError{Reason: "undecodable response body", Err: err}
	}
	if resp.Version != gvizVersion {
		return nil, &ParseError{Reason: fmt.Sprintf("unsupported gviz version %q", resp.Version)}
	}
	if resp.Status != "ok" {
		return nil, &ParseError{Reason: fmt.Sprintf("gviz status %q", resp.Status)}
	}

	var rows []Row
	for _, r := range resp.Table.Rows {
		row := Row{
			Tower: cellString(r.C, 0),
			Flat:  cellString(r.C, 1),
			Date:  cellString(r.C, 2),
			Actor: cellString(r.C, 3),
		}
		if row.Tower == "" || row.Flat == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// cellString renders one cell as a string. The formatted value is
// preferred; raw Date(...) values are converted to ISO-8601.
func cellString(cells []*gvizCell, i int) string {
	if i >= len(cells) || cells[i] == nil {
		return ""
	}
	c := cells[i]
	if c.F != "" {
		return c.F
	}
	switch v := c.V.(type) {
	case nil:
		return ""
	case string:
		if iso := gvizDateToISO(v); iso != "" {
			return iso
		}
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// gvizDateToISO converts a Date(y,m,d[,h,m,s]) literal to RFC3339, or
// returns "" when the value is not a gviz date.
func gvizDateToISO(v string) string {
	m := gvizDateRe.FindStringSubmatch(v)
	if m == nil {
		return ""
	}
	num := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	hour, min, sec := 0, 0, 0
	if m[4] != "" {
		hour, min, sec = num(m[4]), num(m[5]), num(m[6])
	}
	// gviz months are 0-based.
	t := time.Date(num(m[1]), time.Month(num(m[2])+1), num(m[3]), hour, min, sec, 0, time.UTC)
	return t.Format(time.RFC3339)
}

// DatasetFromRows builds a partial dataset from imported rows: each row
// marks the flat's key-handover stage completed with the row's date and
// actor.
func DatasetFromRows(rows []Row) handover.Dataset {
	var ds handover.Dataset
	for _, r := range rows {
		ds.SetStage(r.Tower, r.Flat, handover.StageKeyHandover, &handover.StageStatus{
			Completed: true,
			Date:      r.Date,
			Actor:     r.Actor,
		})
	}
	return ds
}

// Fetcher retrieves gviz payloads for sheet ids.
type Fetcher struct {
	http *http.Client
	// baseURL is overridable for tests.
	baseURL string
}

// NewFetcher creates a fetcher with the given timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = remote.DefaultTimeout
	}
	return &Fetcher{
		http:    &http.Client{Timeout: timeout},
		baseURL: "https://docs.google.com/spreadsheets/d",
	}
}

// Fetch downloads the gviz JSON export for a sheet id. Non-2xx responses
// and network failures are *remote.TransportError, matching the sync path.
func (f *Fetcher) Fetch(ctx context.Context, sheetID string) ([]byte, error) {
	u := fmt.Sprintf("%s/%s/gviz/tq?tqx=out:json", f.baseURL, sheetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build import request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, &remote.TransportError{Op: "import", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &remote.TransportError{Op: "import", Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &remote.TransportError{Op: "import", Err: err}
	}
	return body, nil
}
