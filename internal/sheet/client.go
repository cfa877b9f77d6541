package sheet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fieldreport.org/internal/obs"
)

const defaultTimeout = 10 * time.Second

// Client talks JSON over HTTP to the spreadsheet provider. Every call is
// paced through the configured Pacer before it leaves the process.
type Client struct {
	baseURL    string
	token      string
	pacer      Pacer
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPacer installs the outbound-call pacer.
func WithPacer(p Pacer) ClientOption {
	return func(c *Client) {
		if p != nil {
			c.pacer = p
		}
	}
}

// WithHTTPClient overrides the transport, mostly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a provider client with sensible defaults.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		pacer:   NopPacer{},
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open implements Service.
func (c *Client) Open(ctx context.Context, name string) (Document, error) {
	if err := c.do(ctx, http.MethodGet, c.docPath(name), nil, nil); err != nil {
		return nil, fmt.Errorf("open %q: %w", name, err)
	}
	return &remoteDocument{client: c, name: name}, nil
}

// Copy implements Service.
func (c *Client) Copy(ctx context.Context, name, title, folderID string) error {
	body := map[string]string{"title": title, "folder": folderID}
	if err := c.do(ctx, http.MethodPost, c.docPath(name)+":copy", body, nil); err != nil {
		return fmt.Errorf("copy %q: %w", name, err)
	}
	return nil
}

func (c *Client) docPath(name string) string {
	return "/documents/" + url.PathEscape(name)
}

// do performs one paced HTTP call and maps the response status onto the
// error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	op := method + " " + path
	res, err := c.httpClient.Do(req)
	if err != nil {
		obs.ObserveSheetCall(method, "network_error")
		return Transient(err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		obs.ObserveSheetCall(method, "not_found")
		return ErrNotFound
	case res.StatusCode == http.StatusTooManyRequests:
		obs.ObserveSheetCall(method, "quota")
		return ErrQuota
	case res.StatusCode >= 500:
		obs.ObserveSheetCall(method, "server_error")
		return Transient(fmt.Errorf("%s: status %d", op, res.StatusCode))
	case res.StatusCode >= 400:
		obs.ObserveSheetCall(method, "client_error")
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(res.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", op, apiErr.Error)
		}
		return fmt.Errorf("%s: status %d", op, res.StatusCode)
	}

	obs.ObserveSheetCall(method, "ok")
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// remoteDocument adapts one provider document to the Document interface.
type remoteDocument struct {
	client *Client
	name   string
}

func (d *remoteDocument) Name() string { return d.name }

func (d *remoteDocument) Worksheets(ctx context.Context) ([]string, error) {
	var resp struct {
		Worksheets []string `json:"worksheets"`
	}
	if err := d.client.do(ctx, http.MethodGet, d.path()+"/worksheets", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Worksheets, nil
}

func (d *remoteDocument) Worksheet(ctx context.Context, title string) (Worksheet, error) {
	if err := d.client.do(ctx, http.MethodGet, d.wsPath(title), nil, nil); err != nil {
		return nil, err
	}
	return &remoteWorksheet{doc: d, title: title}, nil
}

func (d *remoteDocument) AddWorksheet(ctx context.Context, title string, headers []string) (Worksheet, error) {
	body := map[string]any{"title": title, "headers": headers}
	if err := d.client.do(ctx, http.MethodPost, d.path()+"/worksheets", body, nil); err != nil {
		return nil, err
	}
	return &remoteWorksheet{doc: d, title: title}, nil
}

func (d *remoteDocument) path() string {
	return d.client.docPath(d.name)
}

func (d *remoteDocument) wsPath(title string) string {
	return d.path() + "/worksheets/" + url.PathEscape(title)
}

// remoteWorksheet adapts one provider worksheet.
type remoteWorksheet struct {
	doc   *remoteDocument
	title string
}

func (w *remoteWorksheet) Title() string { return w.title }

func (w *remoteWorksheet) Values(ctx context.Context) ([][]string, error) {
	var resp struct {
		Values [][]string `json:"values"`
	}
	if err := w.doc.client.do(ctx, http.MethodGet, w.path()+"/values", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (w *remoteWorksheet) Rows(ctx context.Context) ([]Row, error) {
	values, err := w.Values(ctx)
	if err != nil {
		return nil, err
	}
	return RowsFromValues(values), nil
}

func (w *remoteWorksheet) Append(ctx context.Context, values []string) error {
	body := map[string]any{"values": values}
	return w.doc.client.do(ctx, http.MethodPost, w.path()+":append", body, nil)
}

func (w *remoteWorksheet) Clear(ctx context.Context) error {
	return w.doc.client.do(ctx, http.MethodPost, w.path()+":clear", nil, nil)
}

func (w *remoteWorksheet) WriteAll(ctx context.Context, values [][]string) error {
	body := map[string]any{"values": values}
	return w.doc.client.do(ctx, http.MethodPut, w.path()+"/values", body, nil)
}

func (w *remoteWorksheet) FindCell(ctx context.Context, value string) (Cell, error) {
	var resp struct {
		Row int `json:"row"`
		Col int `json:"col"`
	}
	path := w.path() + "/find?value=" + url.QueryEscape(value)
	if err := w.doc.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Cell{}, err
	}
	return Cell{Row: resp.Row, Col: resp.Col}, nil
}

func (w *remoteWorksheet) DeleteRow(ctx context.Context, index int) error {
	return w.doc.client.do(ctx, http.MethodDelete, fmt.Sprintf("%s/rows/%d", w.path(), index), nil, nil)
}

func (w *remoteWorksheet) UpdateCell(ctx context.Context, row, col int, value string) error {
	body := map[string]string{"value": value}
	return w.doc.client.do(ctx, http.MethodPut, fmt.Sprintf("%s/cells/%d/%d", w.path(), row, col), body, nil)
}

func (w *remoteWorksheet) path() string {
	return w.doc.wsPath(w.title)
}

// RowsFromValues converts a raw grid into header-keyed rows. Short rows
// are padded; columns past the header width are dropped.
func RowsFromValues(values [][]string) []Row {
	if len(values) == 0 {
		return nil
	}
	header := values[0]
	rows := make([]Row, 0, len(values)-1)
	for _, raw := range values[1:] {
		row := make(Row, len(header))
		for i, key := range header {
			if key == "" {
				continue
			}
			if i < len(raw) {
				row[key] = raw[i]
			} else {
				row[key] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}
