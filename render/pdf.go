package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// PDFConverter prints HTML to PDF. Implementations are external services.
type PDFConverter interface {
	ConvertHTML(ctx context.Context, html []byte, opts Options) ([]byte, error)
}

// ConversionError is a failed PDF conversion. Retryable marks failures the
// caller may retry (timeouts, 5xx, throttling); the renderer never retries.
type ConversionError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ConversionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("pdf conversion failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("pdf conversion failed: %v", e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// DefaultPDFTimeout bounds one conversion when none is configured.
const DefaultPDFTimeout = 30 * time.Second

const mmPerInch = 25.4

// paperInches maps page sizes to width and height in inches.
var paperInches = map[PageSize][2]float64{
	PageA4:     {8.27, 11.7},
	PageLetter: {8.5, 11},
}

// ChromiumClient converts HTML through a Gotenberg-compatible Chromium
// service (POST /forms/chromium/convert/html).
type ChromiumClient struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewChromiumClient creates a client. A zero timeout uses DefaultPDFTimeout.
func NewChromiumClient(baseURL string, timeout time.Duration) *ChromiumClient {
	if timeout <= 0 {
		timeout = DefaultPDFTimeout
	}
	return &ChromiumClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: timeout,
	}
}

// ConvertHTML uploads html as index.html with the page options as form fields.
func (c *ChromiumClient) ConvertHTML(ctx context.Context, html []byte, opts Options) ([]byte, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	body, contentType, err := conversionForm(html, opts)
	if err != nil {
		return nil, &ConversionError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/forms/chromium/convert/html", body)
	if err != nil {
		return nil, &ConversionError{Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ConversionError{Retryable: !errors.Is(err, context.Canceled), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConversionError{StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, &ConversionError{
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Err:        errors.New(msg),
		}
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, &ConversionError{StatusCode: resp.StatusCode, Retryable: true, Err: errors.New("response is not a PDF")}
	}
	return data, nil
}

func conversionForm(html []byte, opts Options) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(html); err != nil {
		return nil, "", err
	}

	paper := paperInches[opts.PageSize]
	fields := [][2]string{
		{"paperWidth", inches(paper[0])},
		{"paperHeight", inches(paper[1])},
		{"marginTop", inches(opts.Margins.Top / mmPerInch)},
		{"marginRight", inches(opts.Margins.Right / mmPerInch)},
		{"marginBottom", inches(opts.Margins.Bottom / mmPerInch)},
		{"marginLeft", inches(opts.Margins.Left / mmPerInch)},
		{"printBackground", "true"},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func inches(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
