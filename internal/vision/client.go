// Package vision is a client for the OCR vendor's images:annotate API.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ipipeline "github.com/imagevault/pipeline/internal/pipeline"
)

// DefaultLanguageHints are passed to the vendor when none are configured.
var DefaultLanguageHints = []string{"ko", "en"}

// Result is the text detected in one image.
type Result struct {
	Text       string
	Confidence float64
	Language   string
}

// Client calls the OCR vendor over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	hints      []string
	httpClient *http.Client
}

// NewClient creates an OCR client. timeout bounds each annotate call.
func NewClient(baseURL, apiKey string, languageHints []string, timeout time.Duration) *Client {
	if len(languageHints) == 0 {
		languageHints = DefaultLanguageHints
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		hints:      languageHints,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type annotateRequest struct {
	Requests []struct {
		Image struct {
			Content string `json:"content"`
		} `json:"image"`
		Features []struct {
			Type string `json:"type"`
		} `json:"features"`
		ImageContext struct {
			LanguageHints []string `json:"languageHints"`
		} `json:"imageContext"`
	} `json:"requests"`
}

type annotateResponse struct {
	Responses []struct {
		FullTextAnnotation *struct {
			Text  string `json:"text"`
			Pages []struct {
				Confidence float64 `json:"confidence"`
			} `json:"pages"`
		} `json:"fullTextAnnotation"`
		TextAnnotations []struct {
			Locale string `json:"locale"`
		} `json:"textAnnotations"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DetectText runs text detection on the raw image bytes. The vendor mandates
// base64-encoded content. An empty Result.Text with a nil error means the
// vendor found no text.
func (c *Client) DetectText(ctx context.Context, imageBytes []byte) (Result, error) {
	var req annotateRequest
	req.Requests = make([]struct {
		Image struct {
			Content string `json:"content"`
		} `json:"image"`
		Features []struct {
			Type string `json:"type"`
		} `json:"features"`
		ImageContext struct {
			LanguageHints []string `json:"languageHints"`
		} `json:"imageContext"`
	}, 1)
	req.Requests[0].Image.Content = base64.StdEncoding.EncodeToString(imageBytes)
	req.Requests[0].Features = []struct {
		Type string `json:"type"`
	}{{Type: "TEXT_DETECTION"}}
	req.Requests[0].ImageContext.LanguageHints = c.hints

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal annotate request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/images:annotate?key=%s", c.baseURL, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ipipeline.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var parsed annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil && resp.StatusCode == http.StatusOK {
		return Result{}, fmt.Errorf("failed to decode annotate response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return Result{}, &ipipeline.VendorError{Status: resp.StatusCode, Message: msg}
	}
	if len(parsed.Responses) == 0 {
		return Result{}, &ipipeline.VendorError{Status: resp.StatusCode, Message: "empty annotate response"}
	}
	first := parsed.Responses[0]
	if first.Error != nil {
		return Result{}, &ipipeline.VendorError{Status: first.Error.Code, Message: first.Error.Message}
	}

	res := Result{Language: "unknown"}
	if first.FullTextAnnotation != nil {
		res.Text = first.FullTextAnnotation.Text
		if len(first.FullTextAnnotation.Pages) > 0 {
			res.Confidence = first.FullTextAnnotation.Pages[0].Confidence
		}
	}
	if len(first.TextAnnotations) > 0 && first.TextAnnotations[0].Locale != "" {
		res.Language = first.TextAnnotations[0].Locale
	}
	return res, nil
}
