package minting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ms-eventchain/internal/logger"
	"ms-eventchain/internal/models"
)

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPMinter calls the chain service: POST {base}/mint, {base}/attendance
// and {base}/certificates.
type HTTPMinter struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
	log     *logger.Logger
}

func NewHTTPMinter(baseURL string, client *http.Client, tokens TokenSource, log *logger.Logger) *HTTPMinter {
	return &HTTPMinter{baseURL: strings.TrimRight(baseURL, "/"), client: client, tokens: tokens, log: log}
}

type mintResponse struct {
	TokenID         *int64 `json:"tokenId"`
	TransactionHash string `json:"transactionHash"`
	Error           string `json:"error"`
}

func (m *HTTPMinter) Mint(ctx context.Context, req models.MintRequest) (*models.MintResult, error) {
	status, raw, err := m.post(ctx, "/mint", req.ApplicationID, req)
	if err != nil {
		return nil, err
	}
	var parsed mintResponse
	_ = json.Unmarshal(raw, &parsed)

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		if parsed.TokenID == nil {
			return nil, Permanent(fmt.Errorf("mint response without tokenId"))
		}
		if *parsed.TokenID < 0 {
			return nil, Permanent(fmt.Errorf("mint response with negative tokenId %d", *parsed.TokenID))
		}
		return &models.MintResult{TokenID: *parsed.TokenID, TransactionHash: parsed.TransactionHash}, nil

	case status == http.StatusConflict && parsed.TokenID != nil && *parsed.TokenID >= 0:
		m.log.LogMint(req.ApplicationID, fmt.Sprintf("Already minted as token %d", *parsed.TokenID))
		return &models.MintResult{TokenID: *parsed.TokenID, TransactionHash: parsed.TransactionHash}, nil

	default:
		return nil, classify("mint", status, parsed.Error, raw)
	}
}

// MarkAttendance treats 409 as success: the token was already marked.
func (m *HTTPMinter) MarkAttendance(ctx context.Context, req models.AttendanceRequest) (*models.ChainReceipt, error) {
	return m.attest(ctx, "/attendance", "attendance-"+req.TicketID, req)
}

func (m *HTTPMinter) AnchorCertificate(ctx context.Context, req models.AnchorRequest) (*models.ChainReceipt, error) {
	return m.attest(ctx, "/certificates", "certificate-"+req.CertificateID, req)
}

func (m *HTTPMinter) attest(ctx context.Context, path, key string, payload any) (*models.ChainReceipt, error) {
	status, raw, err := m.post(ctx, path, key, payload)
	if err != nil {
		return nil, err
	}
	var parsed mintResponse
	_ = json.Unmarshal(raw, &parsed)

	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		return &models.ChainReceipt{TransactionHash: parsed.TransactionHash}, nil
	default:
		return nil, classify(strings.TrimPrefix(path, "/"), status, parsed.Error, raw)
	}
}

func (m *HTTPMinter) post(ctx context.Context, path, idempotencyKey string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, Permanent(fmt.Errorf("encode %s request: %w", path, err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, Permanent(fmt.Errorf("build %s request: %w", path, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)

	if m.tokens != nil {
		token, err := m.tokens.Token(ctx)
		if err != nil {
			return 0, nil, fmt.Errorf("obtain service token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, raw, nil
}

func classify(op string, status int, msg string, raw []byte) error {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%s service unavailable: %d %s", op, status, http.StatusText(status))
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	return Permanent(fmt.Errorf("%s rejected with %d %s: %s", op, status, http.StatusText(status), msg))
}
