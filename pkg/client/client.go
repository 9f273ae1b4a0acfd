// Package client is a Go SDK for the consent ledger HTTP APIs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/medrex/consent-ledger/pkg/types"
)

// Client talks to the public API and, when AdminURL is set, the admin API
type Client struct {
	BaseURL    string
	AdminURL   string
	Token      string
	HTTPClient *http.Client
}

// New creates a client for the public API at baseURL
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithAdmin sets the admin API base URL
func (c *Client) WithAdmin(adminURL string) *Client {
	c.AdminURL = strings.TrimRight(adminURL, "/")
	return c
}

// WithToken sets the bearer token sent on every request
func (c *Client) WithToken(token string) *Client {
	c.Token = token
	return c
}

type errorBody struct {
	Error   types.ErrorKind        `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details"`
}

func (c *Client) do(ctx context.Context, method, base, path string, in, out interface{}) error {
	if base == "" {
		return fmt.Errorf("no endpoint configured for %s", path)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb errorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Error == "" {
			return types.NewLedgerError(types.KindInternal, "%s %s: HTTP %d", method, path, resp.StatusCode)
		}
		return &types.LedgerError{Kind: eb.Error, Message: eb.Message, Details: eb.Details}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// RequestConsent creates a PENDING contract and returns its id
func (c *Client) RequestConsent(ctx context.Context, req *types.ConsentRequest) (string, error) {
	var resp struct {
		ContractID string `json:"contract_id"`
	}
	if err := c.do(ctx, http.MethodPost, c.BaseURL, "/api/v1/consents", req, &resp); err != nil {
		return "", err
	}
	return resp.ContractID, nil
}

// ApproveConsent approves a contract as patientID
func (c *Client) ApproveConsent(ctx context.Context, contractID, patientID string) (*types.ConsentContract, error) {
	return c.patientAction(ctx, contractID, "approve", patientID)
}

// RevokeConsent revokes a contract as patientID
func (c *Client) RevokeConsent(ctx context.Context, contractID, patientID string) (*types.ConsentContract, error) {
	return c.patientAction(ctx, contractID, "revoke", patientID)
}

func (c *Client) patientAction(ctx context.Context, contractID, action, patientID string) (*types.ConsentContract, error) {
	var contract types.ConsentContract
	path := "/api/v1/consents/" + url.PathEscape(contractID) + "/" + action
	if err := c.do(ctx, http.MethodPost, c.BaseURL, path, map[string]string{"patient_id": patientID}, &contract); err != nil {
		return nil, err
	}
	return &contract, nil
}

// GetContract fetches a contract
func (c *Client) GetContract(ctx context.Context, contractID string) (*types.ConsentContract, error) {
	var contract types.ConsentContract
	if err := c.do(ctx, http.MethodGet, c.BaseURL, "/api/v1/consents/"+url.PathEscape(contractID), nil, &contract); err != nil {
		return nil, err
	}
	return &contract, nil
}

// GetContractHistory fetches a contract's history
func (c *Client) GetContractHistory(ctx context.Context, contractID string) ([]types.AuditLogEntry, error) {
	var resp struct {
		History []types.AuditLogEntry `json:"history"`
	}
	path := "/api/v1/consents/" + url.PathEscape(contractID) + "/history"
	if err := c.do(ctx, http.MethodGet, c.BaseURL, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// GetContractsForPatient lists a patient's contracts
func (c *Client) GetContractsForPatient(ctx context.Context, patientID string) ([]*types.ConsentContract, error) {
	return c.listContracts(ctx, "/api/v1/patients/"+url.PathEscape(patientID)+"/consents")
}

// GetContractsForProvider lists a provider's contracts
func (c *Client) GetContractsForProvider(ctx context.Context, providerID string) ([]*types.ConsentContract, error) {
	return c.listContracts(ctx, "/api/v1/providers/"+url.PathEscape(providerID)+"/consents")
}

func (c *Client) listContracts(ctx context.Context, path string) ([]*types.ConsentContract, error) {
	var resp struct {
		Contracts []*types.ConsentContract `json:"contracts"`
	}
	if err := c.do(ctx, http.MethodGet, c.BaseURL, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Contracts, nil
}

// Authorize asks whether providerID may read patientID's records
func (c *Client) Authorize(ctx context.Context, providerID, patientID string) (*types.Decision, error) {
	query := url.Values{"provider_id": {providerID}, "patient_id": {patientID}}
	var decision types.Decision
	if err := c.do(ctx, http.MethodGet, c.BaseURL, "/api/v1/access/authorize?"+query.Encode(), nil, &decision); err != nil {
		return nil, err
	}
	return &decision, nil
}

// AccessRecords reads a patient's records as providerID
func (c *Client) AccessRecords(ctx context.Context, providerID, patientID string) (*types.PatientRecord, error) {
	query := url.Values{"provider_id": {providerID}}
	path := "/api/v1/patients/" + url.PathEscape(patientID) + "/records?" + query.Encode()
	var record types.PatientRecord
	if err := c.do(ctx, http.MethodGet, c.BaseURL, path, nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Health checks the public API
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.BaseURL, "/health", nil, nil)
}

// ListIdentities lists registered identities through the admin API
func (c *Client) ListIdentities(ctx context.Context) ([]*types.NetworkIdentity, error) {
	var resp struct {
		Users []*types.NetworkIdentity `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, c.AdminURL, "/admin/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// RegisterIdentity enrolls an identity through the admin API
func (c *Client) RegisterIdentity(ctx context.Context, id string, role types.Role, organization, publicKey string) (*types.NetworkIdentity, error) {
	body := map[string]string{
		"id":           id,
		"role":         string(role),
		"organization": organization,
		"public_key":   publicKey,
	}
	var identity types.NetworkIdentity
	if err := c.do(ctx, http.MethodPost, c.AdminURL, "/admin/users", body, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// SuspendIdentity suspends id. adminID may be empty when the token identifies the admin.
func (c *Client) SuspendIdentity(ctx context.Context, adminID, id string) (*types.NetworkIdentity, error) {
	return c.statusChange(ctx, adminID, id, "suspend")
}

// ReinstateIdentity reinstates id
func (c *Client) ReinstateIdentity(ctx context.Context, adminID, id string) (*types.NetworkIdentity, error) {
	return c.statusChange(ctx, adminID, id, "reinstate")
}

func (c *Client) statusChange(ctx context.Context, adminID, id, action string) (*types.NetworkIdentity, error) {
	var body interface{}
	if adminID != "" {
		body = map[string]string{"admin_id": adminID}
	}
	var identity types.NetworkIdentity
	path := "/admin/users/" + url.PathEscape(id) + "/" + action
	if err := c.do(ctx, http.MethodPost, c.AdminURL, path, body, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// GetSecurityLogs queries the global audit log
func (c *Client) GetSecurityLogs(ctx context.Context, filter *types.AuditFilter) ([]types.AuditLogEntry, error) {
	query := url.Values{}
	if filter != nil {
		if filter.ActorID != "" {
			query.Set("actor_id", filter.ActorID)
		}
		for _, action := range filter.Actions {
			query.Add("action", string(action))
		}
		if !filter.Since.IsZero() {
			query.Set("since", filter.Since.Format(time.RFC3339))
		}
		if !filter.Until.IsZero() {
			query.Set("until", filter.Until.Format(time.RFC3339))
		}
	}

	path := "/admin/security-logs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var resp struct {
		Entries []types.AuditLogEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, c.AdminURL, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// VerifyAuditTrail asks the server to recompute the global hash chain
func (c *Client) VerifyAuditTrail(ctx context.Context) (*types.VerificationReport, error) {
	var report types.VerificationReport
	if err := c.do(ctx, http.MethodGet, c.AdminURL, "/admin/audit/verify", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
