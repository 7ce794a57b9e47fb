package signing

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/truthmesh/core/pkg/errkit"
)

const defaultKMSTimeout = 5 * time.Second

// KMSConfig configures the remote_kms backend.
type KMSConfig struct {
	URL     string
	KeyID   string
	Timeout time.Duration
}

// KMSSigner implements the remote_kms backend by calling out to a
// signing sidecar over HTTP. Fail-closed: every transport failure
// degrades to a refusal (signing_unavailable / signing_refused), never
// a silently-produced signature.
type KMSSigner struct {
	cfg    KMSConfig
	client *http.Client
}

// NewKMSSigner creates a remote_kms signer against the given sidecar.
func NewKMSSigner(cfg KMSConfig) *KMSSigner {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultKMSTimeout
	}
	return &KMSSigner{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

type kmsSignRequest struct {
	KeyID     string `json:"key_id"`
	StateHash string `json:"state_hash"`
}

type kmsSignResponse struct {
	Signature string `json:"signature"`
	Refused   bool   `json:"refused"`
	Reason    string `json:"reason,omitempty"`
}

func (s *KMSSigner) Sign(stateHash []byte) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()

	reqBody, err := json.Marshal(kmsSignRequest{KeyID: s.cfg.KeyID, StateHash: hex.EncodeToString(stateHash)})
	if err != nil {
		return "", errkit.New(errkit.KindSigningUnavailable, "marshal kms request: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL+"/sign", bytes.NewReader(reqBody))
	if err != nil {
		return "", errkit.New(errkit.KindSigningUnavailable, "build kms request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// Fail closed: any transport failure is signing_unavailable, never
		// a fallback to an unsigned or locally-fabricated signature.
		return "", errkit.New(errkit.KindSigningUnavailable, "kms request failed: "+err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errkit.New(errkit.KindSigningUnavailable, "read kms response: "+err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return "", errkit.New(errkit.KindSigningUnavailable, fmt.Sprintf("kms returned status %d", resp.StatusCode))
	}

	var out kmsSignResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errkit.New(errkit.KindSigningUnavailable, "decode kms response: "+err.Error())
	}
	if out.Refused {
		return "", errkit.New(errkit.KindSigningRefused, out.Reason)
	}
	if out.Signature == "" {
		return "", errkit.New(errkit.KindSigningUnavailable, "kms returned empty signature")
	}
	return out.Signature, nil
}

func (s *KMSSigner) KeyID() string  { return s.cfg.KeyID }
func (s *KMSSigner) Method() Method { return MethodRemoteKMS }
func (s *KMSSigner) Close() error   { return nil }
