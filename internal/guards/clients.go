// Package guards gathers the external facts that workflow transition
// validation depends on: staff roles from the staff directory, open DUR
// alerts from the clinical service, and claim status from the payer
// gateway. Each upstream sits behind a circuit breaker; when a circuit
// is open the gatherer degrades to the conservative answer rather than
// stalling the queue.
package guards

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/pkg/circuitbreaker"
)

// DURChecker reports whether a prescription has unresolved DUR alerts.
type DURChecker interface {
	HasUnresolvedAlerts(ctx context.Context, prescriptionID string) (bool, error)
}

// ClaimsChecker reports whether a prescription has an active insurance
// rejection.
type ClaimsChecker interface {
	HasActiveReject(ctx context.Context, prescriptionID string) (bool, error)
}

// StaffDirectory resolves a staff member's role.
type StaffDirectory interface {
	IsPharmacist(ctx context.Context, staffID string) (bool, error)
}

const clientTimeout = 5 * time.Second

// HTTPDURClient queries the clinical DUR service.
type HTTPDURClient struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewHTTPDURClient creates a DUR service client.
func NewHTTPDURClient(baseURL string, breaker *circuitbreaker.CircuitBreaker) *HTTPDURClient {
	return &HTTPDURClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: clientTimeout},
		breaker: breaker,
	}
}

type durStatusResponse struct {
	PrescriptionID string `json:"prescription_id"`
	UnresolvedHigh int    `json:"unresolved_high"`
	UnresolvedAny  int    `json:"unresolved_any"`
}

// HasUnresolvedAlerts asks the DUR service for open alerts on the fill.
func (c *HTTPDURClient) HasUnresolvedAlerts(ctx context.Context, prescriptionID string) (bool, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		var resp durStatusResponse
		url := fmt.Sprintf("%s/v1/dur/%s/status", c.baseURL, prescriptionID)
		if err := c.getJSON(ctx, url, &resp); err != nil {
			return nil, err
		}
		return resp.UnresolvedAny > 0, nil
	})
	if err != nil {
		return false, fmt.Errorf("dur service: %w", err)
	}
	return result.(bool), nil
}

func (c *HTTPDURClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// HTTPClaimsClient queries the payer claims gateway.
type HTTPClaimsClient struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewHTTPClaimsClient creates a claims gateway client.
func NewHTTPClaimsClient(baseURL string, breaker *circuitbreaker.CircuitBreaker) *HTTPClaimsClient {
	return &HTTPClaimsClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: clientTimeout},
		breaker: breaker,
	}
}

type claimStatusResponse struct {
	PrescriptionID string `json:"prescription_id"`
	Status         string `json:"status"`
}

// HasActiveReject asks the claims gateway whether the most recent claim
// for the fill was rejected and remains unresolved.
func (c *HTTPClaimsClient) HasActiveReject(ctx context.Context, prescriptionID string) (bool, error) {
	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/v1/claims/%s/latest", c.baseURL, prescriptionID), nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		// No claim on file means nothing to reject.
		if resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		var claim claimStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&claim); err != nil {
			return nil, err
		}
		return claim.Status == "rejected", nil
	})
	if err != nil {
		return false, fmt.Errorf("claims gateway: %w", err)
	}
	return result.(bool), nil
}

// HTTPStaffClient queries the staff directory.
type HTTPStaffClient struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPStaffClient creates a staff directory client.
func NewHTTPStaffClient(baseURL string, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *HTTPStaffClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPStaffClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: clientTimeout},
		breaker: breaker,
		logger:  logger,
	}
}

type staffResponse struct {
	StaffID string `json:"staff_id"`
	Role    string `json:"role"`
	Active  bool   `json:"active"`
}

// IsPharmacist resolves the staff member's role. When the directory is
// down the breaker fallback denies pharmacist access: the failure mode
// is a technician-level view, never an unearned verification gate.
func (c *HTTPStaffClient) IsPharmacist(ctx context.Context, staffID string) (bool, error) {
	result, err := c.breaker.ExecuteWithFallback(ctx,
		func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet,
				fmt.Sprintf("%s/v1/staff/%s", c.baseURL, staffID), nil)
			if err != nil {
				return nil, err
			}
			resp, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				return false, nil
			}
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
			}

			var staff staffResponse
			if err := json.NewDecoder(resp.Body).Decode(&staff); err != nil {
				return nil, err
			}
			return staff.Active && staff.Role == "pharmacist", nil
		},
		func(cause error) (interface{}, error) {
			c.logger.Warn("staff directory unavailable, denying pharmacist access",
				zap.String("staff_id", staffID),
				zap.Error(cause))
			return false, nil
		},
	)
	if err != nil {
		return false, fmt.Errorf("staff directory: %w", err)
	}
	return result.(bool), nil
}
