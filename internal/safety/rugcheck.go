// internal/safety/rugcheck.go
package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RugcheckClient fetches token risk summaries from a rugcheck-compatible
// HTTP API.
type RugcheckClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

var _ RiskReporter = (*RugcheckClient)(nil)

func NewRugcheckClient(baseURL string, logger *zap.Logger) *RugcheckClient {
	return &RugcheckClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.Named("rugcheck"),
	}
}

// Report fetches the risk summary for mint.
func (c *RugcheckClient) Report(ctx context.Context, mint string) (*RiskReport, error) {
	url := fmt.Sprintf("%s/v1/tokens/%s/report/summary", c.baseURL, mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build risk request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("risk request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read risk response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("risk API returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Risks []struct {
			Name  string `json:"name"`
			Level string `json:"level"`
		} `json:"risks"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode risk response: %w", err)
	}

	report := &RiskReport{}
	for _, r := range parsed.Risks {
		report.Risks = append(report.Risks, RiskItem{Name: r.Name, Level: r.Level})
	}
	return report, nil
}
