// Package notify delivers deviation reports to an external endpoint as JSON.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opsgrid/sentinel/pkg/drift"
)

// Notifier posts deviation reports over HTTP.
type Notifier struct {
	endpoint string
	client   *http.Client
	log      *logrus.Logger
}

// New creates a Notifier for endpoint.
func New(endpoint string, log *logrus.Logger) *Notifier {
	return &Notifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// Send posts the report. Empty reports are not delivered.
func (n *Notifier) Send(ctx context.Context, hostname string, report drift.Report) error {
	if report.Empty() {
		return nil
	}

	payload := struct {
		Hostname string       `json:"hostname"`
		Report   drift.Report `json:"report"`
	}{Hostname: hostname, Report: report}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	n.log.WithFields(logrus.Fields{
		"endpoint": n.endpoint,
		"findings": len(report.Findings),
	}).Info("Deviation report delivered")
	return nil
}
