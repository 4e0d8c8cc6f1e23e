// Package authority calls the remote scan authority that validates a code,
// resolves the student, and decides accept or reject. All duplicate-movement
// and notification rules live on the remote side; this client only carries
// the request and interprets the response.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"eduguard/internal/scan"
)

// Client calls the scan authority over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set, Scan answers from a canned roster so
// a terminal can run without the backend.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type wireResponse struct {
	Success           bool              `json:"success"`
	MovementType      scan.MovementMode `json:"movement_type"`
	Student           *scan.Student     `json:"student"`
	Timestamp         *scan.Stamp       `json:"timestamp"`
	Error             string            `json:"error"`
	ParentsNotified   int               `json:"parents_notified"`
	NotificationsSent []string          `json:"notifications_sent"`
}

// Scan performs one submission round trip. A non-nil error means the round
// trip itself failed; logical rejections come back as a Result with
// Success=false carrying the remote message, or the generic fallback when
// the authority gave none.
func (c *Client) Scan(ctx context.Context, req scan.Request) (scan.Result, error) {
	if c.Skip {
		return c.mockScan(req), nil
	}

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/scan-qr", bytes.NewReader(body))
	if err != nil {
		return scan.Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return scan.Result{}, fmt.Errorf("scan authority request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return scan.Result{}, fmt.Errorf("scan authority error %s: %s", resp.Status, string(bodyBytes))
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return scan.Result{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = scan.MsgCodeNotRecognized
		}
		return scan.Result{Error: msg}, nil
	}

	return scan.Result{
		Success:           true,
		Movement:          out.MovementType,
		Student:           out.Student,
		Timestamp:         out.Timestamp,
		ParentsNotified:   out.ParentsNotified,
		NotificationsSent: out.NotificationsSent,
	}, nil
}

// Health checks if the authority is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("scan authority unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("scan authority unhealthy: %s", resp.Status)
	}

	return nil
}

// roster backs skip mode with the demo students.
var roster = map[string]scan.Student{
	"QR-TOKEN-001-SECURE": {ID: "stu-001", Name: "Ana Machel", Grade: "5ª Classe", Class: "A"},
	"QR-TOKEN-002-SECURE": {ID: "stu-002", Name: "João Mondlane", Grade: "6ª Classe", Class: "B"},
	"QR-TOKEN-003-SECURE": {ID: "stu-003", Name: "Maria Chissano", Grade: "7ª Classe", Class: "A"},
	"QR-TOKEN-004-SECURE": {ID: "stu-004", Name: "Pedro Guebuza", Grade: "8ª Classe", Class: "C"},
	"QR-TOKEN-005-SECURE": {ID: "stu-005", Name: "Sofia Nyusi", Grade: "5ª Classe", Class: "B"},
}

func (c *Client) mockScan(req scan.Request) scan.Result {
	student, ok := roster[req.Code]
	if !ok {
		return scan.Result{Error: scan.MsgCodeNotRecognized}
	}
	now := time.Now()
	return scan.Result{
		Success:         true,
		Movement:        req.Mode,
		Student:         &student,
		Timestamp:       &scan.Stamp{Date: now.Format("02/01/2006"), Time: now.Format("15:04:05")},
		ParentsNotified: 1,
	}
}
