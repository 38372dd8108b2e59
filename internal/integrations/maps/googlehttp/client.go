package googlehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/min-hinthar/mealroute/internal/integrations/maps"
	"github.com/min-hinthar/mealroute/internal/models"
)

const statusOK = "OK"

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://maps.googleapis.com"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Ответ Distance Matrix API. Типизируем только то, что читаем.
type matrixResp struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Rows         []struct {
		Elements []struct {
			Status   string `json:"status"`
			Duration struct {
				Value int64 `json:"value"`
			} `json:"duration"`
			DurationInTraffic struct {
				Value int64 `json:"value"`
			} `json:"duration_in_traffic"`
			Distance struct {
				Value int64 `json:"value"`
			} `json:"distance"`
		} `json:"elements"`
	} `json:"rows"`
}

func (c *Client) DistanceMatrix(ctx context.Context, origin models.LatLng, dests []models.LatLng) ([]maps.Element, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/maps/api/distancematrix/json"

	parts := make([]string, 0, len(dests))
	for _, d := range dests {
		parts = append(parts, fmt.Sprintf("%f,%f", d.Lat, d.Lng))
	}

	q := u.Query()
	q.Set("origins", fmt.Sprintf("%f,%f", origin.Lat, origin.Lng))
	q.Set("destinations", strings.Join(parts, "|"))
	q.Set("departure_time", "now")
	q.Set("traffic_model", "best_guess")
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("distance matrix http %d", resp.StatusCode)
	}

	var r matrixResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if r.Status != statusOK {
		if r.ErrorMessage != "" {
			return nil, fmt.Errorf("distance matrix status=%s: %s", r.Status, r.ErrorMessage)
		}
		return nil, fmt.Errorf("distance matrix status=%s", r.Status)
	}

	// Один origin -> ровно одна строка, элементов столько же, сколько destinations.
	if len(r.Rows) != 1 {
		return nil, fmt.Errorf("distance matrix rows=%d, want 1", len(r.Rows))
	}
	if len(r.Rows[0].Elements) != len(dests) {
		return nil, fmt.Errorf("distance matrix elements=%d, want %d", len(r.Rows[0].Elements), len(dests))
	}

	out := make([]maps.Element, 0, len(dests))
	for _, el := range r.Rows[0].Elements {
		if el.Status != statusOK {
			out = append(out, maps.Element{OK: false, Status: el.Status})
			continue
		}
		out = append(out, maps.Element{
			OK:                     true,
			Status:                 el.Status,
			DurationSeconds:        el.Duration.Value,
			TrafficDurationSeconds: el.DurationInTraffic.Value,
			DistanceMeters:         el.Distance.Value,
		})
	}
	return out, nil
}
