// Package influxx is the time-series sink for node telemetry. Only numeric
// payload fields land in Influx; everything else stays in the event log.
package influxx

import (
	"context"
	"errors"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"assettrack/shared/config"
)

const metricsMeasurement = "system_metrics"

type Client struct {
	client influxdb2.Client
	org    string
	bucket string
}

func New(cfg config.Config) (*Client, error) {
	if cfg.InfluxURL == "" || cfg.InfluxToken == "" || cfg.InfluxOrg == "" || cfg.InfluxBucket == "" {
		return nil, errors.New("INFLUX_URL/INFLUX_TOKEN/INFLUX_ORG/INFLUX_BUCKET are required")
	}
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint(cfg.InfluxTimeoutMS))
	return &Client{
		client: influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts),
		org:    cfg.InfluxOrg,
		bucket: cfg.InfluxBucket,
	}, nil
}

// WriteSystemMetrics writes one point per snapshot, tagged by node, keeping
// only the float fields of the payload. Returns the number of fields written;
// zero with a nil error means the snapshot carried nothing numeric.
func (c *Client) WriteSystemMetrics(ctx context.Context, nodeID string, data map[string]any, ts time.Time) (int, error) {
	if c == nil || c.client == nil {
		return 0, errors.New("influx client not initialized")
	}
	fields := make(map[string]any, len(data))
	for k, v := range data {
		if f, ok := v.(float64); ok {
			fields[k] = f
		}
	}
	if len(fields) == 0 {
		return 0, nil
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	p := influxdb2.NewPoint(metricsMeasurement, map[string]string{"node_id": nodeID}, fields, ts)
	if err := c.client.WriteAPIBlocking(c.org, c.bucket).WritePoint(ctx, p); err != nil {
		return 0, err
	}
	return len(fields), nil
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Close()
}
