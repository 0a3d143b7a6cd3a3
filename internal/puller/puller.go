package puller

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

// VehiclePuller is the HTTP client for one vehicle's outbound surface,
// created fresh for every sync pass. The per-vehicle credential rides on a
// fixed header; every request carries the configured timeout.
type VehiclePuller struct {
	client *resty.Client
	name   string
	logger *zap.Logger
}

// New creates a puller for the given vehicle.
func New(vehicle models.VehicleRecord, apiKey string, timeout time.Duration, logger *zap.Logger) *VehiclePuller {
	client := resty.New().
		SetBaseURL(fmt.Sprintf("http://%s:%d", vehicle.VPNIP, vehicle.APIPort)).
		SetTimeout(timeout).
		SetHeader("X-API-Key", apiKey).
		SetHeader("Accept-Encoding", "gzip")

	name := vehicle.Name
	if name == "" {
		name = vehicle.ID
	}
	return &VehiclePuller{client: client, name: name, logger: logger}
}

func (p *VehiclePuller) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	req := p.client.R().SetContext(ctx).SetResult(out)
	if params != nil {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(path)
	if err != nil {
		return classify(path, err)
	}
	if resp.IsError() {
		return &StatusError{Path: path, Code: resp.StatusCode()}
	}
	return nil
}

// Status pulls GET /status.
func (p *VehiclePuller) Status(ctx context.Context) (*models.StatusPayload, error) {
	var out models.StatusPayload
	if err := p.get(ctx, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Channels pulls GET /channels.
func (p *VehiclePuller) Channels(ctx context.Context) ([]models.ChannelPayload, error) {
	var out []models.ChannelPayload
	if err := p.get(ctx, "/channels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Alarms pulls GET /alarms for [from, to).
func (p *VehiclePuller) Alarms(ctx context.Context, from, to time.Time) ([]models.AlarmPayload, error) {
	var out []models.AlarmPayload
	params := map[string]string{
		"from": models.FormatTime(from),
		"to":   models.FormatTime(to),
	}
	if err := p.get(ctx, "/alarms", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// fetchDataWindow pulls GET /data for a single window, no splitting.
func (p *VehiclePuller) fetchDataWindow(ctx context.Context, from, to time.Time) (*models.DataPayload, error) {
	var out models.DataPayload
	params := map[string]string{
		"from": models.FormatTime(from),
		"to":   models.FormatTime(to),
	}
	if err := p.get(ctx, "/data", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
