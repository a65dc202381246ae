package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"fleetwatch/internal/models"
)

// Source is the REST side of a device session.
type Source interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	ListMetrics(ctx context.Context, deviceID string) ([]models.MetricSample, error)
	ListMetricDetails(ctx context.Context, deviceID string) ([]models.DetailSnapshot, error)
}

// Snapshot is the full pulled state of one device. Device is nil when the
// device list does not contain the id.
type Snapshot struct {
	DeviceID string
	Device   *models.Device
	Metrics  []models.MetricSample
	Details  []models.DetailSnapshot
}

// LoadSnapshot issues the three collaborator calls concurrently. Any failure
// fails the whole load; partial results are never returned.
func LoadSnapshot(ctx context.Context, src Source, deviceID string) (Snapshot, error) {
	var (
		devices []models.Device
		metrics []models.MetricSample
		details []models.DetailSnapshot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		devices, err = src.ListDevices(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		metrics, err = src.ListMetrics(gctx, deviceID)
		return err
	})
	g.Go(func() error {
		var err error
		details, err = src.ListMetricDetails(gctx, deviceID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{DeviceID: deviceID, Metrics: metrics, Details: details}
	for i := range devices {
		if devices[i].ID == deviceID {
			d := devices[i]
			snap.Device = &d
			break
		}
	}
	return snap, nil
}
