package worker_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airpulse/airpulse/internal/airquality"
	"github.com/airpulse/airpulse/internal/worker"
)

func newMessageJob(svc *fakeRefresher) *worker.RefreshJob {
	return worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: worker.RefreshConfig{
			Targets: []worker.RefreshTarget{{Name: "Test", Points: points(5)}},
		},
		Logger:  zerolog.Nop(),
		Service: svc,
	})
}

func TestHandleMessage_RefreshAll(t *testing.T) {
	svc := &fakeRefresher{}

	err := worker.HandleMessage(context.Background(), newMessageJob(svc), zerolog.Nop(), []byte(`{"job_type":"aq_refresh"}`))
	require.NoError(t, err)
	assert.Equal(t, int32(5), svc.refreshCalls.Load())
}

func TestHandleMessage_RefreshPoints(t *testing.T) {
	svc := &fakeRefresher{}

	err := worker.HandleMessage(context.Background(), newMessageJob(svc), zerolog.Nop(),
		[]byte(`{"job_type":"aq_refresh","points":[{"lat":28.61,"lon":77.21},{"lat":95,"lon":0}]}`))
	require.NoError(t, err)

	assert.Equal(t, int32(1), svc.refreshCalls.Load(), "invalid point is skipped")
	assert.Equal(t, []airquality.Coordinate{{Lat: 28.61, Lon: 77.21}}, svc.points)
}

func TestHandleMessage_HealthCheck(t *testing.T) {
	svc := &fakeRefresher{}

	err := worker.HandleMessage(context.Background(), newMessageJob(svc), zerolog.Nop(), []byte(`{"job_type":"health_check"}`))
	require.NoError(t, err)
	assert.Equal(t, int32(1), svc.refreshCalls.Load())
}

func TestHandleMessage_UnknownTypeAcked(t *testing.T) {
	svc := &fakeRefresher{}

	err := worker.HandleMessage(context.Background(), newMessageJob(svc), zerolog.Nop(), []byte(`{"job_type":"reindex"}`))
	assert.NoError(t, err)
	assert.Zero(t, svc.refreshCalls.Load())
}

func TestHandleMessage_Malformed(t *testing.T) {
	err := worker.HandleMessage(context.Background(), newMessageJob(&fakeRefresher{}), zerolog.Nop(), []byte(`{not json`))
	assert.Error(t, err)
}

func TestHandleMessage_MostlyFailed(t *testing.T) {
	pts := points(5)
	svc := &fakeRefresher{failAt: map[airquality.Coordinate]bool{pts[0]: true, pts[1]: true, pts[2]: true}}

	err := worker.HandleMessage(context.Background(), newMessageJob(svc), zerolog.Nop(), []byte(`{"job_type":"aq_refresh"}`))
	assert.ErrorContains(t, err, "too many refresh failures")
}
