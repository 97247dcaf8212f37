package app

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geowatch/internal/config"
	"geowatch/internal/kv"
	"geowatch/internal/logging"
	"geowatch/internal/notifications/core"
	"geowatch/internal/notifications/webhook"
	"geowatch/internal/telemetry"
	"geowatch/internal/types"
)

type fakeSQS struct{ sent []*sqs.SendMessageInput }

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

type fakeCloudWatch struct{ calls int }

func (f *fakeCloudWatch) PutMetricData(_ context.Context, _ *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.calls++
	return &cloudwatch.PutMetricDataOutput{}, nil
}

type nopSink struct{}

func (nopSink) Insert(context.Context, *types.Alert) (string, error) { return "a1", nil }
func (nopSink) UpdateNotifyFields(context.Context, string, types.NotifyUpdate) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			MembershipTTL:     time.Hour,
			EnterExitCooldown: 5 * time.Minute,
			StayCooldown:      30 * time.Minute,
			GridCellDegrees:   0.05,
			MemoryPruneEvery:  time.Minute,
		},
		Dispatch: config.DispatchConfig{
			Workers:        1,
			QueueDepth:     4,
			AttemptTimeout: time.Second,
			Channel:        "simulated",
			SuccessHigh:    1,
			SuccessMedium:  0.5,
			SuccessLow:     0.25,
		},
		Observability: config.ObservabilityConfig{MetricNamespace: "GeoWatchTest"},
	}
}

func TestSuccessModel(t *testing.T) {
	m := SuccessModel(testConfig().Dispatch)
	assert.Equal(t, core.SuccessModel{
		types.LevelHigh:   1,
		types.LevelMedium: 0.5,
		types.LevelLow:    0.25,
	}, m)
}

func TestNewChannel(t *testing.T) {
	cfg := testConfig().Dispatch

	ch, err := NewChannel(cfg, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, types.ChannelSimulated, ch.Type())

	cfg.Channel = "webhook"
	_, err = NewChannel(cfg, logging.Nop())
	assert.Error(t, err, "webhook without URL must fail")

	cfg.Webhook.URL = "https://hooks.example.com/geowatch"
	ch, err = NewChannel(cfg, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &webhook.Channel{}, ch)

	cfg.Channel = "carrier-pigeon"
	_, err = NewChannel(cfg, logging.Nop())
	assert.Error(t, err)
}

func TestNewDispatcher_InProcessPool(t *testing.T) {
	d, closeFn, err := NewDispatcher(testConfig(), nil, nopSink{}, nil, logging.Nop())
	require.NoError(t, err)
	defer closeFn()

	assert.IsType(t, &core.Dispatcher{}, d)
	a := &types.Alert{ID: "a1", Level: types.LevelHigh}
	require.NoError(t, d.Dispatch(context.Background(), a))
	assert.Equal(t, types.NotifySuccess, a.NotifyStatus)
}

func TestNewDispatcher_QueueWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.AWS.NotifyQueue = "https://sqs.us-east-1.amazonaws.com/123/notify"
	sender := &fakeSQS{}

	d, closeFn, err := NewDispatcher(cfg, sender, nopSink{}, nil, logging.Nop())
	require.NoError(t, err)
	defer closeFn()

	assert.IsType(t, &core.QueueDispatcher{}, d)
	require.NoError(t, d.Dispatch(context.Background(), &types.Alert{ID: "a1"}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, cfg.AWS.NotifyQueue, *sender.sent[0].QueueUrl)
}

func TestOpenStore_MemoryFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeFn, err := OpenStore(ctx, testConfig(), types.RealClock{}, logging.Nop())
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	assert.IsType(t, &kv.MemoryStore{}, store)
	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestNewMetrics(t *testing.T) {
	cfg := testConfig().Observability

	cfg.MetricsBackend = "prometheus"
	rec, flush := NewMetrics(cfg, prometheus.NewRegistry(), nil, logging.Nop())
	assert.IsType(t, &telemetry.PrometheusRecorder{}, rec)
	flush(context.Background())

	cfg.MetricsBackend = "cloudwatch"
	cw := &fakeCloudWatch{}
	rec, flush = NewMetrics(cfg, nil, cw, logging.Nop())
	require.IsType(t, &telemetry.CloudWatchRecorder{}, rec)
	rec.ReportProcessed(types.OutcomeOK)
	flush(context.Background())
	assert.Equal(t, 1, cw.calls)

	rec, _ = NewMetrics(cfg, nil, nil, logging.Nop())
	assert.Equal(t, types.NopMetrics{}, rec)

	cfg.MetricsBackend = "none"
	rec, _ = NewMetrics(cfg, nil, nil, logging.Nop())
	assert.Equal(t, types.NopMetrics{}, rec)
}

func TestNewEngine(t *testing.T) {
	store := kv.NewMemoryStore(types.RealClock{})
	e := NewEngine(testConfig(), nil, store, nopSink{}, nil, types.NopMetrics{}, logging.Nop())
	require.NotNil(t, e.Catalog)
	require.NotNil(t, e.Pipeline)
	assert.Equal(t, 0, e.Catalog.Len())
}

func TestNewWorkerMetrics_PrometheusBecomesCloudWatch(t *testing.T) {
	cfg := testConfig().Observability
	cfg.MetricsBackend = "prometheus"

	rec, _ := NewWorkerMetrics(cfg, &fakeCloudWatch{}, logging.Nop())
	assert.IsType(t, &telemetry.CloudWatchRecorder{}, rec)

	cfg.MetricsBackend = "none"
	rec, _ = NewWorkerMetrics(cfg, &fakeCloudWatch{}, logging.Nop())
	assert.Equal(t, types.NopMetrics{}, rec)
}
