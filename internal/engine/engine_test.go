package engine

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marminbh/partner-sync-svc/internal/config"
	"github.com/marminbh/partner-sync-svc/internal/models"
	"github.com/marminbh/partner-sync-svc/internal/signing"
)

const testTopic = "maintenance.task"

type fakeRegistry struct {
	configs map[string]models.TopicConfig
}

func (f *fakeRegistry) Get(topic string) (*models.TopicConfig, error) {
	cfg, ok := f.configs[topic]
	if !ok {
		return nil, fmt.Errorf("topic not found: %s", topic)
	}
	copied := cfg
	return &copied, nil
}

func (f *fakeRegistry) SetWatermark(topic string, watermark time.Time) error {
	cfg := f.configs[topic]
	if watermark.Before(cfg.Watermark) {
		return fmt.Errorf("stale watermark for %s", topic)
	}
	cfg.Watermark = watermark
	f.configs[topic] = cfg
	return nil
}

// fakeQuerier pages over an in-memory record set the way the router
// does: since-exclusive, ordered by change time, 1-based pages.
type fakeQuerier struct {
	records []map[string]any
	queries int
}

func (f *fakeQuerier) Query(req models.SyncRequest) (*models.SyncPage, error) {
	f.queries++

	var matched []map[string]any
	for _, record := range f.records {
		ts, _ := time.Parse(time.RFC3339, record["updateTime"].(string))
		if ts.After(req.Since) {
			matched = append(matched, record)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i]["updateTime"].(string) < matched[j]["updateTime"].(string)
	})

	start := (req.PageNum - 1) * req.PageSize
	end := start + req.PageSize
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}

	return &models.SyncPage{
		Items:      matched[start:end],
		PageNum:    req.PageNum,
		PageSize:   req.PageSize,
		Total:      int64(len(matched)),
		TotalPages: models.TotalPagesFor(int64(len(matched)), req.PageSize),
	}, nil
}

type fakePusher struct {
	published []map[string]any
	failAfter int // fail every publish once this many succeeded; -1 disables
}

func (f *fakePusher) Publish(_ context.Context, topic string, payload map[string]any) error {
	if f.failAfter >= 0 && len(f.published) >= f.failAfter {
		return fmt.Errorf("broker unavailable for %s", topic)
	}
	f.published = append(f.published, payload)
	return nil
}

func record(code string, ts time.Time) map[string]any {
	return map[string]any{
		"taskCode":   code,
		"updateTime": ts.UTC().Format(time.RFC3339),
	}
}

func newTestEngine(t *testing.T, reg *fakeRegistry, q *fakeQuerier, p *fakePusher, pageSize int) *Engine {
	signer, err := signing.NewClient(&config.PartnerConfig{
		APIID:   "EAM01",
		Secret:  "s3cret",
		Version: "1.0",
	}, zap.NewNop())
	require.NoError(t, err)

	return New(reg, q, signer, p, zap.NewNop(), "https://partner.example.com/openapi/receive", pageSize)
}

func TestSweepPagesAndAdvancesWatermark(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	reg := &fakeRegistry{configs: map[string]models.TopicConfig{
		testTopic: {Topic: testTopic, Watermark: t0},
	}}
	q := &fakeQuerier{records: []map[string]any{
		record("MT-001", t0.Add(1*time.Second)),
		record("MT-002", t0.Add(2*time.Second)),
		record("MT-003", t0.Add(3*time.Second)),
	}}
	p := &fakePusher{failAfter: -1}
	eng := newTestEngine(t, reg, q, p, 2)

	result, err := eng.Compensate(context.Background(), testTopic)
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.Equal(t, 3, result.ItemsPushed)
	require.Equal(t, 2, result.PagesProcessed)
	require.True(t, result.Watermark.Equal(t0.Add(3*time.Second)))
	require.True(t, reg.configs[testTopic].Watermark.Equal(t0.Add(3*time.Second)))

	// Each pushed envelope carries the record and the signed params.
	require.Len(t, p.published, 3)
	for _, envelope := range p.published {
		require.Equal(t, testTopic, envelope["topic"])
		require.Contains(t, envelope, "record")
		sign := envelope["sign"].(map[string]string)
		require.NotEmpty(t, sign[signing.ParamSign])
	}
}

func TestFailedPageLeavesWatermark(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	reg := &fakeRegistry{configs: map[string]models.TopicConfig{
		testTopic: {Topic: testTopic, Watermark: t0},
	}}
	q := &fakeQuerier{records: []map[string]any{
		record("MT-001", t0.Add(1*time.Second)),
		record("MT-002", t0.Add(2*time.Second)),
		record("MT-003", t0.Add(3*time.Second)),
	}}
	p := &fakePusher{failAfter: 1}
	eng := newTestEngine(t, reg, q, p, 2)

	result, err := eng.Compensate(context.Background(), testTopic)
	require.Error(t, err)
	require.False(t, result.Completed)
	require.True(t, reg.configs[testTopic].Watermark.Equal(t0), "failed sweep must not move the watermark")

	// The next run resumes from the same point and sees all records.
	p.failAfter = -1
	p.published = nil
	result, err = eng.Compensate(context.Background(), testTopic)
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.Equal(t, 3, result.ItemsPushed)
	require.True(t, reg.configs[testTopic].Watermark.Equal(t0.Add(3*time.Second)))
}

func TestRerunWithoutNewDataIsIdempotent(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	reg := &fakeRegistry{configs: map[string]models.TopicConfig{
		testTopic: {Topic: testTopic, Watermark: t0},
	}}
	q := &fakeQuerier{records: []map[string]any{
		record("MT-001", t0.Add(1*time.Second)),
	}}
	p := &fakePusher{failAfter: -1}
	eng := newTestEngine(t, reg, q, p, 2)

	first, err := eng.Compensate(context.Background(), testTopic)
	require.NoError(t, err)
	require.Equal(t, 1, first.ItemsPushed)
	watermark := reg.configs[testTopic].Watermark

	second, err := eng.Compensate(context.Background(), testTopic)
	require.NoError(t, err)
	require.True(t, second.Completed)
	require.Equal(t, 0, second.ItemsPushed)
	require.Equal(t, 1, second.PagesProcessed, "second run sees one empty page")
	require.True(t, reg.configs[testTopic].Watermark.Equal(watermark), "no new data, no watermark movement")
	require.Len(t, p.published, 1, "nothing new was pushed")
}

func TestConcurrentRunIsRejected(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	reg := &fakeRegistry{configs: map[string]models.TopicConfig{
		testTopic: {Topic: testTopic, Watermark: t0},
	}}
	eng := newTestEngine(t, reg, &fakeQuerier{}, &fakePusher{failAfter: -1}, 2)

	// Simulate an in-flight run by holding the topic lock.
	eng.lockFor(testTopic).Lock()
	defer eng.lockFor(testTopic).Unlock()

	_, err := eng.Compensate(context.Background(), testTopic)
	require.ErrorIs(t, err, ErrRunInProgress)

	// Other topics are unaffected: serialization is per topic.
	reg.configs["fault.report"] = models.TopicConfig{Topic: "fault.report", Watermark: t0}
	_, err = eng.Compensate(context.Background(), "fault.report")
	require.NoError(t, err)
}
