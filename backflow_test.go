package crowdsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	docs  []map[string]interface{}
	err   error
	since time.Time
}

func (s *stubSource) ChangedSince(_ context.Context, since time.Time) ([]map[string]interface{}, error) {
	s.since = since
	return s.docs, s.err
}

type stubCatalog struct {
	updated []Record
	failFor map[string]error
}

func (c *stubCatalog) UpdateRecord(_ context.Context, rec Record) error {
	if err := c.failFor[rec.Name]; err != nil {
		return err
	}
	c.updated = append(c.updated, rec)
	return nil
}

type stubResults struct {
	entries []ReportEntry
}

func (r *stubResults) RecordResult(_ context.Context, e ReportEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

func solrDoc(name string) map[string]interface{} {
	return map[string]interface{}{"local_id_ssi": name, "title_tdsim": []interface{}{"title of " + name}}
}

func TestBackflowStep_UpdatesRecords(t *testing.T) {
	clock := newFakeClock(t0)
	source := &stubSource{docs: []map[string]interface{}{solrDoc("HS_1"), solrDoc("HS_2"), solrDoc("HS_3")}}
	catalog := &stubCatalog{failFor: map[string]error{"HS_2": errors.New("HTTP 409")}}
	results := &stubResults{}
	step := NewBackflowStep(BackflowStepConfig{
		Source:   source,
		Catalog:  catalog,
		Results:  results,
		Name:     "ub",
		Lookback: 2 * time.Hour,
		Clock:    clock,
		Logger:   discardLogger(),
	})

	require.NoError(t, step.Run(context.Background()))

	assert.Equal(t, t0.Add(-2*time.Hour), source.since)
	require.Len(t, catalog.updated, 2)
	assert.Equal(t, "HS_1", catalog.updated[0].Name)
	assert.Equal(t, "title of HS_1", catalog.updated[0].Fields["crowd_titel"])
	assert.Equal(t, "ub", catalog.updated[0].Catalog)

	require.Len(t, results.entries, 3)
	assert.True(t, results.entries[0].Success)
	assert.False(t, results.entries[1].Success)
	assert.Equal(t, "HTTP 409", results.entries[1].Message)
	assert.Equal(t, t0, results.entries[2].CreatedAt)

	assert.Equal(t, OutcomeSuccess, step.LastOutcome().Kind)
	assert.Equal(t, "Updated 2 records, 1 failed.", step.ResultOfLastRun())
}

func TestBackflowStep_NoNewRecords(t *testing.T) {
	step := NewBackflowStep(BackflowStepConfig{
		Source:  &stubSource{},
		Catalog: &stubCatalog{},
		Logger:  discardLogger(),
	})

	require.NoError(t, step.Run(context.Background()))
	assert.Equal(t, OutcomeFailure, step.LastOutcome().Kind)
	assert.Equal(t, "Failure: No new records found.", step.ResultOfLastRun())
}

func TestBackflowStep_SourceErrorIsTolerated(t *testing.T) {
	step := NewBackflowStep(BackflowStepConfig{
		Source:  &stubSource{err: fmt.Errorf("solr returned HTTP 503")},
		Catalog: &stubCatalog{},
		Logger:  discardLogger(),
	})

	require.NoError(t, step.Run(context.Background()))
	assert.Equal(t, OutcomeFailure, step.LastOutcome().Kind)
	assert.Contains(t, step.LastOutcome().Message, "HTTP 503")
}

func TestBackflowStep_InvalidDocumentAbortsRun(t *testing.T) {
	catalog := &stubCatalog{}
	step := NewBackflowStep(BackflowStepConfig{
		Source:  &stubSource{docs: []map[string]interface{}{{"title_tdsim": "nameless"}, solrDoc("HS_1")}},
		Catalog: catalog,
		Logger:  discardLogger(),
	})

	err := step.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), RecordNameField)
	assert.Empty(t, catalog.updated)
	assert.Equal(t, OutcomeFailure, step.LastOutcome().Kind)
}

func TestBackflowStep_WithReportStore(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(t0)
	store := newTestStore(t)
	step := NewBackflowStep(BackflowStepConfig{
		Source:  &stubSource{docs: []map[string]interface{}{solrDoc("HS_1")}},
		Catalog: &stubCatalog{},
		Results: store,
		Name:    "ub",
		Clock:   clock,
		Logger:  discardLogger(),
	})
	require.NoError(t, step.Run(ctx))

	mailer := &stubMailer{}
	mail := NewSendMailStep(store, mailer, 24*time.Hour, clock)
	require.NoError(t, mail.Run(ctx))

	require.NotNil(t, mailer.report)
	require.Len(t, mailer.report.Successes(), 1)
	assert.Equal(t, "HS_1", mailer.report.Successes()[0].RecordName)
}
