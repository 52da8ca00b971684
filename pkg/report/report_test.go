package report_test

import (
	"testing"

	"github.com/nicktill/tixcondenser/pkg/report"
	"github.com/nicktill/tixcondenser/pkg/report/reporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservationSize(t *testing.T) {
	assert.Equal(t, 45, report.ObservationSize)
}

func TestFirstObservationTimestamp(t *testing.T) {
	payload := reporttest.Payload(1530000123, 3)

	assert.Equal(t, int64(1530000123), report.FirstObservationTimestamp(payload))
	assert.Equal(t, int64(0), report.FirstObservationTimestamp(payload[:4]))
}

func TestObservationTimestamps(t *testing.T) {
	payload := reporttest.Payload(1000, 4)

	assert.Equal(t, []int64{1000, 1001, 1002, 1003}, report.ObservationTimestamps(payload))
	assert.Equal(t, 4, report.ObservationsIn(payload))
	assert.Empty(t, report.ObservationTimestamps(nil))
}

func TestCheckPayload(t *testing.T) {
	require.NoError(t, report.CheckPayload(reporttest.Payload(1, 60)))
	require.ErrorIs(t, report.CheckPayload(nil), report.ErrEmptyPayload)
	require.ErrorIs(t, report.CheckPayload(make([]byte, report.ObservationSize+1)), report.ErrPartialObservation)
}

func TestReport_Accessors(t *testing.T) {
	r := reporttest.Defaults().
		WithStartTimestamp(1530000600).
		WithFrom("200.10.1.7:4500").
		WithObservations(12).
		Build()

	assert.Equal(t, int64(1530000600), r.StartTimestamp())
	assert.Equal(t, 12, r.Observations())
	assert.Equal(t, "200.10.1.7", r.SourceHost())

	r.SourceAddress = "200.10.1.7"
	assert.Equal(t, "200.10.1.7", r.SourceHost())
}

func TestCodec_RoundTrip(t *testing.T) {
	var codec report.Codec
	original := reporttest.Defaults().WithUserID(7).WithInstallationID(42).Build()

	data, err := codec.Serialize(original)
	require.NoError(t, err)

	decoded, err := codec.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestCodec_List(t *testing.T) {
	var codec report.Codec
	reports := reporttest.Defaults().Series(reporttest.DefaultStartTimestamp, 3, 60)

	data, err := codec.SerializeList(reports)
	require.NoError(t, err)

	decoded, err := codec.DeserializeList(data)
	require.NoError(t, err)
	assert.Equal(t, reports, decoded)

	empty, err := codec.SerializeList(nil)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(empty))
}

func TestCodec_DeserializeGarbage(t *testing.T) {
	var codec report.Codec
	_, err := codec.Deserialize([]byte("{not json"))
	require.Error(t, err)
}
