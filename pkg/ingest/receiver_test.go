package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/nicktill/tixcondenser/pkg/extract"
	"github.com/nicktill/tixcondenser/pkg/registry"
	"github.com/nicktill/tixcondenser/pkg/report"
	"github.com/nicktill/tixcondenser/pkg/report/reporttest"
	"github.com/nicktill/tixcondenser/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t0 = reporttest.DefaultStartTimestamp

type stubAuthorizer struct {
	ok  bool
	err error
}

func (a stubAuthorizer) ValidUserAndInstallation(context.Context, report.Report) (bool, error) {
	return a.ok, a.err
}

type countingRecorder map[string]int

func (c countingRecorder) Received(outcome string) { c[outcome]++ }

// drainSubmitter retires every batch it is handed
type drainSubmitter struct {
	batches int
	err     error
}

func (d *drainSubmitter) Send(ctx context.Context, s *registry.Submittable) error {
	if d.err != nil {
		s.Release()
		return d.err
	}
	for s != nil {
		d.batches++
		next, err := s.OnSubmitSuccess(ctx)
		if err != nil {
			return err
		}
		s = next
	}
	return nil
}

type receiverFixture struct {
	receiver  *Receiver
	backend   *memory.Backend
	submitter *drainSubmitter
	recorder  countingRecorder
}

func newReceiverFixture(auth Authorizer) *receiverFixture {
	backend := memory.NewBackend()
	reg := registry.New(backend, extract.NewDefault(nil))
	f := &receiverFixture{
		backend:   backend,
		submitter: &drainSubmitter{},
		recorder:  countingRecorder{},
	}
	f.receiver = NewReceiver(SignatureValidator{}, auth, reg, f.submitter, f.recorder)
	return f
}

func (f *receiverFixture) stored(t *testing.T) int {
	t.Helper()
	store, err := f.backend.Open(context.Background(), 1, 1)
	require.NoError(t, err)
	return len(store.SampleStartTimes())
}

func encode(t *testing.T, r report.Report) []byte {
	t.Helper()
	raw, err := report.Codec{}.Serialize(r)
	require.NoError(t, err)
	return raw
}

func TestReceive_StoresValidReport(t *testing.T) {
	f := newReceiverFixture(stubAuthorizer{ok: true})

	require.NoError(t, f.receiver.Receive(context.Background(), encode(t, reporttest.Defaults().Build())))

	assert.Equal(t, 1, f.stored(t))
	assert.Equal(t, 1, f.recorder[string(Accepted)])
	assert.Zero(t, f.submitter.batches)
}

func TestReceive_DiscardsUndecodable(t *testing.T) {
	f := newReceiverFixture(stubAuthorizer{ok: true})

	require.NoError(t, f.receiver.Receive(context.Background(), []byte("{not json")))

	assert.Equal(t, 1, f.recorder[string(Undecodable)])
}

func TestReceive_DiscardsInvalid(t *testing.T) {
	f := newReceiverFixture(stubAuthorizer{ok: true})
	r := reporttest.Defaults().Build()
	r.Signature = []byte("forged")

	require.NoError(t, f.receiver.Receive(context.Background(), encode(t, r)))

	assert.Zero(t, f.stored(t))
	assert.Equal(t, 1, f.recorder[string(Invalid)])
}

func TestReceive_DiscardsUnauthorized(t *testing.T) {
	f := newReceiverFixture(stubAuthorizer{ok: false})

	require.NoError(t, f.receiver.Receive(context.Background(), encode(t, reporttest.Defaults().Build())))

	assert.Zero(t, f.stored(t))
	assert.Equal(t, 1, f.recorder[string(Unauthorized)])
}

func TestReceive_AuthorizerErrorPropagates(t *testing.T) {
	f := newReceiverFixture(stubAuthorizer{err: errors.New("api down")})

	err := f.receiver.Receive(context.Background(), encode(t, reporttest.Defaults().Build()))

	require.ErrorIs(t, err, ErrAuthorization)
	assert.ErrorContains(t, err, "api down")
	assert.Zero(t, f.stored(t))
}

func TestReceive_SubmitsCompletedBatch(t *testing.T) {
	f := newReceiverFixture(stubAuthorizer{ok: true})

	for _, r := range reporttest.Defaults().Series(t0, 20, 60) {
		require.NoError(t, f.receiver.Receive(context.Background(), encode(t, r)))
	}

	// The 19th report completes a batch, which retires 9
	assert.Equal(t, 1, f.submitter.batches)
	assert.Equal(t, 11, f.stored(t))
	assert.Equal(t, 20, f.recorder[string(Accepted)])
}

func TestReceive_SubmitErrorPropagatesAndKeepsReports(t *testing.T) {
	f := newReceiverFixture(stubAuthorizer{ok: true})
	reports := reporttest.Defaults().Series(t0, 19, 60)
	for _, r := range reports[:18] {
		require.NoError(t, f.receiver.Receive(context.Background(), encode(t, r)))
	}
	f.submitter.err = errors.New("broker down")

	err := f.receiver.Receive(context.Background(), encode(t, reports[18]))

	require.ErrorContains(t, err, "broker down")
	assert.Equal(t, 19, f.stored(t))

	// Redelivery after the broker recovers ships the released window
	f.submitter.err = nil
	require.NoError(t, f.receiver.Receive(context.Background(), encode(t, reports[18])))
	assert.Equal(t, 1, f.submitter.batches)
	assert.Equal(t, 10, f.stored(t))
}

func TestReceiveReport_Outcome(t *testing.T) {
	f := newReceiverFixture(stubAuthorizer{ok: true})

	outcome, err := f.receiver.ReceiveReport(context.Background(), reporttest.Defaults().Build())

	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)
}
