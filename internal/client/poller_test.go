package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/vanity-farm/internal/api/dto"
	"github.com/cuongbtq/vanity-farm/internal/api/handler"
	"github.com/cuongbtq/vanity-farm/internal/api/router"
	"github.com/cuongbtq/vanity-farm/internal/delivery"
	"github.com/cuongbtq/vanity-farm/internal/ledger"
	"github.com/cuongbtq/vanity-farm/internal/matcher"
	"github.com/cuongbtq/vanity-farm/internal/payment"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

const testSecret = "00112233445566778899aabbccddeeff"

type stubGate struct {
	ledger ledger.Ledger
}

func (g *stubGate) Verify(ctx context.Context, txid string) (*payment.Receipt, error) {
	job := &ledger.Job{
		ID:             "job-1",
		Constraint:     matcher.Constraint{Mode: matcher.ModeSuffix, Suffix: "xyz", Length: 3},
		DeliverySecret: testSecret,
		ReceiptTx:      txid,
	}
	if err := g.ledger.Create(ctx, job); err != nil {
		return nil, err
	}
	return &payment.Receipt{
		JobID:       job.ID,
		ProgressURL: "/api/progress/" + job.ID,
		DeliveryURL: "/api/deliver/" + job.ID + "?token=" + testSecret,
	}, nil
}

type recorder struct {
	mu          sync.Mutex
	transitions []State
}

func (r *recorder) record(_, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, to)
}

func newServer(t *testing.T) (*API, ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	l := ledger.NewMemoryLedger(ledger.Options{})
	r := router.SetupRouter(&handler.Dependencies{Logger: discard, Ledger: l, Gate: &stubGate{ledger: l}}, router.Options{})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewAPI(srv.URL, time.Second), l
}

func TestPoller_RedeemsCompletedJob(t *testing.T) {
	api, l := newServer(t)
	codec := delivery.NewCodec(1000)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := api.Submit(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)

	var progressReads int
	rec := &recorder{}
	p := NewPoller(PollerConfig{
		Service:  api,
		Codec:    codec,
		Interval: 10 * time.Millisecond,
		Logger:   discard,
		OnProgress: func(*dto.ProgressResponse) {
			progressReads++
			if progressReads == 3 {
				env, err := codec.Seal(&delivery.Payload{Address: "rxyz", Seed: "sSeed", Algorithm: "ed25519", ReceiptTx: "ABCDEF"}, testSecret, "job-1")
				require.NoError(t, err)
				require.NoError(t, l.Complete(ctx, "job-1", env))
			}
		},
		OnTransition: rec.record,
	})

	payload, err := p.Run(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "rxyz", payload.Address)
	assert.Equal(t, "sSeed", payload.Seed)
	assert.Equal(t, StateRedeemed, p.State())
	assert.Equal(t, []State{StatePolling, StateComplete, StateRedeemed}, rec.transitions)
	assert.GreaterOrEqual(t, progressReads, 4)

	_, err = api.Redeem(ctx, job)
	assert.ErrorIs(t, err, ErrGone)

	_, err = p.Run(ctx, job)
	assert.Error(t, err)
}

func TestPoller_StopsOnFailedJob(t *testing.T) {
	api, l := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := api.Submit(ctx, "ABCDEF")
	require.NoError(t, err)
	require.NoError(t, l.Fail(ctx, job.ID))

	p := NewPoller(PollerConfig{Service: api, Interval: 10 * time.Millisecond, Logger: discard})
	_, err = p.Run(ctx, job)
	require.ErrorIs(t, err, ErrJobFailed)
	assert.Equal(t, StateFailed, p.State())
}

// flakyService fails the first reads, then reports complete and hands out whatever
// redeem is set to.
type flakyService struct {
	failures int
	calls    int
	redeem   func() (*dto.DeliveryResponse, error)
}

func (f *flakyService) Progress(context.Context, *Job) (*dto.ProgressResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &StatusError{Code: 502}
	}
	return &dto.ProgressResponse{Status: "complete"}, nil
}

func (f *flakyService) Redeem(context.Context, *Job) (*dto.DeliveryResponse, error) {
	return f.redeem()
}

func TestPoller_Transitions(t *testing.T) {
	codec := delivery.NewCodec(1000)
	sealed, err := codec.Seal(&delivery.Payload{Address: "rabc"}, testSecret, "job-1")
	require.NoError(t, err)
	otherKey, err := codec.Seal(&delivery.Payload{Address: "rabc"}, "another-secret", "job-1")
	require.NoError(t, err)

	tests := []struct {
		name      string
		service   *flakyService
		wantState State
		wantErr   error
	}{
		{
			name: "retries transient errors",
			service: &flakyService{failures: 2, redeem: func() (*dto.DeliveryResponse, error) {
				return &dto.DeliveryResponse{Cipher: sealed}, nil
			}},
			wantState: StateRedeemed,
		},
		{
			name: "result already taken",
			service: &flakyService{redeem: func() (*dto.DeliveryResponse, error) {
				return nil, ErrGone
			}},
			wantState: StateFailed,
			wantErr:   ErrGone,
		},
		{
			name: "sealed for a different token",
			service: &flakyService{redeem: func() (*dto.DeliveryResponse, error) {
				return &dto.DeliveryResponse{Cipher: otherKey}, nil
			}},
			wantState: StateFailed,
			wantErr:   delivery.ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPoller(PollerConfig{Service: tt.service, Codec: codec, Interval: time.Millisecond, Logger: discard})
			job := &Job{ID: "job-1", DeliveryURL: "http://x/api/deliver/job-1?token=" + testSecret}

			_, err := p.Run(context.Background(), job)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantState, p.State())
		})
	}
}

func TestPoller_HonoursContext(t *testing.T) {
	svc := &flakyService{failures: 1 << 30}
	p := NewPoller(PollerConfig{Service: svc, Interval: 5 * time.Millisecond, Logger: discard})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Run(ctx, &Job{ID: "job-1", DeliveryURL: "/api/deliver/job-1?token=t"})
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, StatePolling, p.State())
}

func TestJob_Token(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "absolute", url: "https://v.example/api/deliver/j?token=abc", want: "abc"},
		{name: "relative", url: "/api/deliver/j?token=abc", want: "abc"},
		{name: "missing", url: "/api/deliver/j", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Job{DeliveryURL: tt.url}.Token()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAPI_Errors(t *testing.T) {
	api, _ := newServer(t)
	ctx := context.Background()

	job, err := api.Submit(ctx, "ABCDEF")
	require.NoError(t, err)

	_, err = api.Redeem(ctx, job)
	assert.ErrorIs(t, err, ErrNotReady)

	bad := *job
	bad.DeliveryURL = job.DeliveryURL + "x"
	_, err = api.Redeem(ctx, &bad)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = api.Submit(ctx, "ABCDEF")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.Code)
}
