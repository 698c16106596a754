package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	sess    domainauth.Session
	err     error
}

func newBlockingVerifier() *fakeVerifier {
	return &fakeVerifier{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (domainauth.Session, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return domainauth.Session{}, f.err
	}
	s := f.sess
	s.Token = token
	return s, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) ObserveVerification(result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, result)
}

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.results...)
}

func waiters(c *VerificationCoordinator, token string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.inflight[token]; ok {
		return g.waiters
	}
	return 0
}

func waitForWaiters(t *testing.T, c *VerificationCoordinator, token string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return waiters(c, token) == n }, time.Second, time.Millisecond)
	// begin precedes joining the shared call; give the last caller time to join.
	time.Sleep(20 * time.Millisecond)
}

func TestVerificationCoordinator_EmptyToken(t *testing.T) {
	f := &fakeVerifier{}
	c := NewVerificationCoordinator(f, VerificationOptions{})

	v, err := c.Check(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, domainauth.Unauthenticated, v.Verdict)
	assert.Zero(t, f.calls.Load())
}

func TestVerificationCoordinator_CachesAnswers(t *testing.T) {
	obs := &recordingObserver{}
	f := &fakeVerifier{sess: domainauth.Session{UserID: "7", Role: domainauth.RoleTeacher}}
	c := NewVerificationCoordinator(f, VerificationOptions{Observer: obs})
	ctx := context.Background()

	first, err := c.Check(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, domainauth.Authenticated, first.Verdict)
	assert.False(t, first.Cached)
	assert.Equal(t, "7", first.Session.UserID)

	second, err := c.Check(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, domainauth.Authenticated, second.Verdict)

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, []string{VerifyResultRegistry, VerifyResultCacheHit}, obs.snapshot())
}

func TestVerificationCoordinator_MapsRegistryAnswers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    domainauth.Verdict
		wantErr bool
		cached  bool
	}{
		{name: "missing", err: fmt.Errorf("lookup: %w", domainauth.ErrMissingCredential), want: domainauth.Unauthenticated, cached: true},
		{name: "expired", err: domainauth.ErrExpiredCredential, want: domainauth.Expired, cached: true},
		{name: "registry down", err: errors.New("connection refused"), want: domainauth.Unauthenticated, wantErr: true},
		{
			name:    "already classified failure",
			err:     fmt.Errorf("%w: timeout", domainauth.ErrVerificationFailure),
			want:    domainauth.Unauthenticated,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewVerificationCoordinator(&fakeVerifier{err: tt.err}, VerificationOptions{})
			v, err := c.Check(context.Background(), "tok")
			if tt.wantErr {
				require.ErrorIs(t, err, domainauth.ErrVerificationFailure)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, v.Verdict)
			assert.Equal(t, tt.cached, c.Stats().Size == 1)
		})
	}
}

func TestVerificationCoordinator_DeduplicatesConcurrentChecks(t *testing.T) {
	f := newBlockingVerifier()
	c := NewVerificationCoordinator(f, VerificationOptions{})

	const n = 8
	var wg sync.WaitGroup
	results := make([]Verification, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Check(context.Background(), "tok")
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	<-f.started
	waitForWaiters(t, c, "tok", n)
	close(f.release)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, v := range results {
		assert.Equal(t, domainauth.Authenticated, v.Verdict)
	}
	assert.Equal(t, 1, c.Stats().Size)
}

func TestVerificationCoordinator_CanceledCallerWritesNothing(t *testing.T) {
	f := newBlockingVerifier()
	obs := &recordingObserver{}
	c := NewVerificationCoordinator(f, VerificationOptions{Observer: obs})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Check(ctx, "tok")
		done <- err
	}()

	<-f.started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// The upstream answer arriving later must not be cached.
	close(f.release)
	require.Eventually(t, func() bool { return waiters(c, "tok") == 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, c.Stats().Size)
	assert.Equal(t, []string{VerifyResultCanceled}, obs.snapshot())
}

func TestVerificationCoordinator_CancelDoesNotAffectOtherWaiters(t *testing.T) {
	f := newBlockingVerifier()
	c := NewVerificationCoordinator(f, VerificationOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	canceled := make(chan error, 1)
	go func() {
		_, err := c.Check(ctx, "tok")
		canceled <- err
	}()
	<-f.started
	waitForWaiters(t, c, "tok", 1)

	survivor := make(chan Verification, 1)
	go func() {
		v, err := c.Check(context.Background(), "tok")
		assert.NoError(t, err)
		survivor <- v
	}()
	waitForWaiters(t, c, "tok", 2)

	cancel()
	require.ErrorIs(t, <-canceled, context.Canceled)
	close(f.release)

	v := <-survivor
	assert.Equal(t, domainauth.Authenticated, v.Verdict)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1, c.Stats().Size, "newest caller writes the cache")
}

func TestVerificationCoordinator_InvalidateDuringFlight(t *testing.T) {
	f := newBlockingVerifier()
	c := NewVerificationCoordinator(f, VerificationOptions{})

	result := make(chan Verification, 1)
	go func() {
		v, err := c.Check(context.Background(), "tok")
		assert.NoError(t, err)
		result <- v
	}()
	<-f.started
	waitForWaiters(t, c, "tok", 1)

	c.Invalidate("tok")
	close(f.release)
	<-result

	assert.Equal(t, 0, c.Stats().Size, "a check that began before logout must not cache")
}

func TestVerificationCoordinator_InvalidateDropsCache(t *testing.T) {
	f := &fakeVerifier{}
	c := NewVerificationCoordinator(f, VerificationOptions{})
	ctx := context.Background()

	_, err := c.Check(ctx, "tok")
	require.NoError(t, err)
	c.Invalidate("tok")
	c.Invalidate("")

	f.err = domainauth.ErrMissingCredential
	v, err := c.Check(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, domainauth.Unauthenticated, v.Verdict)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestVerificationCoordinator_NewestGenerationWins(t *testing.T) {
	f := newBlockingVerifier()
	c := NewVerificationCoordinator(f, VerificationOptions{})

	older := make(chan struct{})
	go func() {
		defer close(older)
		_, _ = c.Check(context.Background(), "tok")
	}()
	<-f.started
	waitForWaiters(t, c, "tok", 1)

	// Logout, then a fresh check starts its own upstream call.
	c.Invalidate("tok")
	newer := make(chan Verification, 1)
	go func() {
		v, _ := c.Check(context.Background(), "tok")
		newer <- v
	}()
	<-f.started
	waitForWaiters(t, c, "tok", 2)

	close(f.release)
	<-older
	<-newer
	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, 1, c.Stats().Size)
}

// revokingVerifier holds its first call open and answers it as valid; every
// later call reports the token revoked.
type revokingVerifier struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (v *revokingVerifier) Verify(_ context.Context, token string) (domainauth.Session, error) {
	if v.calls.Add(1) > 1 {
		return domainauth.Session{}, domainauth.ErrMissingCredential
	}
	v.started <- struct{}{}
	<-v.release
	return domainauth.Session{Token: token}, nil
}

func TestVerificationCoordinator_CheckAfterInvalidateSeesRevocation(t *testing.T) {
	f := &revokingVerifier{started: make(chan struct{}, 1), release: make(chan struct{})}
	c := NewVerificationCoordinator(f, VerificationOptions{})

	older := make(chan Verification, 1)
	go func() {
		v, err := c.Check(context.Background(), "tok")
		assert.NoError(t, err)
		older <- v
	}()
	<-f.started
	waitForWaiters(t, c, "tok", 1)

	c.Invalidate("tok")
	v, err := c.Check(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, domainauth.Unauthenticated, v.Verdict, "must not join the call that started before logout")

	close(f.release)
	assert.Equal(t, domainauth.Authenticated, (<-older).Verdict)

	cached, err := c.Check(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, domainauth.Unauthenticated, cached.Verdict)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestVerificationCoordinator_DisableCache(t *testing.T) {
	f := &fakeVerifier{}
	c := NewVerificationCoordinator(f, VerificationOptions{CacheTTL: time.Minute, DisableCache: true})
	ctx := context.Background()

	for range 2 {
		v, err := c.Check(ctx, "tok")
		require.NoError(t, err)
		assert.Equal(t, domainauth.Authenticated, v.Verdict)
		assert.False(t, v.Cached)
	}
	assert.Equal(t, int32(2), f.calls.Load())
	assert.Equal(t, 0, c.Stats().Size)
}

func TestVerificationCoordinator_NonPositiveTTLUsesDefault(t *testing.T) {
	for _, ttl := range []time.Duration{0, -time.Second} {
		f := &fakeVerifier{}
		c := NewVerificationCoordinator(f, VerificationOptions{CacheTTL: ttl})

		_, err := c.Check(context.Background(), "tok")
		require.NoError(t, err)
		v, err := c.Check(context.Background(), "tok")
		require.NoError(t, err)
		assert.True(t, v.Cached, "ttl %s", ttl)
		assert.Equal(t, int32(1), f.calls.Load())
	}
}
