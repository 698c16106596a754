package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"golang.org/x/sync/singleflight"
)

// Verification result labels reported to the observer.
const (
	VerifyResultCacheHit = "cache_hit"
	VerifyResultRegistry = "registry"
	VerifyResultShared   = "shared"
	VerifyResultError    = "error"
	VerifyResultCanceled = "canceled"
)

const (
	defaultVerifyCacheTTL  = 15 * time.Second
	defaultVerifyCacheSize = 4096
	defaultVerifyTimeout   = 5 * time.Second
)

// TokenVerifier confirms a token against the authority that issued it.
// It returns an error matching ErrMissingCredential or ErrExpiredCredential for
// definitive negative answers; any other error is a verification failure.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (domainauth.Session, error)
}

// VerificationObserver receives one observation per Check call.
type VerificationObserver interface {
	ObserveVerification(result string, d time.Duration)
}

// VerificationOptions configures a VerificationCoordinator.
type VerificationOptions struct {
	CacheTTL  time.Duration // default 15s
	CacheSize int           // default 4096
	Timeout   time.Duration // bound on one registry call, default 5s
	// DisableCache sends every check to the registry. CacheTTL is ignored.
	DisableCache bool
	Now          func() time.Time
	Observer     VerificationObserver
	Logger       *slog.Logger
}

// VerificationCoordinator deduplicates and caches remote token verification.
//
// Concurrent checks for one token share a single upstream call. Each check is
// stamped with a generation; only the newest generation for a token may write
// the cache, and Invalidate bumps the generation so a check that started before
// a logout can never cache the revoked token as valid.
type VerificationCoordinator struct {
	verifier TokenVerifier
	group    singleflight.Group
	cache    *verdictCache
	opts     VerificationOptions

	mu       sync.Mutex
	seq      uint64
	inflight map[string]*generation
}

type generation struct {
	current uint64
	waiters int
}

// Verification is the outcome of a remote check.
type Verification struct {
	Verdict domainauth.Verdict
	Session domainauth.Session // registry copy, set when Authenticated
	Cached  bool
}

// NewVerificationCoordinator creates a coordinator around verifier.
func NewVerificationCoordinator(verifier TokenVerifier, opts VerificationOptions) *VerificationCoordinator {
	if verifier == nil {
		panic("verification coordinator requires a TokenVerifier")
	}
	switch {
	case opts.DisableCache:
		opts.CacheTTL = 0
	case opts.CacheTTL <= 0:
		opts.CacheTTL = defaultVerifyCacheTTL
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultVerifyCacheSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultVerifyTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &VerificationCoordinator{
		verifier: verifier,
		cache:    newVerdictCache(opts.CacheSize, opts.Now),
		opts:     opts,
		inflight: make(map[string]*generation),
	}
}

// Check verifies token. When ctx is canceled before the answer arrives Check
// returns ctx.Err() and records nothing. Verification failures are returned as
// errors wrapping domainauth.ErrVerificationFailure with an Unauthenticated verdict.
func (c *VerificationCoordinator) Check(ctx context.Context, token string) (Verification, error) {
	start := time.Now()
	if token == "" {
		return Verification{Verdict: domainauth.Unauthenticated}, nil
	}

	if ent, ok := c.cache.get(token); ok {
		c.observe(VerifyResultCacheHit, start)
		return Verification{Verdict: ent.verdict, Session: ent.session, Cached: true}, nil
	}

	gen := c.begin(token)
	ch := c.group.DoChan(token, func() (any, error) {
		// The shared call outlives any single caller's cancellation.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
		defer cancel()
		return c.verifier.Verify(callCtx, token)
	})

	select {
	case <-ctx.Done():
		c.finish(token, gen)
		c.observe(VerifyResultCanceled, start)
		c.opts.Logger.DebugContext(ctx, "session verification abandoned", "reason", ctx.Err())
		return Verification{Verdict: domainauth.Unauthenticated}, ctx.Err()
	case res := <-ch:
		latest := c.finish(token, gen)
		return c.settle(ctx, settleInput{token: token, latest: latest, res: res, start: start})
	}
}

type settleInput struct {
	token  string
	latest bool
	res    singleflight.Result
	start  time.Time
}

func (c *VerificationCoordinator) settle(ctx context.Context, in settleInput) (Verification, error) {
	var v Verification
	switch err := in.res.Err; {
	case err == nil:
		sess, _ := in.res.Val.(domainauth.Session)
		v = Verification{Verdict: domainauth.Authenticated, Session: sess}
	case errors.Is(err, domainauth.ErrExpiredCredential):
		v = Verification{Verdict: domainauth.Expired}
	case errors.Is(err, domainauth.ErrMissingCredential):
		v = Verification{Verdict: domainauth.Unauthenticated}
	default:
		c.observe(VerifyResultError, in.start)
		if errors.Is(err, domainauth.ErrVerificationFailure) {
			return Verification{Verdict: domainauth.Unauthenticated}, err
		}
		return Verification{Verdict: domainauth.Unauthenticated}, errors.Join(domainauth.ErrVerificationFailure, err)
	}

	// A caller that went away after the answer arrived still writes nothing.
	if in.latest && ctx.Err() == nil {
		c.cache.set(in.token, v.Verdict, v.Session, c.opts.CacheTTL)
	}

	result := VerifyResultRegistry
	if in.res.Shared {
		result = VerifyResultShared
	}
	c.observe(result, in.start)
	return v, nil
}

// Invalidate drops any cached verdict for token and prevents checks already in
// flight from caching their answer.
func (c *VerificationCoordinator) Invalidate(token string) {
	if token == "" {
		return
	}
	// Checks starting after this point must not join the pre-invalidation call.
	c.group.Forget(token)

	c.mu.Lock()
	c.seq++
	if g, ok := c.inflight[token]; ok {
		g.current = c.seq
	}
	c.mu.Unlock()

	c.cache.delete(token)
}

// Stats returns cache counters.
func (c *VerificationCoordinator) Stats() CacheStats { return c.cache.stats() }

func (c *VerificationCoordinator) begin(token string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	g, ok := c.inflight[token]
	if !ok {
		g = &generation{}
		c.inflight[token] = g
	}
	g.current = c.seq
	g.waiters++
	return c.seq
}

// finish reports whether gen is still the newest generation for token.
func (c *VerificationCoordinator) finish(token string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.inflight[token]
	if !ok {
		return false
	}
	latest := g.current == gen
	g.waiters--
	if g.waiters <= 0 {
		delete(c.inflight, token)
	}
	return latest
}

func (c *VerificationCoordinator) observe(result string, start time.Time) {
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveVerification(result, time.Since(start))
	}
}
