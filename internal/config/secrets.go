package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"
)

// SecretSource resolves parameter names to plaintext values. Names the source
// does not know are reported as an error rather than omitted.
type SecretSource interface {
	Resolve(ctx context.Context, names []string) (map[string]string, error)
}

const (
	// GetParameters accepts at most 10 names per call.
	ssmPageSize = 10
	// Concurrent GetParameters calls per Resolve.
	ssmParallel = 3
	ssmAttempts = 4
)

type parameterGetter interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMSource reads SecureString parameters from SSM Parameter Store in the
// given region. The client is created on first use.
type SSMSource struct {
	region string

	once    sync.Once
	client  parameterGetter
	initErr error

	// backoff returns the wait before retry n (1-based).
	backoff func(n int) time.Duration
}

// NewSSMSource returns a source bound to region.
func NewSSMSource(region string) *SSMSource {
	return &SSMSource{region: region, backoff: jitteredBackoff}
}

func (s *SSMSource) getter(ctx context.Context) (parameterGetter, error) {
	s.once.Do(func() {
		if s.client != nil {
			return
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.region))
		if err != nil {
			s.initErr = fmt.Errorf("loading AWS config for SSM in %s: %w", s.region, err)
			return
		}
		s.client = ssm.NewFromConfig(cfg)
	})
	return s.client, s.initErr
}

// Resolve fetches names in pages of ten, a few pages at a time, with
// decryption. Throttled pages are retried with jittered backoff.
func (s *SSMSource) Resolve(ctx context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	if len(names) == 0 {
		return out, nil
	}
	client, err := s.getter(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		missing []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ssmParallel)
	for start := 0; start < len(names); start += ssmPageSize {
		page := names[start:min(start+ssmPageSize, len(names))]
		g.Go(func() error {
			resp, err := s.fetchPage(gctx, client, page)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, p := range resp.Parameters {
				if p.Name != nil && p.Value != nil {
					out[*p.Name] = *p.Value
				}
			}
			missing = append(missing, resp.InvalidParameters...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("ssm parameters not found: %v", missing)
	}
	return out, nil
}

func (s *SSMSource) fetchPage(ctx context.Context, client parameterGetter, page []string) (*ssm.GetParametersOutput, error) {
	var lastErr error
	for attempt := 1; attempt <= ssmAttempts; attempt++ {
		resp, err := client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          page,
			WithDecryption: aws.Bool(true),
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !throttled(err) || attempt == ssmAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.backoff(attempt)):
		}
	}
	return nil, fmt.Errorf("ssm GetParameters %v: %w", page, lastErr)
}

func throttled(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "TooManyUpdates", "RequestLimitExceeded":
		return true
	}
	return false
}

// jitteredBackoff doubles from 100ms with full jitter.
func jitteredBackoff(n int) time.Duration {
	ceiling := 100 * time.Millisecond << (n - 1)
	return time.Duration(rand.Int64N(int64(ceiling)) + 1)
}
