package middleware

import (
	"context"
	"errors"
	"testing"

	"goa.design/capgate/runtime/model"
)

type fakeClient struct {
	completeErr   error
	completeCalls int
}

func (f *fakeClient) Complete(_ context.Context, _ model.Request) (model.Response, error) {
	f.completeCalls++
	return model.Response{Content: "ok"}, f.completeErr
}

func userRequest(text string) model.Request {
	return model.Request{
		Messages: []*model.Message{{Role: model.RoleUser, Content: text}},
	}
}

func TestAdaptiveRateLimiterBackoffOnRateLimited(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 60000)
	initialTPM := limiter.TPM()

	client := &fakeClient{
		completeErr: model.NewProviderError("openai", 429, model.ProviderErrorKindRateLimited, "slow down", true, nil),
	}
	wrapped := limiter.Middleware()(client)

	_, err := wrapped.Complete(context.Background(), userRequest("hello"))
	if err == nil || !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if got := limiter.TPM(); got >= initialTPM {
		t.Fatalf("expected TPM to decrease, got %f (initial %f)", got, initialTPM)
	}
}

func TestAdaptiveRateLimiterProbeOnSuccess(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 120000)
	initialTPM := limiter.TPM()

	client := &fakeClient{}
	wrapped := limiter.Middleware()(client)

	if _, err := wrapped.Complete(context.Background(), userRequest("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.completeCalls != 1 {
		t.Fatalf("expected one delegate call, got %d", client.completeCalls)
	}
	if got := limiter.TPM(); got <= initialTPM {
		t.Fatalf("expected TPM to increase, got %f (initial %f)", got, initialTPM)
	}
}

func TestAdaptiveRateLimiterIgnoresOtherErrors(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 60000)
	initialTPM := limiter.TPM()

	client := &fakeClient{completeErr: errors.New("boom")}
	wrapped := limiter.Middleware()(client)

	_, err := wrapped.Complete(context.Background(), userRequest("hello"))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := limiter.TPM(); got != initialTPM {
		t.Fatalf("expected TPM unchanged on non-throttle errors, got %f", got)
	}
}

func TestEstimateTokensFloor(t *testing.T) {
	if got := estimateTokens(model.Request{}); got != 500 {
		t.Fatalf("expected floor estimate 500, got %d", got)
	}
	req := userRequest("xxx")
	if got := estimateTokens(req); got <= 500 {
		t.Fatalf("expected estimate above floor, got %d", got)
	}
}
