// Copyright 2026 The Hive Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llms

import (
	"fmt"
	"math"
	"net/http"
	"time"
)

// RetryStrategy selects the retry approach for an HTTP failure.
type RetryStrategy int

const (
	NoRetry           RetryStrategy = iota
	ConservativeRetry               // quick retry for server errors, max 2 attempts
	SmartRetry                      // header-driven retry for rate limits
)

// retryStrategyFor maps an HTTP status code to a retry strategy.
func retryStrategyFor(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// RateLimitInfo carries rate limit hints extracted from response headers.
type RateLimitInfo struct {
	RetryAfter time.Duration
	ResetTime  int64
}

// parseAnthropicRateLimitHeaders extracts Anthropic rate limit information.
func parseAnthropicRateLimitHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if retryAfter := headers.Get("retry-after"); retryAfter != "" {
		if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
			info.RetryAfter = seconds
		}
	}

	// Reset time is RFC 3339.
	if resetStr := headers.Get("anthropic-ratelimit-requests-reset"); resetStr != "" {
		if resetTime, err := time.Parse(time.RFC3339, resetStr); err == nil {
			info.ResetTime = resetTime.Unix()
		}
	}

	return info
}

// parseOpenAIRateLimitHeaders extracts OpenAI rate limit information.
func parseOpenAIRateLimitHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
			info.RetryAfter = seconds
		}
	}

	// Reset time is a Unix timestamp in seconds.
	if resetStr := headers.Get("x-ratelimit-reset-requests"); resetStr != "" {
		var resetTime int64
		if _, err := fmt.Sscanf(resetStr, "%d", &resetTime); err == nil {
			info.ResetTime = resetTime
		}
	}

	return info
}

// retryDelay computes the wait before the next attempt under the given
// strategy, preferring provider hints over exponential backoff.
func retryDelay(strategy RetryStrategy, attempt int, baseDelay time.Duration, info RateLimitInfo) time.Duration {
	if strategy == ConservativeRetry {
		return time.Duration(2+attempt) * time.Second // 2s, 3s
	}

	if info.RetryAfter > 0 {
		return info.RetryAfter
	}
	if info.ResetTime > 0 {
		if delay := time.Until(time.Unix(info.ResetTime, 0)); delay > 0 {
			return delay
		}
	}

	exponential := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
	jitter := time.Duration(float64(exponential) * 0.1)
	return exponential + jitter
}
