// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// AgentRateLimiter throttles the agent-facing routes per agent id. One
// token bucket per agent, created on first sight.
//
// # Thread Safety
//
// Safe for concurrent use.
type AgentRateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAgentRateLimiter builds a limiter allowing rps requests per second
// with the given burst per agent. Non-positive rps disables limiting.
func NewAgentRateLimiter(rps float64, burst int) *AgentRateLimiter {
	return &AgentRateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *AgentRateLimiter) limiterFor(agentID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[agentID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[agentID] = limiter
	}
	return limiter
}

// Middleware rejects over-limit requests with 429. Requests without an
// agent id parameter pass through.
func (l *AgentRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.limit <= 0 {
			c.Next()
			return
		}
		agentID := c.Param("agentId")
		if agentID == "" {
			c.Next()
			return
		}
		if !l.limiterFor(agentID).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				gin.H{"error": "rate limit exceeded for agent " + agentID})
			return
		}
		c.Next()
	}
}
