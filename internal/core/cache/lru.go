// Package cache holds ChunkCache implementations for AI chunking results.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/markdave123-py/studykb/internal/core"
	"github.com/markdave123-py/studykb/internal/models"
)

// LRU is a process-local chunk cache bounded by entry count and age.
type LRU struct {
	lru *expirable.LRU[string, []models.ChunkProposal]
}

func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = 1024
	}
	return &LRU{lru: expirable.NewLRU[string, []models.ChunkProposal](size, nil, ttl)}
}

func (c *LRU) Get(_ context.Context, key string) ([]models.ChunkProposal, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return append([]models.ChunkProposal(nil), v...), true
}

func (c *LRU) Set(_ context.Context, key string, chunks []models.ChunkProposal) {
	c.lru.Add(key, append([]models.ChunkProposal(nil), chunks...))
}

func (c *LRU) Len() int { return c.lru.Len() }

var _ core.ChunkCache = (*LRU)(nil)
