package services

import (
	"sort"
	"time"

	"github.com/beobal/csp/internal/domain/entities"
)

// RetentionPolicy keeps the newest Keep publications plus any younger than MaxAge
type RetentionPolicy struct {
	Keep   int
	MaxAge time.Duration
}

// Disabled reports whether the policy keeps everything
func (p RetentionPolicy) Disabled() bool {
	return p.Keep <= 0 && p.MaxAge <= 0
}

// RetentionService selects publications to delete
type RetentionService struct{}

// NewRetentionService creates a new retention service
func NewRetentionService() *RetentionService {
	return &RetentionService{}
}

// Select returns the publications that fall outside the policy, oldest first
func (s *RetentionService) Select(pubs []entities.PublishedSnapshot, policy RetentionPolicy, now time.Time) []entities.PublishedSnapshot {
	if policy.Disabled() || len(pubs) == 0 {
		return nil
	}

	sorted := make([]entities.PublishedSnapshot, len(pubs))
	copy(sorted, pubs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	keep := make([]bool, len(sorted))
	for i := 0; i < len(sorted) && i < policy.Keep; i++ {
		keep[i] = true
	}
	if policy.MaxAge > 0 {
		cutoff := now.Add(-policy.MaxAge)
		for i, p := range sorted {
			if p.CreatedAt.After(cutoff) {
				keep[i] = true
			}
		}
	}

	var remove []entities.PublishedSnapshot
	for i := len(sorted) - 1; i >= 0; i-- {
		if !keep[i] {
			remove = append(remove, sorted[i])
		}
	}
	return remove
}
