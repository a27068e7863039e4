package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/peervest/lending-engine/internal/domain"
	"github.com/peervest/lending-engine/internal/repository"
	"github.com/peervest/lending-engine/pkg/money"
)

const statsCacheKey = "stats:system"

// ProjectionService assembles the read-only views the UI consumes. The
// ledger is the source of truth; these are derived snapshots, cached in
// Redis for a short TTL and invalidated on writes.
type ProjectionService struct {
	repos repository.Repos
	rdb   *redis.Client
	ttl   time.Duration
}

func NewProjectionService(repos repository.Repos, rdb *redis.Client, ttl time.Duration) *ProjectionService {
	return &ProjectionService{repos: repos, rdb: rdb, ttl: ttl}
}

func loanCacheKey(loanID uuid.UUID) string {
	return fmt.Sprintf("loan:%s", loanID)
}

// LoanDetail returns the full loan projection: status, funding progress,
// contributions, repayments with distributions, and the display-only
// expected return.
func (s *ProjectionService) LoanDetail(ctx context.Context, loanID uuid.UUID) (*domain.LoanResponse, error) {
	if cached := s.fromCache(ctx, loanCacheKey(loanID)); cached != nil {
		var resp domain.LoanResponse
		if err := json.Unmarshal(cached, &resp); err == nil {
			return &resp, nil
		}
	}

	loan, err := s.repos.Loans.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	contributions, err := s.repos.Loans.Contributions(ctx, loanID)
	if err != nil {
		return nil, err
	}
	repayments, err := s.repos.Loans.Repayments(ctx, loanID)
	if err != nil {
		return nil, err
	}

	resp := &domain.LoanResponse{
		Loan:           loan,
		Contributions:  contributions,
		Repayments:     repayments,
		ExpectedReturn: money.ExpectedReturn(money.FromMinor(loan.FundedAmount), loan.Rate()),
	}

	s.toCache(ctx, loanCacheKey(loanID), resp)
	return resp, nil
}

// SystemStats returns the admin aggregate view.
func (s *ProjectionService) SystemStats(ctx context.Context) (*domain.SystemStats, error) {
	if cached := s.fromCache(ctx, statsCacheKey); cached != nil {
		var stats domain.SystemStats
		if err := json.Unmarshal(cached, &stats); err == nil {
			return &stats, nil
		}
	}

	stats, err := s.repos.Loans.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalAccounts, err = s.repos.Accounts.Count(ctx)
	if err != nil {
		return nil, err
	}

	s.toCache(ctx, statsCacheKey, stats)
	return stats, nil
}

// StatusHistory returns the loan's transition audit trail.
func (s *ProjectionService) StatusHistory(ctx context.Context, loanID uuid.UUID) ([]*domain.StatusEvent, error) {
	if _, err := s.repos.Loans.GetByID(ctx, loanID); err != nil {
		return nil, err
	}
	return s.repos.Loans.StatusEvents(ctx, loanID)
}

// InvalidateLoan drops the cached projections touched by a loan mutation.
func (s *ProjectionService) InvalidateLoan(ctx context.Context, loanID uuid.UUID) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, loanCacheKey(loanID), statsCacheKey).Err(); err != nil {
		log.Printf("Error invalidating loan cache %s: %v", loanID, err)
	}
}

func (s *ProjectionService) fromCache(ctx context.Context, key string) []byte {
	if s.rdb == nil {
		return nil
	}
	payload, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	return payload
}

func (s *ProjectionService) toCache(ctx context.Context, key string, v any) {
	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		log.Printf("Error caching projection %s: %v", key, err)
	}
}
