//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bloodbank/internal/inventory/cache"
	"bloodbank/internal/inventory/models"
	"bloodbank/internal/platform/config"
	platformredis "bloodbank/internal/platform/redis"
	"bloodbank/pkg/domain"
	"bloodbank/pkg/testutil/containers"
)

type AvailabilityCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.AvailabilityCache
}

func TestAvailabilityCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AvailabilityCacheSuite))
}

func (s *AvailabilityCacheSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	client, err := platformredis.New(config.RedisConfig{
		URL:          s.redis.URL,
		PoolSize:     5,
		MinIdleConns: 1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	s.Require().NoError(err)
	s.cache = cache.New(client, time.Minute)
}

func (s *AvailabilityCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *AvailabilityCacheSuite) TestRoundTrip() {
	ctx := context.Background()

	got, err := s.cache.Get(ctx)
	s.Require().NoError(err)
	s.Nil(got, "empty cache misses cleanly")

	levels := []models.StockLevel{
		{BloodBank: "Central", Group: domain.GroupAPos, Available: 4},
		{BloodBank: "Central", Group: domain.GroupONeg, Available: 1},
	}
	s.Require().NoError(s.cache.Set(ctx, levels))

	got, err = s.cache.Get(ctx)
	s.Require().NoError(err)
	s.Equal(levels, got)
}

func (s *AvailabilityCacheSuite) TestInvalidate() {
	ctx := context.Background()

	levels := []models.StockLevel{
		{BloodBank: "Central", Group: domain.GroupAPos, Available: 4},
	}
	s.Require().NoError(s.cache.Set(ctx, levels))
	s.Require().NoError(s.cache.Invalidate(ctx))

	got, err := s.cache.Get(ctx)
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *AvailabilityCacheSuite) TestExpiry() {
	ctx := context.Background()

	short := cache.New(mustClient(s), 50*time.Millisecond)
	levels := []models.StockLevel{
		{BloodBank: "Central", Group: domain.GroupBNeg, Available: 2},
	}
	s.Require().NoError(short.Set(ctx, levels))

	time.Sleep(100 * time.Millisecond)
	got, err := short.Get(ctx)
	s.Require().NoError(err)
	s.Nil(got, "snapshot expires with its TTL")
}

func mustClient(s *AvailabilityCacheSuite) *platformredis.Client {
	client, err := platformredis.New(config.RedisConfig{
		URL:          s.redis.URL,
		PoolSize:     5,
		MinIdleConns: 1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	s.Require().NoError(err)
	return client
}
