package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"clientops-controlplane/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator issues short human-readable codes backed by a daily Redis counter.
type Generator interface {
	NextCampaignCode(ctx context.Context) (string, error)
	// NextCreditCode issues a code for a credit or upsell payout, e.g.
	// GUAR-AB12CD34-251016-00AK7.
	NextCreditCode(ctx context.Context, prefix, ref string) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
	now func() time.Time
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
		now: time.Now,
	}
}

func (g *RedisGenerator) NextCampaignCode(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, "CMP", "")
}

func (g *RedisGenerator) NextCreditCode(ctx context.Context, prefix, ref string) (string, error) {
	ref = strings.ToUpper(ref)
	if len(ref) > 8 {
		ref = ref[:8]
	}
	return g.nextDailyCode(ctx, strings.ToUpper(prefix), ref)
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix, ref string) (string, error) {
	now := g.now().UTC()
	today := now.Format("060102")
	key := rediskey.BuildSequenceKey(prefix, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		endOfDay := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		_ = g.rdb.ExpireAt(ctx, key, endOfDay).Err()
	}

	randSuffix, err := randomAlphaNumeric(2)
	if err != nil {
		return "", err
	}

	return formatCode(prefix, ref, today, seq, randSuffix), nil
}

func formatCode(prefix, ref, day string, seq int64, suffix string) string {
	encodedSeq := strings.ToUpper(strconv.FormatInt(seq, 36))
	if n := len(encodedSeq); n < 3 {
		encodedSeq = strings.Repeat("0", 3-n) + encodedSeq
	}
	if ref != "" {
		return fmt.Sprintf("%s-%s-%s-%s%s", prefix, ref, day, encodedSeq, suffix)
	}
	return fmt.Sprintf("%s-%s-%s%s", prefix, day, encodedSeq, suffix)
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
