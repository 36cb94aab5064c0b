package minting

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"ms-eventchain/internal/models"

	"github.com/go-redis/redis/v8"
)

const (
	localCounterKey    = "eventchain:mint:token_counter"
	localTokenKey      = "eventchain:mint:app:"
	localAttendanceKey = "eventchain:chain:attendance:"
	localAnchorKey     = "eventchain:chain:certificate:"
)

// LocalMinter hands out token ids from a Redis counter when no chain service
// is configured. The id for an application is remembered so repeated calls
// return the same token.
type LocalMinter struct {
	client *redis.Client
}

func NewLocalMinter(client *redis.Client) *LocalMinter {
	return &LocalMinter{client: client}
}

func (m *LocalMinter) Mint(ctx context.Context, req models.MintRequest) (*models.MintResult, error) {
	key := localTokenKey + req.ApplicationID

	if existing, err := m.lookup(ctx, key); err != nil || existing != nil {
		return existing, err
	}

	next, err := m.client.Incr(ctx, localCounterKey).Result()
	if err != nil {
		return nil, fmt.Errorf("allocate token id: %w", err)
	}

	ok, err := m.client.SetNX(ctx, key, next, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("bind token id: %w", err)
	}
	if !ok {
		// Lost a race for this application; the winner's id stands and ours
		// is simply skipped.
		existing, err := m.lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("token binding for %s vanished", req.ApplicationID)
		}
		return existing, nil
	}

	return &models.MintResult{TokenID: next, TransactionHash: localTxHash(next)}, nil
}

func (m *LocalMinter) lookup(ctx context.Context, key string) (*models.MintResult, error) {
	val, err := m.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token binding: %w", err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, Permanent(fmt.Errorf("corrupt token binding %q", val))
	}
	return &models.MintResult{TokenID: id, TransactionHash: localTxHash(id)}, nil
}

// MarkAttendance records the first mark per token; later calls return the
// original receipt.
func (m *LocalMinter) MarkAttendance(ctx context.Context, req models.AttendanceRequest) (*models.ChainReceipt, error) {
	key := localAttendanceKey + strconv.FormatInt(req.TokenID, 10)
	return m.record(ctx, key, fmt.Sprintf("local-attend-%d", req.TokenID))
}

func (m *LocalMinter) AnchorCertificate(ctx context.Context, req models.AnchorRequest) (*models.ChainReceipt, error) {
	if req.FileHash == "" {
		return nil, Permanent(fmt.Errorf("certificate %s has no file hash", req.CertificateID))
	}
	key := localAnchorKey + strconv.FormatInt(req.TokenID, 10)
	return m.record(ctx, key, "local-cert-"+req.FileHash)
}

func (m *LocalMinter) record(ctx context.Context, key, hash string) (*models.ChainReceipt, error) {
	if _, err := m.client.SetNX(ctx, key, hash, 0).Result(); err != nil {
		return nil, fmt.Errorf("record %s: %w", key, err)
	}
	stored, err := m.client.Get(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return &models.ChainReceipt{TransactionHash: stored}, nil
}

func localTxHash(id int64) string {
	return fmt.Sprintf("local-%d", id)
}
