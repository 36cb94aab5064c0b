package lottery

import (
	"crypto/rand"
	"fmt"
	mrand "math/rand/v2"

	"ms-eventchain/internal/models"
)

// SelectionPolicy orders n applicants for a draw. The first maxSeats indices
// of the returned permutation are selected, the rest waitlisted.
type SelectionPolicy interface {
	Order(n int) ([]int, error)
}

// UniformPolicy draws a uniformly random permutation, so every applicant has
// the same chance of landing inside the seat count. Each call seeds a fresh
// ChaCha8 stream from crypto/rand.
type UniformPolicy struct{}

func (UniformPolicy) Order(n int) ([]int, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("seed lottery draw: %w", err)
	}
	return mrand.New(mrand.NewChaCha8(seed)).Perm(n), nil
}

// allocate maps a policy permutation onto the applicants. Positions are
// 1-based; the first maxSeats are selected.
func allocate(apps []models.Application, order []int, maxSeats int) ([]models.Allocation, error) {
	if len(order) != len(apps) {
		return nil, fmt.Errorf("selection policy returned %d positions for %d applicants", len(order), len(apps))
	}
	seen := make([]bool, len(apps))
	out := make([]models.Allocation, 0, len(apps))
	for pos, idx := range order {
		if idx < 0 || idx >= len(apps) || seen[idx] {
			return nil, fmt.Errorf("selection policy returned invalid index %d", idx)
		}
		seen[idx] = true

		status := models.ApplicationWaitlisted
		if pos < maxSeats {
			status = models.ApplicationSelected
		}
		out = append(out, models.Allocation{
			ApplicationID: apps[idx].ID,
			UserID:        apps[idx].UserID,
			Status:        status,
			DrawPosition:  pos + 1,
		})
	}
	return out, nil
}
