package core

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"geowatch/internal/types"
)

// SuccessModel maps alert level to delivery success probability.
type SuccessModel map[types.AlertLevel]float64

// DefaultSuccessModel is the placeholder delivery policy: HIGH always
// succeeds, MEDIUM 90%, LOW 70%.
var DefaultSuccessModel = SuccessModel{
	types.LevelHigh:   1.0,
	types.LevelMedium: 0.9,
	types.LevelLow:    0.7,
}

// SimulatedChannel accepts or rejects deliveries at random according to a
// SuccessModel. Unknown levels always fail.
type SimulatedChannel struct {
	model SuccessModel

	mu  sync.Mutex
	rng *rand.Rand
}

var _ types.NotificationChannel = (*SimulatedChannel)(nil)

// NewSimulatedChannel creates a channel. A nil model uses DefaultSuccessModel
// and a nil rng is seeded from the global source.
func NewSimulatedChannel(model SuccessModel, rng *rand.Rand) *SimulatedChannel {
	if model == nil {
		model = DefaultSuccessModel
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &SimulatedChannel{model: model, rng: rng}
}

func (c *SimulatedChannel) Type() types.ChannelType { return types.ChannelSimulated }

// Send draws once from the rng. A probability of 1 never consumes a draw.
func (c *SimulatedChannel) Send(ctx context.Context, a *types.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, ok := c.model[a.Level]
	if !ok {
		return fmt.Errorf("%w: unknown level %q", types.ErrChannelRejected, a.Level)
	}
	if p >= 1 {
		return nil
	}
	c.mu.Lock()
	draw := c.rng.Float64()
	c.mu.Unlock()
	if draw < p {
		return nil
	}
	return fmt.Errorf("%w: simulated %s delivery failure", types.ErrChannelRejected, a.Level)
}
