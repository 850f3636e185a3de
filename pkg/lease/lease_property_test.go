package lease

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestClaimProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent claims on an unheld lease elect exactly one holder", prop.ForAll(
		func(claimants int) bool {
			ctx := context.Background()
			s := NewMemoryStore()

			outcomes := make([]ClaimOutcome, claimants)
			var wg sync.WaitGroup
			for i := 0; i < claimants; i++ {
				m, err := NewManager("w1", s, &leaseTestLogger{}, Config{
					Owner:       fmt.Sprintf("replica-%d", i),
					LeasePeriod: time.Minute,
				})
				if err != nil {
					return false
				}
				wg.Add(1)
				go func(slot int, mgr *Manager) {
					defer wg.Done()
					outcome, err := mgr.Claim(ctx)
					if err != nil {
						outcome = OutcomeErrored
					}
					outcomes[slot] = outcome
				}(i, m)
			}
			wg.Wait()

			holders := 0
			for _, outcome := range outcomes {
				switch outcome {
				case OutcomeAcquired:
					holders++
				case OutcomeLostRace, OutcomeHeldByOther:
				default:
					return false
				}
			}
			return holders == 1
		},
		gen.IntRange(2, 8),
	))

	properties.Property("version grows by one per successful claim and never otherwise", prop.ForAll(
		func(turns []bool) bool {
			ctx := context.Background()
			s := NewMemoryStore()

			a, err := NewManager("w1", s, &leaseTestLogger{}, Config{Owner: "replica-a", LeasePeriod: time.Minute})
			if err != nil {
				return false
			}
			b, err := NewManager("w1", s, &leaseTestLogger{}, Config{Owner: "replica-b", LeasePeriod: time.Minute})
			if err != nil {
				return false
			}

			var lastVersion int64
			for _, pickA := range turns {
				m := b
				if pickA {
					m = a
				}
				outcome, err := m.Claim(ctx)
				if err != nil {
					return false
				}

				rec, err := s.Get(ctx, "w1")
				if err != nil {
					return false
				}
				switch {
				case outcome.Holding():
					if rec.Version != lastVersion+1 {
						return false
					}
				default:
					if rec.Version != lastVersion {
						return false
					}
				}
				lastVersion = rec.Version
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
