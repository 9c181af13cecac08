package scoring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/Oofersky/executor-balancer/internal/models"
)

func TestRankExcludesInactive(t *testing.T) {
	engine := NewEngine(DefaultWeights())
	req := devRequest()

	pool := []models.Executor{perfectExecutor()}
	for _, status := range []models.ExecutorStatus{models.ExecutorBusy, models.ExecutorOffline, models.ExecutorInactive} {
		ex := perfectExecutor()
		ex.Status = status
		pool = append(pool, ex)
	}

	ranked := engine.Rank(req, pool, nil)

	assert.Len(t, ranked, 1)
	assert.Equal(t, models.ExecutorActive, ranked[0].Executor.Status)
}

func TestRankExcludesAtLimitUntilLoadDrops(t *testing.T) {
	engine := NewEngine(DefaultWeights())
	req := devRequest()

	maxed := perfectExecutor()
	maxed.DailyLimit = 3
	maxed.CurrentLoad = 3

	assert.Empty(t, engine.Rank(req, []models.Executor{maxed}, nil))

	maxed.CurrentLoad = 2
	ranked := engine.Rank(req, []models.Executor{maxed}, nil)
	assert.Len(t, ranked, 1)
}

func TestRankSortedByScoreThenWeight(t *testing.T) {
	engine := NewEngine(DefaultWeights())
	req := devRequest()

	strong := perfectExecutor()
	weakSkills := perfectExecutor()
	weakSkills.Skills = []string{"go"}

	// identical scores, different weights
	lightTwin := perfectExecutor()
	lightTwin.Weight = 0.4

	ranked := engine.Rank(req, []models.Executor{lightTwin, weakSkills, strong}, nil)

	assert.Len(t, ranked, 3)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].FinalScore, ranked[i].FinalScore)
	}
	assert.Equal(t, strong.ID, ranked[0].Executor.ID)
	assert.Equal(t, lightTwin.ID, ranked[1].Executor.ID)
	assert.Equal(t, weakSkills.ID, ranked[2].Executor.ID)
}

func TestRankTieBreaksByLoadThenID(t *testing.T) {
	engine := NewEngine(DefaultWeights())
	req := devRequest()

	// unbounded limit keeps the load factor at full credit, so the score
	// ties while current load differs
	relaxed := perfectExecutor()
	relaxed.DailyLimit = 0
	relaxed.CurrentLoad = 5

	idle := perfectExecutor()
	idle.DailyLimit = 0
	idle.CurrentLoad = 0

	ranked := engine.Rank(req, []models.Executor{relaxed, idle}, nil)
	assert.Equal(t, idle.ID, ranked[0].Executor.ID)

	twinA := perfectExecutor()
	twinA.DailyLimit = 0
	twinB := perfectExecutor()
	twinB.DailyLimit = 0

	ranked = engine.Rank(req, []models.Executor{twinA, twinB}, nil)
	assert.True(t, ranked[0].Executor.ID.String() < ranked[1].Executor.ID.String())
}

func TestRankAssignsPositionsAndHandlesEmptyPool(t *testing.T) {
	engine := NewEngine(DefaultWeights())
	req := devRequest()

	ranked := engine.Rank(req, nil, nil)
	assert.NotNil(t, ranked)
	assert.Empty(t, ranked)

	a := perfectExecutor()
	b := perfectExecutor()
	b.Skills = []string{"go"}
	ranked = engine.Rank(req, []models.Executor{a, b}, nil)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, 2, ranked[1].Rank)
}

func TestRankLoadedExecutorLosesDespiteBetterStats(t *testing.T) {
	engine := NewEngine(DefaultWeights())

	req := models.Request{
		ID:             uuid.New(),
		Title:          "migration script",
		Category:       "development",
		Priority:       models.PriorityHigh,
		RequiredSkills: []string{"python"},
		Status:         models.RequestPending,
	}

	a := models.Executor{
		ID:          uuid.New(),
		Name:        "A",
		Role:        models.RoleProgrammer,
		Status:      models.ExecutorActive,
		Skills:      []string{"python"},
		DailyLimit:  5,
		CurrentLoad: 0,
		SuccessRate: 0.9,
		Weight:      0.8,
	}
	b := models.Executor{
		ID:          uuid.New(),
		Name:        "B",
		Role:        models.RoleProgrammer,
		Status:      models.ExecutorActive,
		Skills:      []string{"python", "go"},
		DailyLimit:  5,
		CurrentLoad: 4,
		SuccessRate: 0.95,
		Weight:      0.9,
	}

	ranked := engine.Rank(req, []models.Executor{b, a}, nil)

	assert.Len(t, ranked, 2)
	assert.Equal(t, a.ID, ranked[0].Executor.ID)
	assert.Equal(t, b.ID, ranked[1].Executor.ID)
	assert.InDelta(t, 12.25, ranked[0].FinalScore, 0.001)
	assert.InDelta(t, 10.375, ranked[1].FinalScore, 0.01)
}
