// Command rewards finalizes an epoch: it scores every DLP from the stakes
// active at the epoch's end block, selects the top performers, splits the
// reward pool proportionally and writes the results back.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"sort"

	"databurn/internal/auth"
	"databurn/internal/config"
	"databurn/internal/domain"
	"databurn/internal/rewards"
	"databurn/internal/storage/migrations"
	pgstore "databurn/internal/storage/postgres"
)

// operatorPrincipal identifies the CLI operator to the authorizer.
const operatorPrincipal auth.Principal = "rewards-operator"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration")
	epochID := flag.Int64("epoch", 0, "Epoch to finalize")
	rewardStr := flag.String("reward", "", "Total reward amount (decimal, smallest unit)")
	topN := flag.Int("top", 16, "Number of top DLPs rewarded")
	dryRun := flag.Bool("dry-run", false, "Compute and print without persisting")
	overrideDlp := flag.Int64("override-dlp", 0, "DLP whose stored score should be corrected (admin)")
	overrideScore := flag.String("override-score", "", "Replacement score for -override-dlp")
	flag.Parse()

	logger := log.New(os.Stdout, "[rewards] ", log.LstdFlags)

	if *epochID <= 0 {
		logger.Fatal("--epoch is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	pool, err := pgstore.NewPool(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatalf("run postgres migrations: %v", err)
	}

	epochStore := pgstore.NewEpochStore(pool)
	stakeStore := pgstore.NewStakeStore(pool)
	scoreStore := pgstore.NewDlpScoreStore(pool)

	epoch, err := epochStore.GetByID(ctx, *epochID)
	if err != nil {
		logger.Fatalf("load epoch %d: %v", *epochID, err)
	}
	if epoch.Finalized {
		logger.Fatalf("epoch %d is already finalized", *epochID)
	}

	// Score correction mode: replace one stored score and exit. Gated on the
	// admin capability like every other mutation of finalization state.
	if *overrideDlp != 0 {
		authorizer := auth.NewStaticAuthorizer(map[auth.Principal][]auth.Capability{
			operatorPrincipal: {auth.CapabilityAdmin},
		})
		if err := authorizer.Require(operatorPrincipal, auth.CapabilityAdmin); err != nil {
			logger.Fatalf("override scores: %v", err)
		}
		score, ok := new(big.Int).SetString(*overrideScore, 10)
		if !ok || score.Sign() < 0 {
			logger.Fatal("--override-score must be a non-negative decimal amount")
		}
		err := scoreStore.Override(ctx, &domain.DlpEpochScore{
			EpochID:         epoch.ID,
			DlpID:           *overrideDlp,
			TotalStakeScore: score,
		})
		if err != nil {
			logger.Fatalf("override score for dlp %d: %v", *overrideDlp, err)
		}
		logger.Printf("epoch %d dlp %d score overridden to %s", epoch.ID, *overrideDlp, score)
		return
	}

	totalReward, ok := new(big.Int).SetString(*rewardStr, 10)
	if !ok || totalReward.Sign() <= 0 {
		logger.Fatal("--reward must be a positive decimal amount")
	}

	stakes, err := stakeStore.GetActiveAt(ctx, epoch.EndBlock)
	if err != nil {
		logger.Fatalf("load stakes: %v", err)
	}
	if len(stakes) == 0 {
		logger.Fatalf("no stakes active at block %d", epoch.EndBlock)
	}

	scorer, err := rewards.NewScorer(cfg.Engine.DaySize)
	if err != nil {
		logger.Fatalf("create scorer: %v", err)
	}
	scores := scorer.EpochScores(stakes, epoch.EndBlock)
	selected := rewards.SelectTopDlps(scores, *topN)
	shares, err := rewards.DistributeRewards(totalReward, selected, scores)
	if err != nil {
		logger.Fatalf("distribute rewards: %v", err)
	}

	printShares(epoch.ID, scores, selected, shares)

	if *dryRun {
		logger.Println("dry run, nothing persisted")
		return
	}

	records := make([]*domain.DlpEpochScore, 0, len(selected))
	for _, dlpID := range selected {
		records = append(records, &domain.DlpEpochScore{
			EpochID:         epoch.ID,
			DlpID:           dlpID,
			TotalStakeScore: scores[dlpID],
		})
	}
	if err := scoreStore.InsertBulk(ctx, records); err != nil {
		logger.Fatalf("persist scores: %v", err)
	}
	if err := epochStore.Finalize(ctx, epoch.ID, totalReward.String()); err != nil {
		logger.Fatalf("finalize epoch: %v", err)
	}
	logger.Printf("epoch %d finalized: %d DLPs rewarded from pool %s", epoch.ID, len(selected), totalReward)
}

func printShares(epochID int64, scores map[int64]*big.Int, selected []int64, shares map[int64]*big.Int) {
	fmt.Printf("epoch %d reward distribution:\n", epochID)
	ordered := append([]int64(nil), selected...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	for _, dlpID := range ordered {
		fmt.Printf("  dlp %-6d score %-24s reward %s\n", dlpID, scores[dlpID], shares[dlpID])
	}
}
