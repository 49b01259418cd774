package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/papertrade/automation-api/internal/database"
	"github.com/papertrade/automation-api/internal/engine"
	"github.com/papertrade/automation-api/internal/ledger"
	"github.com/papertrade/automation-api/internal/notify"
	"github.com/papertrade/automation-api/internal/quotes"
	"github.com/papertrade/automation-api/internal/rules"
	"github.com/papertrade/automation-api/internal/types"
	"gorm.io/datatypes"
)

const (
	numUsers     = 5
	startingCash = 25000.0
	numCycles    = 50
	cycleGap     = 100 * time.Millisecond
)

var openPrices = map[string]float64{
	"AAPL":  185.0,
	"GOOGL": 140.0,
	"MSFT":  410.0,
	"AMZN":  175.0,
	"META":  480.0,
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// main seeds portfolios and a spread of automation rules, drives the engine
// through a fixed number of cycles against a random-walk quote feed, and
// reports what fired, what traded, and what the ledgers look like after.
func main() {
	dbPath := "simulation.db"
	_ = os.Remove(dbPath)
	db, err := database.NewDatabase(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	ruleStore := rules.NewDatabase(db)
	ledgerStore := ledger.NewDatabase(db)

	users := seedPortfolios(ledgerStore)
	seeded := seedRules(ruleStore, users)
	log.Info().Int("users", numUsers).Int("rules", seeded).Msg("simulation seeded")

	feed := quotes.NewSimulated(openPrices)
	eng := engine.New(engine.Config{
		OpenInterval:   cycleGap,
		ClosedInterval: cycleGap,
		LeaseDuration:  10 * cycleGap,
	}, ruleStore, ledger.NewExecutor(ledgerStore), quotes.NewCache(feed, cycleGap),
		notify.NewLogNotifier(), engine.AlwaysOpenCalendar())

	ctx := context.Background()
	for i := 0; i < numCycles; i++ {
		if err := eng.RunCycle(ctx); err != nil {
			log.Error().Err(err).Int("cycle", i).Msg("cycle failed")
		}
		time.Sleep(cycleGap)
	}

	report(eng, ledgerStore, users)
}

func seedPortfolios(store *ledger.Database) []string {
	users := make([]string, 0, numUsers)
	for i := 0; i < numUsers; i++ {
		userID := fmt.Sprintf("user-%02d", i+1)
		portfolio := &types.Portfolio{
			UserID:      userID,
			Name:        "Main",
			CashBalance: startingCash,
			IsPrimary:   true,
		}
		if err := store.CreatePortfolio(portfolio); err != nil {
			log.Fatal().Err(err).Str("user", userID).Msg("failed to seed portfolio")
		}
		users = append(users, userID)
	}
	return users
}

// seedRules gives every user a mix of trigger kinds: a dip-buy, a
// take-profit sell threshold, a percent-move notify, and a time-window buy
// bounded by cooldown.
func seedRules(store *rules.Database, users []string) int {
	symbols := []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META"}
	count := 0

	for i, userID := range users {
		symbol := symbols[i%len(symbols)]
		open := openPrices[symbol]

		seeds := []*types.Rule{
			{
				UserID:        userID,
				ActionType:    types.ActionBuy,
				Symbol:        symbol,
				AmountUSD:     2000,
				TriggerType:   types.TriggerPriceBelow,
				TriggerParams: datatypes.JSON(fmt.Sprintf(`{"threshold": %.2f}`, open*0.99)),
				MaxExecutions: 2,
			},
			{
				UserID:          userID,
				ActionType:      types.ActionNotify,
				Symbol:          symbol,
				TriggerType:     types.TriggerChangePct,
				TriggerParams:   datatypes.JSON(`{"change": 1.5, "direction": "up"}`),
				MaxExecutions:   3,
				CooldownSeconds: 1,
			},
			{
				UserID:          userID,
				ActionType:      types.ActionBuy,
				Symbol:          symbol,
				Quantity:        5,
				TriggerType:     types.TriggerTimeOfDay,
				TriggerParams:   datatypes.JSON(`{"start": "00:00", "end": "23:59"}`),
				MaxExecutions:   1,
				CooldownSeconds: 60,
			},
		}

		for _, rule := range seeds {
			if err := store.CreateRule(rule); err != nil {
				log.Fatal().Err(err).Str("user", userID).Msg("failed to seed rule")
			}
			count++
		}
	}
	return count
}

func report(eng *engine.Engine, ledgerStore *ledger.Database, users []string) {
	m := eng.Metrics()

	fmt.Println()
	fmt.Println("=== Simulation Report ===")
	fmt.Printf("cycles run:        %d (errored: %d)\n", m.CyclesRun, m.CyclesErrored)
	fmt.Printf("rules evaluated:   %d\n", m.RulesEvaluated)
	fmt.Printf("rules triggered:   %d\n", m.RulesTriggered)
	fmt.Printf("rules executed:    %d\n", m.RulesExecuted)
	fmt.Printf("rules skipped:     %d\n", m.RulesSkipped)
	fmt.Printf("rule errors:       %d\n", m.RulesErrored)
	fmt.Println()

	for _, userID := range users {
		portfolio, err := ledgerStore.GetPrimaryPortfolio(userID)
		if err != nil {
			log.Error().Err(err).Str("user", userID).Msg("failed to load portfolio")
			continue
		}
		txns, _ := ledgerStore.ListTransactions(portfolio.PortfolioID)
		fmt.Printf("%s: cash %.2f, trades %d\n", userID, portfolio.CashBalance, len(txns))
		for _, txn := range txns {
			fmt.Printf("  %-4s %-5s %8.4f @ %8.2f -> cash %10.2f (rule %s)\n",
				txn.Side, txn.Symbol, txn.Shares, txn.Price, txn.CashAfter, txn.RuleID)
		}
	}
}
