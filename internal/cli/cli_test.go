package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"papertrader/internal/config"
	"papertrader/internal/models"
	"papertrader/internal/scheduler"
	"papertrader/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Driver = "memory"
	cfg.Logging.Console = false
	return cfg
}

func runSimulation(t *testing.T, cfg *config.Config, opts SimulateOptions) *SimulationResult {
	t.Helper()
	sched := scheduler.NewManualScheduler()
	clock := &virtualClock{now: opts.Start}
	rt, err := NewRuntime(context.Background(), cfg, zerolog.Nop(), RuntimeOptions{
		Store:      store.NewMemoryStore(),
		Scheduler:  sched,
		Clock:      clock.Now,
		DirectFeed: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	result, err := Simulate(context.Background(), rt, sched, clock, opts)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	return result
}

func simOptions() SimulateOptions {
	return SimulateOptions{
		Templates: []string{"Aggressive Momentum", "Scalper Pro", "Conservative Growth"},
		Asset:     "BTCUSDT",
		Steps:     400,
		Step:      10 * time.Second,
		Seed:      7,
		Start:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSimulateIsDeterministicForASeed(t *testing.T) {
	cfg := testConfig(t)
	a := runSimulation(t, cfg, simOptions())
	b := runSimulation(t, cfg, simOptions())

	if a.Steps != 400 || len(a.Ranking) != 3 {
		t.Fatalf("steps %d, agents %d", a.Steps, len(a.Ranking))
	}
	if a.Elapsed != (4000 * time.Second).String() {
		t.Fatalf("elapsed %s", a.Elapsed)
	}
	byName := make(map[string]models.AgentPerformance)
	for _, p := range a.Ranking {
		byName[p.Name] = p
	}
	for _, p := range b.Ranking {
		prev, ok := byName[p.Name]
		if !ok {
			t.Fatalf("agent %q missing from first run", p.Name)
		}
		if prev.TotalValue != p.TotalValue || prev.TotalTrades != p.TotalTrades {
			t.Fatalf("%s diverged: %v/%d vs %v/%d", p.Name, prev.TotalValue, prev.TotalTrades, p.TotalValue, p.TotalTrades)
		}
	}
	for i := 1; i < len(a.Ranking); i++ {
		if a.Ranking[i-1].TotalReturnPercent < a.Ranking[i].TotalReturnPercent {
			t.Fatal("ranking not sorted by return")
		}
	}
}

func TestSimulateRecordAndReplay(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)

	opts := simOptions()
	opts.Steps = 50
	opts.RecordPath = filepath.Join(dir, "feed.csv")
	runSimulation(t, cfg, opts)

	raw, err := os.ReadFile(opts.RecordPath)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(raw), "\n"); lines != 51 {
		t.Fatalf("recorded %d lines, want header plus 50", lines)
	}

	replay := simOptions()
	replay.ReplayPath = opts.RecordPath
	result := runSimulation(t, cfg, replay)
	if result.Steps != 50 || len(result.Ranking) != 3 {
		t.Fatalf("replay steps %d agents %d", result.Steps, len(result.Ranking))
	}
}

func TestSimulateRejectsUnknownAsset(t *testing.T) {
	cfg := testConfig(t)
	sched := scheduler.NewManualScheduler()
	clock := &virtualClock{now: time.Now()}
	rt, err := NewRuntime(context.Background(), cfg, zerolog.Nop(), RuntimeOptions{
		Store: store.NewMemoryStore(), Scheduler: sched, Clock: clock.Now, DirectFeed: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	opts := simOptions()
	opts.Asset = "DOGEUSDT"
	if _, err := Simulate(context.Background(), rt, sched, clock, opts); err == nil || !strings.Contains(err.Error(), "DOGEUSDT") {
		t.Fatalf("expected unknown asset error, got %v", err)
	}
}

func TestFeeResolverWiring(t *testing.T) {
	cfg := config.FeesConfig{
		DefaultMaker: 0.002,
		DefaultTaker: 0.002,
		Schedule: map[string]config.FeeSchedule{
			"binance": {MakerRate: "0.075%", TakerRate: "0.075%"},
		},
	}
	r := newFeeResolver(cfg, zerolog.Nop())

	if got := r.Resolve(context.Background(), "Binance", "BTCUSDT"); math.Abs(got.Taker-0.00075) > 1e-12 {
		t.Fatalf("binance taker %v", got.Taker)
	}
	if got := r.Resolve(context.Background(), "coinbase", "BTCUSD"); got.Taker != 0.002 || got.Maker != 0.002 {
		t.Fatalf("fallback %+v", got)
	}
}

func TestOpenStoreSelectsSQLite(t *testing.T) {
	dir := t.TempDir()
	s, err := openStore(context.Background(), config.StoreConfig{
		Driver:       "sqlite",
		SQLitePath:   filepath.Join(dir, "data", "papertrader.db"),
		FallbackPath: filepath.Join(dir, "fallback.json"),
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Name() != "sqlite" {
		t.Fatalf("selected %s", s.Name())
	}
}

func TestAllTemplatesReplacesByName(t *testing.T) {
	custom := models.AgentTemplate{Name: "scalper pro", Strategy: models.StrategyScalper, PositionSize: 3}
	extra := models.AgentTemplate{Name: "Night Owl", Strategy: models.StrategyMeanReversion}

	got := allTemplates([]models.AgentTemplate{custom, extra})
	if len(got) != 7 {
		t.Fatalf("templates %d", len(got))
	}
	found := false
	for _, tpl := range got {
		if strings.EqualFold(tpl.Name, "Scalper Pro") {
			found = true
			if tpl.PositionSize != 3 {
				t.Fatalf("built-in not replaced: %+v", tpl)
			}
		}
	}
	if !found || got[6].Name != "Night Owl" {
		t.Fatalf("unexpected templates %+v", got)
	}
}

func TestTableRender(t *testing.T) {
	var buf bytes.Buffer
	out := &Output{writer: &buf}
	table := NewTable(out, "NAME", "VALUE")
	table.AddRow("Balanced Trader #1", "$10,000.00")
	table.AddRow("X", "$1.00")
	table.Render()

	want := "NAME                VALUE\n" +
		"------------------  ----------\n" +
		"Balanced Trader #1  $10,000.00\n" +
		"X                   $1.00\n"
	if buf.String() != want {
		t.Fatalf("got\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestVisibleLenIgnoresEscapes(t *testing.T) {
	if n := visibleLen("\x1b[32m+$5.00\x1b[0m"); n != 6 {
		t.Fatalf("visibleLen = %d", n)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTemplatesCommandJSON(t *testing.T) {
	t.Setenv("PAPERTRADER_LOGGING_CONSOLE", "false")
	out, err := execute(t, "--config", t.TempDir(), "--json", "templates")
	if err != nil {
		t.Fatal(err)
	}
	var templates []models.AgentTemplate
	if err := json.Unmarshal([]byte(out), &templates); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(templates) != 6 || templates[0].Name != "Conservative Growth" {
		t.Fatalf("templates %+v", templates)
	}
}

func TestSimulateCommandJSON(t *testing.T) {
	t.Setenv("PAPERTRADER_LOGGING_CONSOLE", "false")
	t.Setenv("PAPERTRADER_STORE_DRIVER", "memory")
	exportDir := filepath.Join(t.TempDir(), "trades")

	out, err := execute(t, "--config", t.TempDir(), "--json", "simulate",
		"--template", "Scalper Pro", "--steps", "120", "--step", "5s", "--seed", "3",
		"--start", "2025-03-01T00:00:00Z", "--export", exportDir)
	if err != nil {
		t.Fatal(err)
	}
	var result SimulationResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if result.Steps != 120 || len(result.Ranking) != 1 || result.Ranking[0].Name != "Scalper Pro #1" {
		t.Fatalf("result %+v", result)
	}
	for _, f := range result.Exported {
		if !strings.HasPrefix(filepath.Base(f), result.Ranking[0].AgentID+"-paper-trades-") {
			t.Fatalf("export name %s", f)
		}
	}
}

func TestAgentsListEmpty(t *testing.T) {
	t.Setenv("PAPERTRADER_LOGGING_CONSOLE", "false")
	t.Setenv("PAPERTRADER_STORE_DRIVER", "memory")
	out, err := execute(t, "--config", t.TempDir(), "agents", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No agents persisted yet") {
		t.Fatalf("output %q", out)
	}
}

func TestVersionSkipsConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")
	out, err := execute(t, "--config", dir, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Paper Trader v"+Version) {
		t.Fatalf("output %q", out)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("version should not write a config template")
	}
}
