package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"topup-fulfillment/pkg/catalog"
	"topup-fulfillment/pkg/config"
	"topup-fulfillment/pkg/credential"
	"topup-fulfillment/pkg/database"
	"topup-fulfillment/pkg/fulfillment"
	"topup-fulfillment/pkg/httpclient"
	"topup-fulfillment/pkg/logger"
	"topup-fulfillment/pkg/models"
	"topup-fulfillment/pkg/provider"
	"topup-fulfillment/pkg/resolver"
	"topup-fulfillment/pkg/store"
	"topup-fulfillment/pkg/utils"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type tool struct {
	cfg *config.Config
	db  *sql.DB
	log *zap.Logger
}

func usage() {
	fmt.Println("Usage: go run ./tooling <command> [args]")
	fmt.Println("Commands:")
	fmt.Println("  resetdb                    - Drop and recreate all tables")
	fmt.Println("  seed                       - Store the provider credential and package fallbacks")
	fmt.Println("  enable-provider            - Allow dispatch with the stored provider credential")
	fmt.Println("  disable-provider           - Hold dispatch; paid orders go to pending_manual")
	fmt.Println("  sync-catalog               - Pull the provider catalog into provider_products")
	fmt.Println("  sweep                      - Reconcile orders stuck in processing once")
	fmt.Println("  orders [limit]             - Print the most recent orders")
	fmt.Println("  attempts [limit]           - Print the fulfillment attempts audit log")
	fmt.Println("  simulator <count>          - Create orders and pay for them")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logg := logger.MustNew("tooling", cfg.Env)
	defer logg.Sync()

	db, err := database.Open(cfg.Database)
	if err != nil {
		logg.Fatal("database_open_failed", zap.Error(err))
	}
	defer db.Close()

	t := &tool{cfg: cfg, db: db, log: logg}
	ctx := context.Background()

	switch os.Args[1] {
	case "resetdb":
		err = database.ResetTables(db, logg)
	case "seed":
		err = t.seed(ctx)
	case "enable-provider":
		err = t.setProviderEnabled(ctx, true)
	case "disable-provider":
		err = t.setProviderEnabled(ctx, false)
	case "sync-catalog":
		err = t.syncCatalog(ctx)
	case "sweep":
		err = t.sweep(ctx)
	case "orders":
		err = t.printOrders(ctx, argInt(2, 20))
	case "attempts":
		err = t.printAttempts(ctx, argInt(2, 50))
	case "simulator":
		if len(os.Args) < 3 {
			fmt.Println("Usage: go run ./tooling simulator <count>")
			os.Exit(1)
		}
		count, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil || count <= 0 {
			fmt.Println("Invalid count:", os.Args[2])
			os.Exit(1)
		}
		err = t.runSimulator(ctx, count)
	default:
		fmt.Println("Unknown command:", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		logg.Error("command_failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

func argInt(i, fallback int) int {
	if len(os.Args) <= i {
		return fallback
	}
	n, err := strconv.Atoi(os.Args[i])
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// fallbackPackages map storefront packages that carry no product ref.
var fallbackPackages = []models.GamePackage{
	{GameName: "Genshin Impact", PackageName: "Welkin Moon", ProviderRef: "recharge_genshin_88"},
}

func (t *tool) seed(ctx context.Context) error {
	if err := database.CreateTables(t.db); err != nil {
		return err
	}

	if t.cfg.Provider.APIKey == "" {
		t.log.Warn("seed_credential_skipped", zap.String("reason", "PROVIDER_API_KEY is empty"))
	} else {
		if err := credential.NewMySQLStore(t.db).Seed(ctx, t.cfg.Provider.Name, t.cfg.Provider.APIKey); err != nil {
			return err
		}
		fmt.Printf("Credential stored for provider %s\n", t.cfg.Provider.Name)
	}

	cat := catalog.NewMySQLCatalog(t.db)
	for _, gp := range fallbackPackages {
		if err := cat.UpsertGamePackage(ctx, gp); err != nil {
			return err
		}
		fmt.Printf("Package %s / %s -> %s\n", gp.GameName, gp.PackageName, gp.ProviderRef)
	}
	return nil
}

func (t *tool) setProviderEnabled(ctx context.Context, enabled bool) error {
	if err := credential.NewMySQLStore(t.db).SetEnabled(ctx, t.cfg.Provider.Name, enabled); err != nil {
		return err
	}
	fmt.Printf("Provider %s enabled=%t\n", t.cfg.Provider.Name, enabled)
	return nil
}

func (t *tool) syncCatalog(ctx context.Context) error {
	client := provider.NewClient(t.cfg.Provider.BaseURL, httpclient.NewClient(t.cfg.Provider.Timeout), nil)
	items, err := client.ListCatalog(ctx, t.cfg.Provider.APIKey)
	if err != nil {
		return fmt.Errorf("list provider catalog: %w", err)
	}

	cat := catalog.NewMySQLCatalog(t.db)
	tbl := newTable(os.Stdout, "Synced catalog").
		add("Ref", 26, alignLeft).
		add("Type", 10, alignLeft).
		add("Name", 28, alignLeft).
		add("Price", 10, alignRight)
	tbl.header()

	for _, item := range items {
		p := item.ToProduct()
		if err := cat.UpsertProviderProduct(ctx, p); err != nil {
			return err
		}
		tbl.row(p.Ref, p.ProductType, p.ProviderCatalogName, p.Price)
	}
	if len(items) == 0 {
		tbl.empty("Provider returned an empty catalog")
	}
	tbl.footer()
	fmt.Printf("Total products: %d\n", len(items))
	return nil
}

func (t *tool) sweep(ctx context.Context) error {
	deps := fulfillment.Deps{
		Orders:      store.NewMySQLOrderStore(t.db),
		Credentials: credential.NewMySQLStore(t.db),
		Resolver:    resolver.New(catalog.NewMySQLCatalog(t.db), nil, t.log),
		Adapter:     provider.NewClient(t.cfg.Provider.BaseURL, httpclient.NewClient(t.cfg.Provider.Timeout), nil),
		Logger:      t.log,
	}
	rec := fulfillment.NewReconciler(deps, fulfillment.Config{
		ProviderName:    t.cfg.Provider.Name,
		ProviderTimeout: t.cfg.Provider.Timeout,
		StuckAfter:      t.cfg.Reconcile.StuckAfter,
		SweepBatchSize:  t.cfg.Reconcile.BatchSize,
	})

	report, err := rec.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Checked: %d, Resolved: %d, Still pending: %d, Unreferenced: %d, Failed: %d\n",
		report.Checked, report.Resolved, report.StillPending, report.Unreferenced, report.Failed)
	if report.Unreferenced > 0 {
		fmt.Println("Unreferenced orders never reached the provider; retry them from the admin API.")
	}
	return nil
}

func (t *tool) printOrders(ctx context.Context, limit int) error {
	orders, err := store.NewMySQLOrderStore(t.db).List(ctx, limit)
	if err != nil {
		return err
	}

	loc := location(t.cfg.Database.TimeZone)
	tbl := newTable(os.Stdout, fmt.Sprintf("Latest %d orders (%s)", limit, loc)).
		add("Order ID", 38, alignLeft).
		add("Game", 16, alignLeft).
		add("Package", 14, alignLeft).
		add("Amount", 8, alignRight).
		add("Status", 16, alignLeft).
		add("Provider Ref", 14, alignLeft).
		add("Updated At", 21, alignLeft)
	tbl.header()

	counts := map[models.Status]int{}
	for _, o := range orders {
		counts[o.Status]++
		tbl.row(o.ID, o.GameName, o.PackageName, o.Amount, o.Status, o.ExternalOrderRef,
			o.UpdatedAt.In(loc).Format("2006-01-02 15:04:05"))
	}
	if len(orders) == 0 {
		tbl.empty("No orders yet")
	}
	tbl.footer()

	var parts []string
	for _, st := range []models.Status{models.StatusPending, models.StatusPaid, models.StatusProcessing,
		models.StatusCompleted, models.StatusFailed, models.StatusPendingManual} {
		parts = append(parts, fmt.Sprintf("%s=%d", st, counts[st]))
	}
	fmt.Println(strings.Join(parts, " "))
	return nil
}

func (t *tool) printAttempts(ctx context.Context, limit int) error {
	attempts, err := store.NewMySQLOrderStore(t.db).ListAttempts(ctx, limit)
	if err != nil {
		return err
	}

	loc := location(t.cfg.Database.TimeZone)
	tbl := newTable(os.Stdout, "Fulfillment attempts ("+loc.String()+")").
		add("ID", 6, alignLeft).
		add("Order ID", 38, alignLeft).
		add("Attempt", 9, alignRight).
		add("Operation", 10, alignLeft).
		add("Payload", 60, alignLeft).
		add("Attempted At", 21, alignLeft)
	tbl.header()

	perOrder := map[string]int{}
	for _, a := range attempts {
		perOrder[a.OrderID]++
		tbl.row(a.ID, a.OrderID, a.AttemptNumber, a.Operation, a.Payload, a.AttemptedAt.In(loc).Format("2006-01-02 15:04:05"))
	}
	if len(attempts) == 0 {
		tbl.empty("No fulfillment attempts")
	}
	tbl.footer()

	dupes := 0
	for _, n := range perOrder {
		if n > 1 {
			dupes++
		}
	}
	fmt.Printf("Total attempts: %d, orders with more than one attempt: %d\n", len(attempts), dupes)
	return nil
}

func location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, 7*60*60)
	}
	return loc
}

// runSimulator inserts pending orders and pays for them through the
// payment service, which may publish payment.paid more than once.
func (t *tool) runSimulator(ctx context.Context, count int) error {
	const workers = 4
	fmt.Printf("Starting simulation with %d orders using %d goroutines\n", count, workers)

	orders := store.NewMySQLOrderStore(t.db)
	paymentURL := os.Getenv("PAYMENT_URL")
	if paymentURL == "" {
		paymentURL = "http://localhost:8001/trigger-payment-paid"
	}
	timeout := 200 * time.Millisecond
	if ms, err := strconv.Atoi(os.Getenv("PAYMENT_TIMEOUT_MS")); err == nil {
		timeout = time.Duration(ms) * time.Millisecond
	}
	// The payment service sleeps for its own timeout before answering.
	client := httpclient.NewClient(timeout + time.Second)

	jobs := make(chan int)
	results := make(chan string, count)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results <- t.simulateOne(ctx, orders, client, paymentURL, timeout+time.Second, i)
			}
		}()
	}

	go func() {
		for i := 1; i <= count; i++ {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	success, timeouts := 0, 0
	for r := range results {
		switch {
		case strings.Contains(r, "SUCCESS"):
			success++
		case strings.Contains(r, "TIMEOUT"):
			timeouts++
		}
		fmt.Println(r)
	}

	fmt.Printf("\nSimulation completed. Paid: %d, Timeouts: %d, Failed: %d\n", success, timeouts, count-success-timeouts)
	fmt.Println("Run `go run ./tooling orders` to see where each order ended up.")
	return nil
}

func (t *tool) simulateOne(ctx context.Context, orders *store.MySQLOrderStore, client *httpclient.Client, url string, timeout time.Duration, iteration int) string {
	cid := utils.GenerateCorrelationID()
	order := utils.GenerateRandomOrder()

	if err := orders.Insert(ctx, &order); err != nil {
		return fmt.Sprintf("Order %d [%s]: FAILED to create order - %v", iteration, cid, err)
	}

	req := models.PaymentRequest{OrderID: order.ID, PaidAmount: order.Amount, CorrelationID: cid}
	var lastErr error
	for retry := 0; retry < 3; retry++ {
		if retry > 0 {
			time.Sleep(100 * time.Millisecond)
		}

		resp, err := client.PostJSONWithTimeout(url, nil, req, timeout)
		if err != nil {
			lastErr = err
			if httpclient.IsTimeoutError(err) {
				continue
			}
			break
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("payment service returned status %d", resp.StatusCode)
			break
		}
		return fmt.Sprintf("Order %d [%s]: SUCCESS - %s %s / %s, Amount: %d", iteration, cid, order.ID, order.GameName, order.PackageName, order.Amount)
	}

	if httpclient.IsTimeoutError(lastErr) {
		return fmt.Sprintf("Order %d [%s]: TIMEOUT after 3 retries - %s", iteration, cid, order.ID)
	}
	if lastErr == nil {
		lastErr = errors.New("payment not confirmed")
	}
	return fmt.Sprintf("Order %d [%s]: FAILED payment - %s: %v", iteration, cid, order.ID, lastErr)
}
