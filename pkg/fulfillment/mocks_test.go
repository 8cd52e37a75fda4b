package fulfillment

import (
	"context"
	"sync"
	"time"

	"topup-fulfillment/pkg/catalog"
	"topup-fulfillment/pkg/credential"
	"topup-fulfillment/pkg/models"
	"topup-fulfillment/pkg/notify"
	"topup-fulfillment/pkg/provider"
	"topup-fulfillment/pkg/resolver"
	"topup-fulfillment/pkg/store"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockAdapter struct {
	mu        sync.Mutex
	recharges []provider.RechargeRequest
	vouchers  []provider.VoucherRequest
	checks    []string
	delay     time.Duration

	rechargeResult provider.Result
	rechargeErr    error
	voucherResult  provider.Result
	voucherErr     error
	statusResult   provider.Result
	statusErr      error
}

func (m *mockAdapter) PlaceRechargeOrder(ctx context.Context, apiKey string, req provider.RechargeRequest) (provider.Result, error) {
	m.mu.Lock()
	m.recharges = append(m.recharges, req)
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.rechargeResult, m.rechargeErr
}

func (m *mockAdapter) PurchaseVoucher(ctx context.Context, apiKey string, req provider.VoucherRequest) (provider.Result, error) {
	m.mu.Lock()
	m.vouchers = append(m.vouchers, req)
	m.mu.Unlock()
	return m.voucherResult, m.voucherErr
}

func (m *mockAdapter) CheckOrderStatus(ctx context.Context, apiKey, gameCode, externalOrderRef string) (provider.Result, error) {
	m.mu.Lock()
	m.checks = append(m.checks, gameCode+"/"+externalOrderRef)
	m.mu.Unlock()
	return m.statusResult, m.statusErr
}

func (m *mockAdapter) ListCatalog(ctx context.Context, apiKey string) ([]provider.CatalogItem, error) {
	return nil, nil
}

func (m *mockAdapter) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recharges) + len(m.vouchers)
}

type emptyCatalog struct{ err error }

func (c emptyCatalog) FindProviderProduct(ctx context.Context, ref string) (*models.ProviderProduct, error) {
	if c.err != nil {
		return nil, c.err
	}
	return nil, catalog.ErrNotFound
}

func (c emptyCatalog) FindProviderRef(ctx context.Context, gameName, packageName string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return "", catalog.ErrNotFound
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

const testProvider = "topup-provider"

type harness struct {
	orders   *store.MemoryOrderStore
	creds    *credential.StaticStore
	adapter  *mockAdapter
	notifier *recordingNotifier
	orch     *Orchestrator
	recon    *Reconciler
	logs     *observer.ObservedLogs
}

func newHarness(cfg Config) *harness {
	h := &harness{
		orders:   store.NewMemoryOrderStore(),
		creds:    credential.NewStaticStore(models.ProviderCredential{Provider: testProvider, APIKey: "key", Enabled: true}),
		adapter:  &mockAdapter{},
		notifier: &recordingNotifier{},
	}
	core, logs := observer.New(zapcore.InfoLevel)
	h.logs = logs
	cfg.ProviderName = testProvider
	if cfg.CallbackURL == "" {
		cfg.CallbackURL = "https://shop.example/provider/callback"
	}
	deps := Deps{
		Orders:      h.orders,
		Credentials: h.creds,
		Resolver:    resolver.New(emptyCatalog{}, nil, zap.NewNop()),
		Adapter:     h.adapter,
		Notifier:    h.notifier,
		Logger:      zap.New(core),
	}
	h.orch = New(deps, cfg)
	h.recon = NewReconciler(deps, cfg)
	return h
}

func (h *harness) get(id string) *models.Order {
	o, err := h.orders.Get(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return o
}

func mlbbOrder(id string) *models.Order {
	return &models.Order{
		ID:                 id,
		GameName:           "Mobile Legends",
		PackageName:        "86 Diamonds",
		ExternalProductRef: "recharge_mlbb_42",
		PlayerID:           "123456789",
		ServerID:           "1234",
		Amount:             21000,
		Currency:           "IDR",
		PaymentMethod:      "qris",
		Status:             models.StatusPaid,
	}
}

func steamOrder(id string) *models.Order {
	return &models.Order{
		ID:                 id,
		GameName:           "Steam Wallet",
		PackageName:        "IDR 60.000",
		ExternalProductRef: "voucher_3301",
		PlayerID:           "buyer@example.com",
		Amount:             65000,
		Currency:           "IDR",
		PaymentMethod:      "qris",
		Status:             models.StatusPaid,
	}
}
