package order_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bordados/checkout/config"
	"github.com/bordados/checkout/core/order"
	"github.com/bordados/checkout/core/product"
	"github.com/bordados/checkout/database"
	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

func newOrder(buyOrder string) order.Order {
	token := "tok-" + buyOrder
	now := time.Now().UTC().Truncate(time.Millisecond)
	return order.Order{
		BuyOrder:     buyOrder,
		SessionID:    "s1",
		Amount:       15000,
		Status:       order.Created,
		GatewayToken: &token,
		Items:        []order.Item{{ProductID: "p1", Name: "Parche", Quantity: 2, UnitPrice: 7500}},
		Customer:     order.Customer{Name: "Ana", Email: "ana@example.com", City: "Santiago"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func authorizedPatch(code string) order.Patch {
	rc, n := 0, 3
	last4 := "6623"
	ptc := "VC"
	return order.Patch{
		Status:             order.Authorized,
		AuthorizationCode:  &code,
		ResponseCode:       &rc,
		PaymentTypeCode:    &ptc,
		CardLast4:          &last4,
		InstallmentsNumber: &n,
		ResultPayload:      json.RawMessage(`{"status":"AUTHORIZED"}`),
		UpdatedAt:          time.Now().UTC().Truncate(time.Millisecond),
	}
}

// testStore runs the Store contract against any implementation.
func testStore(t *testing.T, store order.Store) {
	ctx := context.Background()

	ord := newOrder(fmt.Sprintf("O-%d", time.Now().UnixNano()))
	if err := store.Insert(ctx, ord); err != nil {
		t.Fatalf("inserting order: %v", err)
	}

	if err := store.Insert(ctx, ord); !errors.Is(err, order.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := store.FetchByBuyOrder(ctx, ord.BuyOrder)
	if err != nil {
		t.Fatalf("fetching order: %v", err)
	}
	if diff := cmp.Diff(ord, got); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}

	byToken, err := store.FetchByToken(ctx, *ord.GatewayToken)
	if err != nil {
		t.Fatalf("fetching order by token: %v", err)
	}
	if byToken.BuyOrder != ord.BuyOrder {
		t.Fatalf("token lookup returned %s", byToken.BuyOrder)
	}

	if _, err := store.FetchByBuyOrder(ctx, "O-missing"); !errors.Is(err, order.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.UpdateStatus(ctx, "O-missing", authorizedPatch("1")); !errors.Is(err, order.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, _, err := store.UpdateStatus(ctx, ord.BuyOrder, order.Patch{Status: order.Created}); err == nil {
		t.Fatal("moving back to created must fail")
	}

	first, applied, err := store.UpdateStatus(ctx, ord.BuyOrder, authorizedPatch("1213"))
	if err != nil || !applied {
		t.Fatalf("expected the first transition to apply: %v %v", applied, err)
	}
	if first.Status != order.Authorized || *first.AuthorizationCode != "1213" || *first.InstallmentsNumber != 3 {
		t.Fatalf("unexpected order after transition %+v", first)
	}

	second, applied, err := store.UpdateStatus(ctx, ord.BuyOrder, authorizedPatch("9999"))
	if err != nil {
		t.Fatalf("a repeated transition must succeed silently: %v", err)
	}
	if applied {
		t.Fatal("a repeated transition must not apply")
	}
	if *second.AuthorizationCode != "1213" {
		t.Fatalf("authorization code overwritten with %s", *second.AuthorizationCode)
	}

	aborted := order.Patch{Status: order.Aborted, UpdatedAt: time.Now().UTC()}
	if third, applied, _ := store.UpdateStatus(ctx, ord.BuyOrder, aborted); applied || third.Status != order.Authorized {
		t.Fatalf("a settled order changed status to %s", third.Status)
	}
}

func testConcurrentTransitions(t *testing.T, store order.Store) {
	ctx := context.Background()

	ord := newOrder(fmt.Sprintf("O-%d", time.Now().UnixNano()))
	if err := store.Insert(ctx, ord); err != nil {
		t.Fatal(err)
	}

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := store.UpdateStatus(ctx, ord.BuyOrder, authorizedPatch(fmt.Sprint(1000+i)))
			if err != nil {
				t.Errorf("transition %d: %v", i, err)
				return
			}
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("expected exactly one applied transition, got %d", applied)
	}
}

func TestMemStore(t *testing.T) {
	testStore(t, order.NewMemStore())
	testConcurrentTransitions(t, order.NewMemStore())
}

func TestMemStoreIsolatesCopies(t *testing.T) {
	ctx := context.Background()
	store := order.NewMemStore()

	ord := newOrder("O-1")
	if err := store.Insert(ctx, ord); err != nil {
		t.Fatal(err)
	}
	ord.Items[0].Quantity = 99

	got, err := store.FetchByBuyOrder(ctx, "O-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Items[0].Quantity != 2 {
		t.Fatal("the stored items must not alias the caller's slice")
	}
}

func TestDBStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}

	db := startPostgres(t)
	store := order.NewDBStore(db)

	if err := store.StatusCheck(context.Background()); err != nil {
		t.Fatalf("status check: %v", err)
	}

	testStore(t, store)
	testConcurrentTransitions(t, store)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := product.Product{ID: "p1", Name: "Parche bordado", Description: "10cm", Price: 7500, CreatedAt: now, UpdatedAt: now}
	if err := product.Create(ctx, db, p); err != nil {
		t.Fatalf("creating product: %v", err)
	}

	got, err := product.NewCatalog(db).Product(ctx, "p1")
	if err != nil {
		t.Fatalf("fetching product: %v", err)
	}
	if diff := cmp.Diff(p, got); diff != "" {
		t.Fatalf("unexpected product (-want +got):\n%s", diff)
	}
	if _, err := product.Fetch(ctx, db, "missing"); !errors.Is(err, product.ErrNotFound) {
		t.Fatalf("expected product.ErrNotFound, got %v", err)
	}
}

func startPostgres(t *testing.T) *sqlx.DB {
	t.Helper()

	pool, err := dockertest.NewPool(os.Getenv("DOCKER_HOST"))
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker not reachable: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15-alpine",
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_PASSWORD=postgres",
			"POSTGRES_DB=checkout",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("starting postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("purging postgres: %v", err)
		}
	})

	cfg := config.DB{
		User:         "postgres",
		Password:     "postgres",
		Host:         resource.GetHostPort("5432/tcp"),
		Name:         "checkout",
		MaxIdleConns: 2,
		MaxOpenConns: 10,
		DisableTLS:   true,
	}

	var db *sqlx.DB
	pool.MaxWait = time.Minute
	err = pool.Retry(func() error {
		var err error
		if db, err = database.Open(cfg); err != nil {
			return err
		}
		return db.Ping()
	})
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}
