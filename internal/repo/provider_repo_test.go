package repo

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-quote-engine/internal/domain"
)

func TestCreateProviderIfAbsent_KeepsFirstRegistration(t *testing.T) {
	s := NewStore(newTestDB(t, &domain.Provider{}))
	ctx := context.Background()

	first := &domain.Provider{
		Email:     "Ops@FastFreight.com",
		Name:      "Fast Freight",
		Traits:    []string{"reefer"},
		Points:    85,
		PriceList: map[string]decimal.Decimal{"reefer": decimal.NewFromInt(1500)},
	}
	created, err := s.CreateProviderIfAbsent(ctx, first)
	if err != nil || !created {
		t.Fatalf("first registration: created=%v err=%v", created, err)
	}

	again := &domain.Provider{Email: "ops@fastfreight.com", Name: "Fast Freight LLC", Points: 10}
	created, err = s.CreateProviderIfAbsent(ctx, again)
	if err != nil {
		t.Fatalf("second registration: %v", err)
	}
	if created {
		t.Fatalf("second registration should be a no-op")
	}

	got, err := s.GetProvider(ctx, "OPS@fastfreight.com")
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if got.Points != 85 || got.Name != "Fast Freight" {
		t.Fatalf("existing provider clobbered: %+v", got)
	}
	if !got.PriceList["reefer"].Equal(decimal.NewFromInt(1500)) || len(got.Traits) != 1 {
		t.Fatalf("price list/traits not preserved: %+v", got)
	}
}

func TestGetProvider_Missing(t *testing.T) {
	s := NewStore(newTestDB(t, &domain.Provider{}))
	if _, err := s.GetProvider(context.Background(), "ghost@x.com"); !IsNotFound(err) {
		t.Fatalf("got %v; want ErrNotFound", err)
	}
}

func TestListProviders_OrderedByPoints(t *testing.T) {
	db := newTestDB(t, &domain.Provider{})
	ctx := context.Background()
	for _, p := range []domain.Provider{
		{Email: "b@x.com", Points: 55},
		{Email: "a@x.com", Points: 85},
		{Email: "c@x.com", Points: 55},
	} {
		p := p
		if _, err := CreateProviderIfAbsent(ctx, db, &p); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	out, err := ListProviders(ctx, db)
	if err != nil {
		t.Fatalf("ListProviders: %v", err)
	}
	if len(out) != 3 || out[0].Email != "a@x.com" || out[1].Email != "b@x.com" || out[2].Email != "c@x.com" {
		t.Fatalf("order = %+v", out)
	}
}
