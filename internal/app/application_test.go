package app

import (
	"context"
	"testing"
	"time"

	"github.com/carbonledger/platform/internal/app/domain/carbon"
)

func TestApplicationLifecycle(t *testing.T) {
	application, err := New(Stores{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	user, err := application.Stores.Users.CreateUser(ctx, carbon.User{Email: "owner@example.com", HashedPassword: "x", IsActive: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	company, err := application.Stores.Companies.CreateCompany(ctx, carbon.Company{Name: "Acme Tekstil", IndustryType: carbon.IndustryManufacturing, OwnerUserID: user.ID})
	if err != nil {
		t.Fatalf("create company: %v", err)
	}

	facility, err := application.Stores.Facilities.CreateFacility(ctx, carbon.Facility{CompanyID: company.ID, Name: "Plant 1", City: "Istanbul", FacilityType: carbon.FacilityProduction})
	if err != nil {
		t.Fatalf("create facility: %v", err)
	}

	activity, err := application.Stores.Activities.CreateActivity(ctx, carbon.ActivityData{
		FacilityID:   facility.ID,
		ActivityType: carbon.ActivityElectricity,
		Quantity:     1200,
		Unit:         "kWh",
		StartDate:    time.Now().AddDate(0, -1, 0),
		EndDate:      time.Now(),
		Scope:        carbon.ScopeForActivity(carbon.ActivityElectricity),
	})
	if err != nil {
		t.Fatalf("create activity: %v", err)
	}
	if activity.ID == "" {
		t.Fatalf("expected an assigned activity id")
	}

	descriptors := application.Descriptors()
	if len(descriptors) == 0 {
		t.Fatalf("expected registered services to report descriptors")
	}

	if err := application.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestApplicationAttach(t *testing.T) {
	application, err := New(Stores{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	started := false
	err = application.Attach(fakeService{onStart: func() { started = true }})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !started {
		t.Fatalf("expected attached service to start")
	}
	if err := application.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

type fakeService struct {
	onStart func()
}

func (fakeService) Name() string { return "fake" }
func (f fakeService) Start(context.Context) error {
	if f.onStart != nil {
		f.onStart()
	}
	return nil
}
func (fakeService) Stop(context.Context) error { return nil }
