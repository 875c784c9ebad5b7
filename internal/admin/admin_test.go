package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/korahq/kora/pkg/store"
)

type fakeContent struct {
	store.ContentStore
	counts   map[string]int
	failFor  map[string]bool
	deleteOK int
}

func (f *fakeContent) DeleteForOwner(_ context.Context, _ string, services []string) (int, error) {
	service := services[0]
	if f.failFor[service] {
		return 0, errors.New("index unavailable")
	}
	n := f.counts[service]
	f.counts[service] = 0
	f.deleteOK++
	return n, nil
}

type fakeJobs struct {
	store.JobStore
	queued  map[string]int
	failFor map[string]bool
}

func (f *fakeJobs) DeleteQueuedForOwner(_ context.Context, _ string, services []string) (int, error) {
	service := services[0]
	if f.failFor[service] {
		return 0, errors.New("queue unavailable")
	}
	n := f.queued[service]
	f.queued[service] = 0
	return n, nil
}

func TestDeleteUserData_PerServiceResults(t *testing.T) {
	t.Parallel()
	content := &fakeContent{
		counts:  map[string]int{"gmail": 12, "drive": 3},
		failFor: map[string]bool{},
	}
	jobs := &fakeJobs{queued: map[string]int{"gmail": 1}, failFor: map[string]bool{}}
	c := New(content, jobs, nil)

	result, err := c.DeleteUserData(t.Context(), DeleteUserDataParams{
		EmailToClear:    "jane@corp.example",
		ServicesToClear: []string{"gmail", "drive"},
		DeleteSyncJob:   true,
	})
	if err != nil {
		t.Fatalf("DeleteUserData: %v", err)
	}
	if result.Failed() {
		t.Errorf("result = %+v, want clean run", result)
	}
	if len(result.Services) != 2 {
		t.Fatalf("services = %d, want 2", len(result.Services))
	}
	if result.Services[0].DocumentsDeleted != 12 || result.Services[0].JobsDeleted != 1 {
		t.Errorf("gmail result = %+v", result.Services[0])
	}
	if result.Services[1].DocumentsDeleted != 3 {
		t.Errorf("drive result = %+v", result.Services[1])
	}
}

func TestDeleteUserData_NeverAborts(t *testing.T) {
	t.Parallel()
	content := &fakeContent{
		counts:  map[string]int{"gmail": 5, "slack": 7},
		failFor: map[string]bool{"drive": true},
	}
	c := New(content, &fakeJobs{queued: map[string]int{}, failFor: map[string]bool{}}, nil)

	result, err := c.DeleteUserData(t.Context(), DeleteUserDataParams{
		EmailToClear:    "jane@corp.example",
		ServicesToClear: []string{"gmail", "drive", "slack"},
	})
	if err != nil {
		t.Fatalf("a failing service must not abort the run: %v", err)
	}
	if !result.Failed() {
		t.Error("run must report the drive failure")
	}
	if result.Services[1].Error == "" {
		t.Errorf("drive result = %+v, want recorded error", result.Services[1])
	}
	// Services after the failure still run.
	if result.Services[2].DocumentsDeleted != 7 {
		t.Errorf("slack result = %+v", result.Services[2])
	}
}

func TestDeleteUserData_Idempotent(t *testing.T) {
	t.Parallel()
	content := &fakeContent{counts: map[string]int{"gmail": 4}, failFor: map[string]bool{}}
	jobs := &fakeJobs{queued: map[string]int{"gmail": 2}, failFor: map[string]bool{}}
	c := New(content, jobs, nil)

	p := DeleteUserDataParams{EmailToClear: "jane@corp.example", ServicesToClear: []string{"gmail"}, DeleteSyncJob: true}
	first, err := c.DeleteUserData(t.Context(), p)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.DeleteUserData(t.Context(), p)
	if err != nil {
		t.Fatal(err)
	}
	if first.Services[0].DocumentsDeleted != 4 || first.Services[0].JobsDeleted != 2 {
		t.Errorf("first run = %+v", first.Services[0])
	}
	if second.Services[0].DocumentsDeleted != 0 || second.Services[0].JobsDeleted != 0 {
		t.Errorf("second run = %+v, want no-op", second.Services[0])
	}
}

func TestDeleteUserData_DefaultsToAllServices(t *testing.T) {
	t.Parallel()
	content := &fakeContent{counts: map[string]int{}, failFor: map[string]bool{}}
	c := New(content, &fakeJobs{queued: map[string]int{}, failFor: map[string]bool{}}, nil)

	result, err := c.DeleteUserData(t.Context(), DeleteUserDataParams{EmailToClear: "jane@corp.example"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Services) != len(allServices) {
		t.Errorf("services = %d, want %d", len(result.Services), len(allServices))
	}
}

func TestDeleteUserData_RequiresEmail(t *testing.T) {
	t.Parallel()
	c := New(&fakeContent{}, &fakeJobs{}, nil)
	if _, err := c.DeleteUserData(t.Context(), DeleteUserDataParams{}); err == nil {
		t.Error("empty email must be rejected")
	}
}
