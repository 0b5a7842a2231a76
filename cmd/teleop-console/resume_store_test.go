package main

import (
	"context"
	"testing"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/config"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/resume"
)

func TestOpenResumeStore_Memory(t *testing.T) {
	store, closeStore, err := openResumeStore(context.Background(), config.Config{ResumeBackend: config.ResumeBackendMemory})
	if err != nil {
		t.Fatalf("openResumeStore: %v", err)
	}
	if _, ok := store.(*resume.MemoryStore); !ok {
		t.Fatalf("store=%T, want *resume.MemoryStore", store)
	}
	if err := closeStore(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
