package sshexec

import (
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSanitizeMount(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"valid absolute path", "/var/lib/postgresql/data", false},
		{"root", "/", false},
		{"not absolute", "var/lib/postgresql", true},
		{"empty", "", true},
		{"parent traversal", "/var/../etc", true},
		{"disallowed characters", "/var/lib; rm -rf /", true},
		{"disallowed shell metacharacter", "/var/$(whoami)", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sanitizeMount(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("sanitizeMount(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.path {
				t.Errorf("sanitizeMount(%q) = %q, want unchanged", tt.path, got)
			}
		})
	}
}

func TestParseDf(t *testing.T) {
	out := "Filesystem     1B-blocks       Used   Available Use% Mounted on\n" +
		"/dev/sda1    107321753600 42735738880 59141152768  42% /\n"

	free, total, err := parseDf(out)
	if err != nil {
		t.Fatalf("parseDf() error = %v", err)
	}
	if total != 107321753600 {
		t.Errorf("parseDf() total = %d, want 107321753600", total)
	}
	if free != 59141152768 {
		t.Errorf("parseDf() free = %d, want 59141152768", free)
	}
}

func TestParseDfMissingDataLine(t *testing.T) {
	if _, _, err := parseDf("Filesystem     1B-blocks       Used   Available Use% Mounted on\n"); err == nil {
		t.Error("parseDf() with header only error = nil, want error")
	}
}

func TestParseDfMalformedLine(t *testing.T) {
	out := "Filesystem     1B-blocks       Used   Available Use% Mounted on\n" +
		"/dev/sda1    not-a-number\n"
	if _, _, err := parseDf(out); err == nil {
		t.Error("parseDf() with malformed fields error = nil, want error")
	}
}

func TestExecutorCachePutGet(t *testing.T) {
	e := NewExecutor(zap.NewNop(), false, nil)

	e.cachePut("host1:22", 100, 200)
	v, ok := e.cacheGet("host1:22")
	if !ok {
		t.Fatal("cacheGet() ok = false immediately after cachePut()")
	}
	if v.free != 100 || v.total != 200 {
		t.Errorf("cacheGet() = %+v, want free=100 total=200", v)
	}

	if _, ok := e.cacheGet("never-put"); ok {
		t.Error("cacheGet() for an absent key returned ok = true")
	}
}

func TestExecutorCacheExpiry(t *testing.T) {
	e := NewExecutor(zap.NewNop(), false, nil)

	e.mu.Lock()
	e.cache["expired"] = cacheEntry{free: 1, total: 2, expires: time.Now().Add(-time.Second)}
	e.cacheOrder = append(e.cacheOrder, "expired")
	e.mu.Unlock()

	if _, ok := e.cacheGet("expired"); ok {
		t.Error("cacheGet() returned ok = true for an already-expired entry")
	}
}

func TestExecutorCacheLRUEviction(t *testing.T) {
	e := NewExecutor(zap.NewNop(), false, nil)

	// Fill past cacheMaxSize and confirm the oldest entry is evicted first.
	for i := 0; i < cacheMaxSize+1; i++ {
		key := "host-" + strconv.Itoa(i)
		e.cachePut(key, int64(i), int64(i))
	}

	e.mu.Lock()
	size := len(e.cache)
	_, oldestKept := e.cache["host-0"]
	e.mu.Unlock()

	if size != cacheMaxSize {
		t.Errorf("cache size after overflow = %d, want %d", size, cacheMaxSize)
	}
	if oldestKept {
		t.Error("oldest entry host-0 still cached after overflow, want it evicted first")
	}
}
