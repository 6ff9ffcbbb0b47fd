package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireFetch_GlobalLimitBounds(t *testing.T) {
	s := New(2, 0)
	var active int32
	var maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			host := "a.example.com"
			if n%2 == 0 {
				host = "b.example.com"
			}
			release, err := s.AcquireFetch(context.Background(), host)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			cur := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if cur <= m || atomic.CompareAndSwapInt32(&maxActive, m, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}(i)
	}
	wg.Wait()
	if maxActive > 2 {
		t.Fatalf("expected at most 2 concurrent fetches, saw %d", maxActive)
	}
}

func TestAcquireFetch_SameDomainSerializes(t *testing.T) {
	s := New(8, 0)
	var active int32
	var overlapped bool
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := s.AcquireFetch(context.Background(), "same.example.com")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if atomic.AddInt32(&active, 1) > 1 {
				overlapped = true
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}()
	}
	wg.Wait()
	if overlapped {
		t.Fatalf("expected same-domain fetches to never overlap")
	}
}

func TestAcquireFetch_CooldownDelaysNextAcquire(t *testing.T) {
	cool := 80 * time.Millisecond
	s := New(4, cool)

	release1, err := s.AcquireFetch(context.Background(), "host.example.com")
	if err != nil {
		t.Fatalf("acquire1: %v", err)
	}
	releasedAt := time.Now()
	release1()

	start := time.Now()
	release2, err := s.AcquireFetch(context.Background(), "host.example.com")
	if err != nil {
		t.Fatalf("acquire2: %v", err)
	}
	elapsedSinceRelease := time.Since(releasedAt)
	if elapsedSinceRelease < cool {
		t.Fatalf("expected second acquire to wait out the cooldown, only waited %v (checked from %v)", elapsedSinceRelease, start)
	}
	release2()
}

func TestAcquireFetch_CancellationUnblocks(t *testing.T) {
	s := New(1, 0)
	release, err := s.AcquireFetch(context.Background(), "busy.example.com")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.AcquireFetch(ctx, "busy.example.com")
	if err == nil {
		t.Fatalf("expected cancellation error while global semaphore is held")
	}
}

func TestAcquirePDF_SerializesAcrossHosts(t *testing.T) {
	s := New(8, 0)
	var active int32
	var overlapped bool
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := s.AcquirePDF(context.Background())
			if err != nil {
				t.Errorf("acquire pdf: %v", err)
				return
			}
			if atomic.AddInt32(&active, 1) > 1 {
				overlapped = true
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}()
	}
	wg.Wait()
	if overlapped {
		t.Fatalf("expected PDF extraction to never run concurrently")
	}
}

func TestHost_LowercasesAndStripsPort(t *testing.T) {
	if got := Host("https://Example.COM:8443/a/b"); got != "example.com" {
		t.Fatalf("got %q", got)
	}
}
