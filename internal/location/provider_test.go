package location

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/models"
)

type fakeGeo struct {
	coords models.Coordinates
	err    error
	block  bool
	calls  int32
}

func (f *fakeGeo) Locate(ctx context.Context) (models.Coordinates, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block {
		<-ctx.Done()
		return models.Coordinates{}, ctx.Err()
	}
	return f.coords, f.err
}

func TestProvider_Refresh(t *testing.T) {
	geo := &fakeGeo{coords: models.Coordinates{Latitude: 28.61, Longitude: 77.2}}
	p := NewProvider(geo, time.Second, zap.NewNop())

	if p.Current() != nil {
		t.Error("expected no location before first refresh")
	}

	s := p.Refresh(context.Background())
	if s.Err != nil || s.Loading {
		t.Fatalf("unexpected state %+v", s)
	}
	loc, ok := p.Current().(models.Coordinates)
	if !ok || loc.Latitude != 28.61 {
		t.Errorf("unexpected current location %v", p.Current())
	}
}

func TestProvider_KeepsLastFixWhileLoading(t *testing.T) {
	geo := &fakeGeo{coords: models.Coordinates{Latitude: 19.07, Longitude: 72.87}}
	p := NewProvider(geo, time.Second, zap.NewNop())
	p.Refresh(context.Background())

	geo.block = true
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Refresh(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for !p.State().Loading {
		if time.Now().After(deadline) {
			t.Fatal("refresh never entered loading state")
		}
		time.Sleep(time.Millisecond)
	}

	loc, ok := p.Current().(models.Coordinates)
	if !ok || loc.Latitude != 19.07 {
		t.Errorf("expected previous fix while loading, got %v", p.Current())
	}

	cancel()
	<-done
}

func TestProvider_NoFixWhileFirstLoad(t *testing.T) {
	geo := &fakeGeo{block: true}
	p := NewProvider(geo, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Refresh(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for !p.State().Loading {
		if time.Now().After(deadline) {
			t.Fatal("refresh never entered loading state")
		}
		time.Sleep(time.Millisecond)
	}
	if p.Current() != nil {
		t.Errorf("expected no location before any fix, got %v", p.Current())
	}

	cancel()
	<-done
}

func TestProvider_ReplacesStateOnFailure(t *testing.T) {
	geo := &fakeGeo{coords: models.Coordinates{Latitude: 1, Longitude: 2}}
	p := NewProvider(geo, time.Second, zap.NewNop())
	p.Refresh(context.Background())

	before := p.State()
	geo.err = errors.New("permission denied")
	p.Refresh(context.Background())

	if p.Current() != nil {
		t.Error("expected no location after a failed refresh")
	}
	if before.Coordinates == nil || before.Coordinates.Latitude != 1 {
		t.Error("earlier snapshot must not change")
	}
	if p.State().Err == nil {
		t.Error("expected error recorded")
	}
}

func TestProvider_Timeout(t *testing.T) {
	p := NewProvider(&fakeGeo{block: true}, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	s := p.Refresh(context.Background())
	if time.Since(start) > time.Second {
		t.Error("refresh did not honour its timeout")
	}
	if !errors.Is(s.Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", s.Err)
	}
}

func TestProvider_InvalidCoordinates(t *testing.T) {
	p := NewProvider(&fakeGeo{coords: models.Coordinates{Latitude: 200}}, time.Second, zap.NewNop())
	s := p.Refresh(context.Background())
	if !errors.Is(s.Err, models.ErrInvalidLocation) {
		t.Errorf("expected invalid location, got %v", s.Err)
	}
}

func TestProvider_Unsupported(t *testing.T) {
	p := NewProvider(nil, 0, zap.NewNop())
	s := p.Refresh(context.Background())
	if s.Enabled || !errors.Is(s.Err, ErrUnsupported) {
		t.Errorf("unexpected state %+v", s)
	}
	if p.Current() != nil {
		t.Error("expected nil location")
	}
}

func TestProvider_StartRefreshesPeriodically(t *testing.T) {
	geo := &fakeGeo{coords: models.Coordinates{Latitude: 1, Longitude: 1}}
	p := NewProvider(geo, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&geo.calls) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected repeated refreshes, got %d", atomic.LoadInt32(&geo.calls))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIPGeolocator(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    models.Coordinates
		wantErr bool
	}{
		{"latitude fields", 200, `{"latitude":19.07,"longitude":72.87}`, models.Coordinates{Latitude: 19.07, Longitude: 72.87}, false},
		{"lat lon fields", 200, `{"lat":12.97,"lon":77.59}`, models.Coordinates{Latitude: 12.97, Longitude: 77.59}, false},
		{"error flag", 200, `{"error":true,"reason":"RateLimited"}`, models.Coordinates{}, true},
		{"missing position", 200, `{"city":"Pune"}`, models.Coordinates{}, true},
		{"bad status", 503, ``, models.Coordinates{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewIPGeolocator(srv.URL).Locate(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
