package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDetectorContentMode(t *testing.T) {
	d := NewDetector(nil)
	if got := d.Detect(context.Background(), v4Doc, true); got != V4 {
		t.Errorf("Detect(content) = %v, want V4", got)
	}
}

func TestDetectorMetadataProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/Service.svc/$metadata" {
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(v3Doc))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	d := NewDetector(server.Client())
	if got := d.Detect(context.Background(), server.URL+"/Service.svc/Products", false); got != V3 {
		t.Errorf("Detect() = %v, want V3", got)
	}
}

func TestDetectorFallbackStrategies(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    Version
	}{
		{
			name: "odata-version header",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("OData-Version", "4.0")
				_, _ = w.Write([]byte(`{}`))
			},
			want: V4,
		},
		{
			name: "v4 json shape",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"@odata.context":"$metadata#Products","value":[]}`))
			},
			want: V4,
		},
		{
			name: "v2 json shape",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"d":{"results":[]}}`))
			},
			want: V2,
		},
		{
			name: "atom namespace",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<feed xmlns:d="http://schemas.microsoft.com/ado/2007/08/dataservices"></feed>`))
			},
			want: V2,
		},
		{
			name: "unrecognized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`hello`))
			},
			want: Unknown,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/api/$metadata" {
					http.NotFound(w, r)
					return
				}
				tt.handler(w, r)
			}))
			defer server.Close()

			d := NewDetector(server.Client())
			if got := d.Detect(context.Background(), server.URL+"/api", false); got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectorUnreachable(t *testing.T) {
	d := NewDetector(&http.Client{Timeout: time.Second})
	if got := d.Detect(context.Background(), "http://127.0.0.1:1/none", false); got != Unknown {
		t.Errorf("Detect() = %v, want Unknown", got)
	}
	if got := d.Detect(context.Background(), "::not a url::", false); got != Unknown {
		t.Errorf("Detect() = %v, want Unknown", got)
	}
}

func TestDetectorHonorsCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	d := NewDetector(server.Client())
	if got := d.Detect(ctx, server.URL, false); got != Unknown {
		t.Errorf("Detect() = %v, want Unknown", got)
	}
}

func TestFromHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("DataServiceVersion", "3.0;")
	if got := FromHeaders(h); got != V3 {
		t.Errorf("FromHeaders() = %v, want V3", got)
	}
	h.Set("DataServiceVersion", "1.0")
	if got := FromHeaders(h); got != V2 {
		t.Errorf("FromHeaders() = %v, want V2", got)
	}
	if got := FromHeaders(http.Header{}); got != Unknown {
		t.Errorf("FromHeaders() = %v, want Unknown", got)
	}
}
