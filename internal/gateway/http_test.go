package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPClientCreateLink(t *testing.T) {
	var gotKey, gotIdem string
	var gotBody createLinkBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payment-links" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("X-Api-Key")
		gotIdem = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"linkId":      "lnk_1",
			"checkoutUrl": "https://pay/lnk_1",
			"qrCode":      "QR",
			"amount":      gotBody.Amount,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "key-1", time.Second, 0, srv.Client())
	link, err := c.CreateLink(context.Background(), LinkRequest{TransactionID: 7, Attempt: 1, Amount: 150000, Description: "order"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if link.LinkID != "lnk_1" || link.URL != "https://pay/lnk_1" || link.Status != StatusPending {
		t.Fatalf("link=%+v", link)
	}
	if gotKey != "key-1" || gotIdem != "tx-7-1" || gotBody.Reference != "tx-7-1" || gotBody.Amount != 150000 {
		t.Fatalf("key=%q idem=%q body=%+v", gotKey, gotIdem, gotBody)
	}
}

func TestHTTPClientStatusErrors(t *testing.T) {
	tests := []struct {
		name          string
		code          int
		body          string
		wantStatus    LinkStatus
		wantErr       bool
		wantRetryable bool
		wantNotFound  bool
	}{
		{"paid", 200, `{"linkId":"l","status":"paid"}`, StatusPaid, false, false, false},
		{"unknown status", 200, `{"linkId":"l","status":"weird"}`, "", true, false, false},
		{"server error", 502, `upstream down`, "", true, true, false},
		{"throttled", 429, `slow down`, "", true, true, false},
		{"not found", 404, `{}`, "", true, false, true},
		{"bad request", 400, `bad`, "", true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.HasPrefix(r.URL.Path, "/v1/payment-links/") {
					t.Errorf("path=%s", r.URL.Path)
				}
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			c := NewHTTPClient(srv.URL, "", time.Second, 0, srv.Client())
			st, err := c.GetLinkStatus(context.Background(), "l")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v", err)
			}
			if st != tt.wantStatus {
				t.Fatalf("status=%q", st)
			}
			if err != nil {
				if IsRetryable(err) != tt.wantRetryable {
					t.Fatalf("retryable=%v err=%v", IsRetryable(err), err)
				}
				if errors.Is(err, ErrLinkNotFound) != tt.wantNotFound {
					t.Fatalf("not found mismatch: %v", err)
				}
			}
		})
	}
}

func TestHTTPClientTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewHTTPClient(srv.URL, "", 50*time.Millisecond, 0, srv.Client())
	start := time.Now()
	_, err := c.GetLinkStatus(context.Background(), "l")
	if err == nil || !IsRetryable(err) {
		t.Fatalf("err=%v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("call was not bounded")
	}
}

func TestHTTPClientRejectsNonPositiveAmount(t *testing.T) {
	c := NewHTTPClient("http://unused", "", time.Second, 0, nil)
	if _, err := c.CreateLink(context.Background(), LinkRequest{TransactionID: 1, Amount: 0}); err == nil {
		t.Fatalf("expected error")
	}
}
