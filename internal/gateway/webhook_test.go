package gateway

import (
	"testing"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"linkId":"plink_1_1","status":"paid"}`)
	sig := Sign("s3cret", body)

	tests := []struct {
		name    string
		secret  string
		sig     string
		body    []byte
		wantErr bool
	}{
		{"valid", "s3cret", sig, body, false},
		{"valid with prefix", "s3cret", "sha256=" + sig, body, false},
		{"wrong secret", "other", sig, body, true},
		{"tampered body", "s3cret", sig, []byte(`{"linkId":"plink_1_1","status":"paid "}`), true},
		{"not hex", "s3cret", "zz", body, true},
		{"no secret configured", "", sig, body, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.secret, tt.body, tt.sig)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestParseWebhook(t *testing.T) {
	ev, err := ParseWebhook([]byte(`{"linkId":"abc","reference":"tx-1-1","status":"paid"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.LinkID != "abc" || ev.Status != StatusPaid {
		t.Fatalf("ev=%+v", ev)
	}
	if _, err := ParseWebhook([]byte(`{"status":"paid"}`)); err == nil {
		t.Fatalf("missing link id should fail")
	}
	if _, err := ParseWebhook([]byte(`nope`)); err == nil {
		t.Fatalf("bad json should fail")
	}
}
