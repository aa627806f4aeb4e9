package storage

import "testing"

func TestDownloadURL(t *testing.T) {
	got := DownloadURL("demo.appspot.com", "proofs/12/a b.jpg", "tok")
	want := "https://firebasestorage.googleapis.com/v0/b/demo.appspot.com/o/proofs%2F12%2Fa%20b.jpg?alt=media&token=tok"
	if got != want {
		t.Fatalf("got=%s\nwant=%s", got, want)
	}
}
